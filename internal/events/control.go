package events

import "encoding/json"

// Control frames travel on the same socket as envelopes but are not bus events.
const (
	ControlSubscribed      = "subscribed"
	ControlUnsubscribed    = "unsubscribed"
	ControlMessagesDropped = "messages_dropped"
	ControlError           = "error"
)

// Control is a gateway-to-client control frame.
type Control struct {
	Control string `json:"control"`
	Topic   string `json:"topic,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Marshal returns the JSON frame for the control message.
func (c Control) Marshal() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Frame is any server-to-client frame: either a control message or an envelope.
type Frame struct {
	Control *Control
	Event   *Envelope
}

// ParseFrame distinguishes control frames from envelopes.
func ParseFrame(raw []byte) (Frame, error) {
	var probe struct {
		Control string `json:"control"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Control != "" {
		var c Control
		if err := json.Unmarshal(raw, &c); err != nil {
			return Frame{}, err
		}
		return Frame{Control: &c}, nil
	}
	env, err := Parse(raw)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: &env}, nil
}

// ClientAction is a client-to-gateway frame.
type ClientAction struct {
	Action         string `json:"action"`
	Topic          string `json:"topic,omitempty"`
	ConversationID uint   `json:"conversationId,omitempty"`
	IsTyping       bool   `json:"isTyping,omitempty"`
}

// Client actions understood by the gateway.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionTyping      = "typing"
)
