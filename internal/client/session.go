package client

import (
	"context"
	"time"

	"tripchat/internal/events"
	"tripchat/internal/models"
	"tripchat/internal/reconcile"

	"github.com/cenkalti/backoff/v5"
)

func (m *Manager) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) requestResync() {
	select {
	case m.resync <- struct{}{}:
	default:
	}
}

func (m *Manager) setState(s State) {
	prev := State(m.state.Swap(int32(s)))
	if prev != s {
		m.log.Debug("session state", "from", prev.String(), "to", s.String())
	}
}

func (m *Manager) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.Backoff.Initial
	b.MaxInterval = m.opts.Backoff.Max
	b.Multiplier = m.opts.Backoff.Multiplier
	b.Reset()
	return b
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	defer m.setState(Disconnected)

	reconnect := m.newBackoff()
	for {
		m.setState(Connecting)
		conn, err := m.opts.Transport.Dial(ctx)
		if err == nil {
			reconnect.Reset()
			m.setState(Connected)
			err = m.session(ctx, conn)
			m.detach(conn)
		}
		if ctx.Err() != nil {
			return
		}

		m.setState(Failed)
		wait := reconnect.NextBackOff()
		m.log.Warn("session lost", "error", models.NewConnectionLostError(err), "retry_in", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Manager) detach(conn Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.subscribed = make(map[string]bool)
	m.mu.Unlock()
	_ = conn.Close()
}

// session drives one connection: subscribe, refresh snapshots, flush the
// outbox, then apply frames until the connection fails.
func (m *Manager) session(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.conn = conn
	m.subscribed = make(map[string]bool)
	m.mu.Unlock()

	frames := make(chan events.Frame)
	recvErr := make(chan error, 1)
	go func() {
		for {
			f, err := conn.Recv(ctx)
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	if _, err := m.syncTopics(ctx, conn); err != nil {
		return err
	}
	m.refresh(ctx)

	flushRetry := m.newBackoff()
	var retry <-chan time.Time
	flush := func() {
		if m.flush(ctx) {
			flushRetry.Reset()
			retry = nil
			return
		}
		retry = time.After(flushRetry.NextBackOff())
	}
	flush()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-recvErr:
			return err
		case f := <-frames:
			m.handleFrame(ctx, f)
		case <-m.wake:
			opened, err := m.syncTopics(ctx, conn)
			if err != nil {
				return err
			}
			if opened != 0 {
				m.loadMessages(ctx, opened)
			}
			flush()
		case <-retry:
			flush()
		case <-m.resync:
			m.refresh(ctx)
		}
	}
}

func (m *Manager) topicSetLocked() []string {
	topics := []string{events.NotificationsTopic(m.opts.UserID), events.InboxTopic(m.opts.UserID)}
	if m.activeTopic != "" {
		topics = append(topics, m.activeTopic)
	}
	return topics
}

// syncTopics brings the connection's subscriptions in line with the topic
// set. Topics leave the local set before the unsubscribe frame is written,
// so nothing that arrives for them afterwards is applied. It returns the
// open conversation if its topic was newly subscribed.
func (m *Manager) syncTopics(ctx context.Context, conn Conn) (uint, error) {
	m.mu.Lock()
	want := make(map[string]bool)
	var subscribe, unsubscribe []string
	for _, t := range m.topicSetLocked() {
		want[t] = true
		if !m.subscribed[t] {
			m.subscribed[t] = true
			subscribe = append(subscribe, t)
		}
	}
	for t := range m.subscribed {
		if !want[t] {
			delete(m.subscribed, t)
			unsubscribe = append(unsubscribe, t)
		}
	}
	active, activeTopic := m.active, m.activeTopic
	m.mu.Unlock()

	for _, t := range unsubscribe {
		if err := conn.Send(ctx, events.ClientAction{Action: events.ActionUnsubscribe, Topic: t}); err != nil {
			return 0, err
		}
	}
	var opened uint
	for _, t := range subscribe {
		if err := conn.Send(ctx, events.ClientAction{Action: events.ActionSubscribe, Topic: t}); err != nil {
			return 0, err
		}
		if t == activeTopic {
			opened = active
		}
	}
	return opened, nil
}

func (m *Manager) isSubscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribed[topic]
}

// refresh re-reads every snapshot the view depends on. Items found here
// were missed while disconnected or are history; neither raises an effect.
func (m *Manager) refresh(ctx context.Context) {
	if convs, err := m.opts.API.Conversations(ctx); err != nil {
		m.log.Warn("conversation snapshot failed", "error", err)
	} else {
		summaries := make([]reconcile.Summary, 0, len(convs))
		m.mu.Lock()
		for _, c := range convs {
			m.kinds[c.ID] = c.Kind
			m.moderation[c.ID] = Moderation{IsLocked: c.IsLocked, PinnedMessageID: c.PinnedMessageID}
			if c.LastMessageID != 0 {
				m.announced[c.LastMessageID] = struct{}{}
			}
			summaries = append(summaries, reconcile.Summary{
				ConversationID: c.ID,
				Kind:           c.Kind,
				Name:           c.Name,
				LastMessage:    c.LastMessage,
				LastMessageAt:  c.LastMessageAt,
				LastMessageID:  c.LastMessageID,
				UnreadCount:    c.UnreadCount,
			})
		}
		m.mu.Unlock()
		m.inbox.ApplySnapshot(summaries)
	}

	if active := m.Active(); active != 0 {
		m.loadMessages(ctx, active)
	}

	if items, err := m.opts.API.Notifications(ctx, m.opts.NotificationWindow); err != nil {
		m.log.Warn("notification snapshot failed", "error", err)
	} else {
		m.notes.ApplySnapshot(items)
	}
}

func (m *Manager) loadMessages(ctx context.Context, conversationID uint) {
	msgs, err := m.opts.API.Messages(ctx, conversationID, m.opts.MessagePage)
	if err != nil {
		m.log.Warn("message snapshot failed", "conversation_id", conversationID, "error", err)
		return
	}
	tl, ok := m.Timeline(conversationID)
	if !ok {
		return
	}
	m.mu.Lock()
	for _, msg := range msgs {
		m.announced[msg.ID] = struct{}{}
	}
	m.mu.Unlock()
	tl.ApplySnapshot(msgs)
	m.markRead(ctx, conversationID)
}

func (m *Manager) markRead(ctx context.Context, conversationID uint) {
	var last uint
	if tl, ok := m.Timeline(conversationID); ok {
		if msg, ok := tl.Last(); ok {
			last = msg.ID
		}
	}
	m.inbox.MarkRead(conversationID, last)
	if err := m.opts.API.MarkRead(ctx, conversationID); err != nil {
		m.log.Warn("mark read failed", "conversation_id", conversationID, "error", err)
	}
}

// flush delivers queued sends in order. It stops at the first retryable
// failure so later sends never overtake it, and reports whether the
// outbox was drained.
func (m *Manager) flush(ctx context.Context) bool {
	items, err := m.outbox.List()
	if err != nil {
		m.log.Error("read outbox failed", "error", err)
		return false
	}
	for _, p := range items {
		msg, err := m.opts.API.SendMessage(ctx, p.ConversationID, p.request())
		if err != nil {
			if models.Retryable(err) {
				m.log.Info("send deferred", "conversation_id", p.ConversationID, "client_token", p.ClientToken, "error", err)
				return false
			}
			m.log.Warn("send rejected", "conversation_id", p.ConversationID, "client_token", p.ClientToken, "error", err)
			if err := m.outbox.Remove(p.ClientToken); err != nil {
				m.log.Error("remove from outbox failed", "error", err)
				return false
			}
			if tl, ok := m.Timeline(p.ConversationID); ok {
				tl.DropPending(p.ClientToken)
			}
			m.emit(Effect{Kind: EffectSendFailed, ConversationID: p.ConversationID, ClientToken: p.ClientToken, Err: err})
			continue
		}

		if err := m.outbox.Remove(p.ClientToken); err != nil {
			m.log.Error("remove from outbox failed", "error", err)
			return false
		}
		m.mu.Lock()
		m.announced[msg.ID] = struct{}{}
		m.mu.Unlock()
		if tl, ok := m.Timeline(p.ConversationID); ok {
			tl.Insert(msg)
		}
	}
	return true
}

func (m *Manager) handleFrame(ctx context.Context, f events.Frame) {
	if f.Control != nil {
		switch f.Control.Control {
		case events.ControlMessagesDropped:
			m.log.Warn("gateway dropped frames, resyncing", "reason", f.Control.Reason)
			m.requestResync()
		case events.ControlError:
			m.log.Warn("gateway error", "topic", f.Control.Topic, "reason", f.Control.Reason)
			if f.Control.Topic != "" {
				m.mu.Lock()
				delete(m.subscribed, f.Control.Topic)
				m.mu.Unlock()
			}
		}
		return
	}
	if f.Event == nil {
		return
	}
	env := *f.Event
	if !m.isSubscribed(env.Topic) {
		return
	}
	ev, err := env.Decode()
	if err != nil {
		m.log.Warn("undecodable event", "topic", env.Topic, "event", env.EventName, "error", err)
		return
	}
	m.apply(ctx, ev)
}

func (m *Manager) apply(ctx context.Context, ev events.Event) {
	me := m.opts.UserID
	switch e := ev.(type) {
	case events.NewMessage:
		active := m.Active()
		if tl, ok := m.Timeline(e.ConversationID); ok {
			tl.Insert(e.Message)
		}
		if e.SenderID == me {
			return
		}
		if e.ConversationID == active {
			if m.announce(e.ConversationID, e.ID) {
				m.markRead(ctx, e.ConversationID)
			}
			return
		}
		m.inbox.BumpUnread(e.Message)
		m.announce(e.ConversationID, e.ID)

	case events.UpdateConversation:
		m.rememberKind(e.ConversationID, e.Kind)
		m.inbox.ApplyUpdate(e)
		if e.ConversationID == m.Active() {
			m.inbox.MarkRead(e.ConversationID, e.LastMessageID)
			return
		}
		if e.LastSenderID != 0 && e.LastSenderID != me {
			m.announce(e.ConversationID, e.LastMessageID)
		}

	case events.MessagesRead:
		if tl, ok := m.Timeline(e.ConversationID); ok {
			tl.ApplyRead(e)
		}
		if e.ReaderID == me {
			m.inbox.MarkRead(e.ConversationID, e.LastReadMessageID)
		}

	case events.MessageReaction:
		if tl, ok := m.Timeline(e.ConversationID); ok {
			tl.ApplyReaction(e)
		}

	case events.LockUpdate:
		m.mu.Lock()
		mod := m.moderation[e.ConversationID]
		mod.IsLocked = e.IsLocked
		m.moderation[e.ConversationID] = mod
		m.mu.Unlock()

	case events.PinnedUpdate:
		m.mu.Lock()
		mod := m.moderation[e.ConversationID]
		mod.PinnedMessageID = e.PinnedMessageID
		m.moderation[e.ConversationID] = mod
		m.mu.Unlock()

	case events.Typing:
		if e.UserID != me {
			m.typing.Apply(e)
		}

	case events.Notification:
		if m.notes.Apply(e) && !e.IsRead {
			m.emit(Effect{Kind: EffectNotification, NotificationID: e.ID})
		}
	}
}

func (m *Manager) rememberKind(conversationID uint, kind string) {
	if kind == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kinds[conversationID] = kind
}

// announce emits a new-message effect the first time a message ID is seen.
func (m *Manager) announce(conversationID, messageID uint) bool {
	if messageID == 0 {
		return false
	}
	m.mu.Lock()
	if _, seen := m.announced[messageID]; seen {
		m.mu.Unlock()
		return false
	}
	m.announced[messageID] = struct{}{}
	m.mu.Unlock()
	m.emit(Effect{Kind: EffectNewMessage, ConversationID: conversationID, MessageID: messageID})
	return true
}

func (m *Manager) emit(e Effect) {
	select {
	case m.effects <- e:
	default:
		m.log.Warn("effect buffer full, dropping", "kind", e.Kind)
	}
}
