package events

import (
	"fmt"
	"strconv"
	"strings"

	"tripchat/internal/models"
)

// TopicKind is the prefix of a topic name.
type TopicKind string

const (
	TopicNotifications TopicKind = "notifications"
	TopicInbox         TopicKind = "direct-inbox"
	TopicDirect        TopicKind = "dm"
	TopicGroup         TopicKind = "group"
)

// NotificationsTopic is the per-user notification stream.
func NotificationsTopic(userID uint) string {
	return topic(TopicNotifications, userID)
}

// InboxTopic carries conversation summaries for one user.
func InboxTopic(userID uint) string {
	return topic(TopicInbox, userID)
}

// DirectTopic is the topic of a direct conversation.
func DirectTopic(conversationID uint) string {
	return topic(TopicDirect, conversationID)
}

// GroupTopic is the topic of a group conversation.
func GroupTopic(groupID uint) string {
	return topic(TopicGroup, groupID)
}

// ConversationTopic returns the topic for a conversation of the given kind.
func ConversationTopic(kind models.ConversationKind, id uint) string {
	if kind == models.ConversationGroup {
		return GroupTopic(id)
	}
	return DirectTopic(id)
}

// ParseTopic splits a topic into its kind and numeric id.
func ParseTopic(t string) (TopicKind, uint, error) {
	prefix, rawID, ok := strings.Cut(t, ":")
	if !ok {
		return "", 0, fmt.Errorf("topic %q: missing id", t)
	}
	kind := TopicKind(prefix)
	switch kind {
	case TopicNotifications, TopicInbox, TopicDirect, TopicGroup:
	default:
		return "", 0, fmt.Errorf("topic %q: unknown kind", t)
	}
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil || id == 0 {
		return "", 0, fmt.Errorf("topic %q: invalid id", t)
	}
	return kind, uint(id), nil
}

// IsConversation reports whether the kind names a conversation topic.
func (k TopicKind) IsConversation() bool {
	return k == TopicDirect || k == TopicGroup
}

func topic(kind TopicKind, id uint) string {
	return string(kind) + ":" + strconv.FormatUint(uint64(id), 10)
}
