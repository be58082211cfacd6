// Package moderation holds the lock and pin rules for group conversations.
//
// A group is either Unlocked or Locked. Only privileged actors (global admins,
// group admins and the company owner) may flip the state or move the single
// pin slot. While Locked, only privileged actors may send.
package moderation

import (
	"tripchat/internal/models"
)

// State is the lock state of a group conversation.
type State string

const (
	Unlocked State = "unlocked"
	Locked   State = "locked"
)

// Actor is a requester and the capability the auth provider granted it.
type Actor struct {
	UserID        uint
	IsGlobalAdmin bool
}

// StateOf returns the lock state of conv.
func StateOf(conv *models.Conversation) State {
	if conv.IsLocked {
		return Locked
	}
	return Unlocked
}

// Next is the state a toggle moves to.
func (s State) Next() State {
	if s == Locked {
		return Unlocked
	}
	return Locked
}

// Privileged reports whether a may moderate conv.
func Privileged(conv *models.Conversation, a Actor) bool {
	if a.IsGlobalAdmin || conv.IsCompanyOwner(a.UserID) {
		return true
	}
	p, ok := conv.Participant(a.UserID)
	return ok && p.Role == models.RoleAdmin
}

// Authorize gates a lock or pin transition on conv.
func Authorize(conv *models.Conversation, a Actor) error {
	if !conv.IsGroup() {
		return models.NewValidationError("moderation applies to group conversations only")
	}
	if !Privileged(conv, a) {
		return models.NewForbiddenError("only group admins can moderate this conversation")
	}
	return nil
}

// CanSend gates a message send. conv must have its participants loaded.
func CanSend(conv *models.Conversation, a Actor) error {
	if _, ok := conv.Participant(a.UserID); !ok {
		return models.NewForbiddenError("you are not a participant in this conversation")
	}
	if conv.IsGroup() && conv.IsLocked && !Privileged(conv, a) {
		return models.NewForbiddenError("this group is locked")
	}
	return nil
}

// CanPin checks that messageID belongs to conv before it takes the pin slot.
func CanPin(conv *models.Conversation, msg *models.Message) error {
	if msg.ConversationID != conv.ID {
		return models.NewValidationError("message does not belong to this conversation")
	}
	return nil
}
