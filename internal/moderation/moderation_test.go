package moderation

import (
	"testing"

	"tripchat/internal/models"

	"github.com/stretchr/testify/assert"
)

func group(locked bool) *models.Conversation {
	owner := uint(1)
	return &models.Conversation{
		ID:             10,
		Kind:           models.ConversationGroup,
		IsLocked:       locked,
		CompanyOwnerID: &owner,
		Participants: []models.ConversationParticipant{
			{UserID: 1, Role: models.RoleMember},
			{UserID: 2, Role: models.RoleAdmin},
			{UserID: 3, Role: models.RoleMember},
		},
	}
}

func TestState(t *testing.T) {
	assert.Equal(t, Unlocked, StateOf(group(false)))
	assert.Equal(t, Locked, StateOf(group(true)))
	assert.Equal(t, Locked, Unlocked.Next())
	assert.Equal(t, Unlocked, Locked.Next())
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name  string
		conv  *models.Conversation
		actor Actor
		code  string
	}{
		{"company owner", group(false), Actor{UserID: 1}, ""},
		{"group admin", group(false), Actor{UserID: 2}, ""},
		{"global admin outside the group", group(false), Actor{UserID: 99, IsGlobalAdmin: true}, ""},
		{"plain member", group(false), Actor{UserID: 3}, models.CodeForbidden},
		{"stranger", group(false), Actor{UserID: 99}, models.CodeForbidden},
		{"direct conversation", &models.Conversation{Kind: models.ConversationDirect}, Actor{UserID: 1, IsGlobalAdmin: true}, models.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.conv, tt.actor)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, models.IsCode(err, tt.code), "got %v", err)
			assert.False(t, models.Retryable(err))
		})
	}
}

func TestCanSend(t *testing.T) {
	tests := []struct {
		name   string
		locked bool
		actor  Actor
		code   string
	}{
		{"member in unlocked group", false, Actor{UserID: 3}, ""},
		{"member in locked group", true, Actor{UserID: 3}, models.CodeForbidden},
		{"owner in locked group", true, Actor{UserID: 1}, ""},
		{"group admin in locked group", true, Actor{UserID: 2}, ""},
		{"non participant", false, Actor{UserID: 42}, models.CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CanSend(group(tt.locked), tt.actor)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, models.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestCanPin(t *testing.T) {
	conv := group(false)
	assert.NoError(t, CanPin(conv, &models.Message{ConversationID: conv.ID}))
	assert.True(t, models.IsCode(CanPin(conv, &models.Message{ConversationID: 11}), models.CodeValidation))
}
