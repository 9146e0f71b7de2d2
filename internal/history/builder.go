// Package history rebuilds a canonical conversation into the upstream's
// conversation state: one current message plus alternating user/assistant
// history entries.
package history

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	"kiro-relay/internal/models"
)

// ErrEmptyConversation indicates a request without any turns.
var ErrEmptyConversation = errors.New("conversation must contain at least one message")

// IDSource produces continuation identifiers.
type IDSource interface {
	ContinuationID() string
}

// UUIDSource generates identifiers from random UUIDs.
type UUIDSource struct{}

func (UUIDSource) ContinuationID() string {
	return "agent-" + uuid.NewString()
}

// NewConversationID returns a fresh session identifier.
func NewConversationID() string {
	return "conv-" + uuid.NewString()
}

// Build converts req into the upstream conversation state. The last turn
// becomes the current message; everything before it is paired into history.
func Build(req models.CanonicalRequest, internalModelID, conversationID string, ids IDSource) (models.ConversationState, error) {
	if len(req.Turns) == 0 {
		return models.ConversationState{}, ErrEmptyConversation
	}
	if ids == nil {
		ids = UUIDSource{}
	}

	current := req.Turns[len(req.Turns)-1]
	history := make([]models.HistoryEntry, 0, len(req.Turns)+1)

	if req.System != "" {
		history = append(history,
			models.UserEntry(req.System, internalModelID),
			models.AssistantEntry(models.SystemAcknowledged),
		)
	}

	var pending []string
	for _, turn := range req.Turns[:len(req.Turns)-1] {
		switch turn.Role {
		case models.RoleUser:
			pending = append(pending, turn.Content)
		case models.RoleAssistant:
			if len(pending) == 0 {
				continue
			}
			if merged := joinNonEmpty(pending); merged != "" {
				history = append(history,
					models.UserEntry(merged, internalModelID),
					models.AssistantEntry(turn.Content),
				)
			}
			pending = nil
		}
	}

	if len(pending) > 0 && current.Role != models.RoleUser {
		if merged := joinNonEmpty(pending); merged != "" {
			history = append(history, models.UserEntry(merged, internalModelID))
		}
	}

	return models.ConversationState{
		AgentContinuationID: ids.ContinuationID(),
		AgentTaskType:       models.AgentTaskTypeVibe,
		ChatTriggerType:     models.ChatTriggerManual,
		CurrentMessage: models.CurrentMessage{
			UserInputMessage: models.NewUserInput(current.Content, internalModelID),
		},
		ConversationID: conversationID,
		History:        history,
	}, nil
}

func joinNonEmpty(parts []string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}
