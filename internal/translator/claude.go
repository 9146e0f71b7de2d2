package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"kiro-relay/internal/models"
)

// MessagesRequest models the Dialect A (/v1/messages) payload.
type MessagesRequest struct {
	Model     string
	MaxTokens int
	Messages  []Message
	System    string
	Stream    bool
}

// Message is a single Dialect A turn with its content already flattened.
type Message struct {
	Role    string
	Content string
}

// UnmarshalJSON enforces validation and normalises fields.
func (r *MessagesRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model     string          `json:"model"`
		MaxTokens *int            `json:"max_tokens"`
		Messages  []Message       `json:"messages"`
		System    json.RawMessage `json:"system"`
		Stream    bool            `json:"stream"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: decode messages request: %v", ErrInvalidRequest, err)
	}

	system, err := parseSystem(raw.System)
	if err != nil {
		return err
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = raw.Messages
	r.System = system
	r.Stream = raw.Stream
	if raw.MaxTokens != nil {
		r.MaxTokens = *raw.MaxTokens
	}

	return r.validate()
}

func (r *MessagesRequest) validate() error {
	if r.Model == "" {
		return errEmptyModel
	}
	if len(r.Messages) == 0 {
		return errEmptyMessages
	}
	return nil
}

// ToCanonical converts the request into the canonical format. Roles other
// than user and assistant are dropped.
func (r MessagesRequest) ToCanonical() models.CanonicalRequest {
	turns := make([]models.Turn, 0, len(r.Messages))
	for _, m := range r.Messages {
		switch m.Role {
		case models.RoleUser, models.RoleAssistant:
			turns = append(turns, models.Turn{Role: m.Role, Content: m.Content})
		}
	}

	return models.CanonicalRequest{
		Model:     r.Model,
		Turns:     turns,
		System:    r.System,
		MaxTokens: r.MaxTokens,
		Stream:    r.Stream,
	}
}

// UnmarshalJSON flattens string or block content.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: decode message: %v", ErrInvalidRequest, err)
	}

	content, err := flattenContent(raw.Content)
	if err != nil {
		return err
	}

	m.Role = strings.TrimSpace(raw.Role)
	m.Content = content
	return nil
}

// MessageResponse models the Dialect A response payload.
type MessageResponse struct {
	ID           string      `json:"id"`
	Type         string      `json:"type"`
	Role         string      `json:"role"`
	Content      []TextBlock `json:"content"`
	Model        string      `json:"model"`
	StopReason   string      `json:"stop_reason"`
	StopSequence *string     `json:"stop_sequence"`
	Usage        ClaudeUsage `json:"usage"`
}

// TextBlock represents a text content block in the response.
type TextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ClaudeUsage mirrors the Dialect A usage block.
type ClaudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

const (
	stopReasonEndTurn   = "end_turn"
	stopReasonMaxTokens = "max_tokens"
)

func renderClaude(c models.Completion, ids ResponseIDs) MessageResponse {
	stopReason := stopReasonEndTurn
	if c.Truncated {
		stopReason = stopReasonMaxTokens
	}

	return MessageResponse{
		ID:   ids.MessageID(),
		Type: "message",
		Role: models.RoleAssistant,
		Content: []TextBlock{
			{Type: "text", Text: c.Content},
		},
		Model:      c.Model,
		StopReason: stopReason,
		Usage: ClaudeUsage{
			InputTokens:  c.Usage.InputTokens,
			OutputTokens: c.Usage.OutputTokens,
		},
	}
}

func claudeStreamEvents(c models.Completion, ids ResponseIDs) []SSEEvent {
	resp := renderClaude(c, ids)
	usage := map[string]int{
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	}

	return []SSEEvent{
		{
			Name: "message_start",
			Data: map[string]any{
				"type": "message_start",
				"message": map[string]any{
					"id":            resp.ID,
					"type":          "message",
					"role":          resp.Role,
					"model":         resp.Model,
					"content":       []any{},
					"stop_reason":   nil,
					"stop_sequence": nil,
					"usage":         map[string]int{"input_tokens": resp.Usage.InputTokens, "output_tokens": 0},
				},
			},
		},
		{
			Name: "content_block_start",
			Data: map[string]any{
				"type":          "content_block_start",
				"index":         0,
				"content_block": map[string]any{"type": "text", "text": ""},
			},
		},
		{
			Name: "content_block_delta",
			Data: map[string]any{
				"type":  "content_block_delta",
				"index": 0,
				"delta": map[string]any{"type": "text_delta", "text": c.Content},
			},
		},
		{
			Name: "content_block_stop",
			Data: map[string]any{"type": "content_block_stop", "index": 0},
		},
		{
			Name: "message_delta",
			Data: map[string]any{
				"type":  "message_delta",
				"delta": map[string]any{"stop_reason": resp.StopReason, "stop_sequence": nil},
				"usage": usage,
			},
		},
		{
			Name: "message_stop",
			Data: map[string]any{"type": "message_stop"},
		},
	}
}

// ClaudeErrorBody is the Dialect A error envelope.
type ClaudeErrorBody struct {
	Type  string      `json:"type"`
	Error ClaudeError `json:"error"`
}

type ClaudeError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
