package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"kiro-relay/internal/models"
)

// ChatCompletionRequest models the Dialect B (/v1/chat/completions) payload.
type ChatCompletionRequest struct {
	Model     string
	Messages  []ChatMessage
	MaxTokens int
	Stream    bool
}

// UnmarshalJSON implements custom parsing to enforce validation.
func (r *ChatCompletionRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model               string        `json:"model"`
		Messages            []ChatMessage `json:"messages"`
		MaxTokens           *int          `json:"max_tokens"`
		MaxCompletionTokens *int          `json:"max_completion_tokens"`
		Stream              bool          `json:"stream"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: decode chat request: %v", ErrInvalidRequest, err)
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = raw.Messages
	r.Stream = raw.Stream
	switch {
	case raw.MaxTokens != nil:
		r.MaxTokens = *raw.MaxTokens
	case raw.MaxCompletionTokens != nil:
		r.MaxTokens = *raw.MaxCompletionTokens
	}

	if r.Model == "" {
		return errEmptyModel
	}
	if len(r.Messages) == 0 {
		return errEmptyMessages
	}
	return nil
}

// ToCanonical lifts system messages into the system instruction (the last
// one wins) and keeps user and assistant turns in order.
func (r ChatCompletionRequest) ToCanonical() models.CanonicalRequest {
	turns := make([]models.Turn, 0, len(r.Messages))
	var system string

	for _, m := range r.Messages {
		switch m.Role {
		case models.RoleSystem:
			system = m.Content
		case models.RoleUser, models.RoleAssistant:
			turns = append(turns, models.Turn{Role: m.Role, Content: m.Content})
		}
	}

	return models.CanonicalRequest{
		Model:     r.Model,
		Turns:     turns,
		System:    system,
		MaxTokens: r.MaxTokens,
		Stream:    r.Stream,
	}
}

// ChatMessage captures a single message within the chat request or response.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UnmarshalJSON supports string and array-of-parts content formats.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
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

// ChatCompletionResponse models the Dialect B chat response.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   OpenAIUsage  `json:"usage"`
}

// ChatChoice represents a single choice in the response payload.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// OpenAIUsage mirrors the token usage block in Dialect B responses.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

const (
	finishReasonStop   = "stop"
	finishReasonLength = "length"
)

func renderOpenAI(c models.Completion, ids ResponseIDs) ChatCompletionResponse {
	finishReason := finishReasonStop
	if c.Truncated {
		finishReason = finishReasonLength
	}

	return ChatCompletionResponse{
		ID:      ids.CompletionID(),
		Object:  "chat.completion",
		Created: ids.Created(),
		Model:   c.Model,
		Choices: []ChatChoice{
			{
				Index:        0,
				Message:      ChatMessage{Role: models.RoleAssistant, Content: c.Content},
				FinishReason: finishReason,
			},
		},
		Usage: OpenAIUsage{
			PromptTokens:     c.Usage.InputTokens,
			CompletionTokens: c.Usage.OutputTokens,
			TotalTokens:      c.Usage.Total(),
		},
	}
}

func openAIStreamEvents(c models.Completion, ids ResponseIDs) []SSEEvent {
	resp := renderOpenAI(c, ids)
	chunk := func(delta map[string]any, finish any) map[string]any {
		return map[string]any{
			"id":      resp.ID,
			"object":  "chat.completion.chunk",
			"created": resp.Created,
			"model":   resp.Model,
			"choices": []map[string]any{
				{"index": 0, "delta": delta, "finish_reason": finish},
			},
		}
	}

	final := chunk(map[string]any{}, resp.Choices[0].FinishReason)
	final["usage"] = resp.Usage

	return []SSEEvent{
		{Data: chunk(map[string]any{"role": models.RoleAssistant, "content": c.Content}, nil)},
		{Data: final},
		{Raw: "[DONE]"},
	}
}

// OpenAIErrorBody is the Dialect B error envelope.
type OpenAIErrorBody struct {
	Error OpenAIError `json:"error"`
}

type OpenAIError struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    *string `json:"code"`
}
