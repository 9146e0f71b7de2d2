package models

// Fixed tags carried by every upstream conversation.
const (
	OriginAIEditor     = "AI_EDITOR"
	ChatTriggerManual  = "MANUAL"
	AgentTaskTypeVibe  = "vibe"
	SystemAcknowledged = "OK"
)

// ConversationState is the upstream request payload. It is built fresh per call.
type ConversationState struct {
	AgentContinuationID string         `json:"agentContinuationId"`
	AgentTaskType       string         `json:"agentTaskType"`
	ChatTriggerType     string         `json:"chatTriggerType"`
	CurrentMessage      CurrentMessage `json:"currentMessage"`
	ConversationID      string         `json:"conversationId"`
	History             []HistoryEntry `json:"history"`
}

// CurrentMessage wraps the turn being answered.
type CurrentMessage struct {
	UserInputMessage UserInputMessage `json:"userInputMessage"`
}

// HistoryEntry holds exactly one of a user or assistant message.
type HistoryEntry struct {
	UserInputMessage         *UserInputMessage         `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *AssistantResponseMessage `json:"assistantResponseMessage,omitempty"`
}

// IsUser reports whether the entry carries a user message.
func (e HistoryEntry) IsUser() bool {
	return e.UserInputMessage != nil
}

// Content returns the text of whichever message the entry carries.
func (e HistoryEntry) Content() string {
	if e.UserInputMessage != nil {
		return e.UserInputMessage.Content
	}
	if e.AssistantResponseMessage != nil {
		return e.AssistantResponseMessage.Content
	}
	return ""
}

type UserInputMessage struct {
	Content                 string                  `json:"content"`
	ModelID                 string                  `json:"modelId"`
	Origin                  string                  `json:"origin"`
	Images                  []any                   `json:"images"`
	UserInputMessageContext UserInputMessageContext `json:"userInputMessageContext"`
}

type UserInputMessageContext struct {
	Tools       []any `json:"tools"`
	ToolResults []any `json:"toolResults"`
}

type AssistantResponseMessage struct {
	Content  string `json:"content"`
	ToolUses []any  `json:"toolUses"`
}

// NewUserInput builds a user message with empty images and tool context.
func NewUserInput(content, modelID string) UserInputMessage {
	return UserInputMessage{
		Content: content,
		ModelID: modelID,
		Origin:  OriginAIEditor,
		Images:  []any{},
		UserInputMessageContext: UserInputMessageContext{
			Tools:       []any{},
			ToolResults: []any{},
		},
	}
}

// UserEntry wraps a user message as a history entry.
func UserEntry(content, modelID string) HistoryEntry {
	msg := NewUserInput(content, modelID)
	return HistoryEntry{UserInputMessage: &msg}
}

// AssistantEntry wraps an assistant message as a history entry. ToolUses stays nil
// so that it is serialised as null.
func AssistantEntry(content string) HistoryEntry {
	return HistoryEntry{AssistantResponseMessage: &AssistantResponseMessage{Content: content}}
}
