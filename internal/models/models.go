package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn represents a single conversational message in the canonical schema.
// Content is already flattened to plain text.
type Turn struct {
	Role    string
	Content string
}

// CanonicalRequest is the dialect-independent shape consumed by the history builder.
type CanonicalRequest struct {
	Model     string
	Turns     []Turn
	System    string
	MaxTokens int
	Stream    bool
}

// Usage records token accounting information.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns the sum of input and output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Completion is the dialect-independent result of one proxied call.
type Completion struct {
	Model     string
	Content   string
	Usage     Usage
	Truncated bool
}

// Usage log statuses.
const (
	UsageStatusSuccess = "success"
	UsageStatusError   = "error"
)

// UsageRecord is one row of the usage log.
type UsageRecord struct {
	ID           int64
	CredentialID int64
	Model        string
	Usage        Usage
	RequestTime  time.Time
	// ResponseTime is the wall-clock duration of the call in milliseconds.
	ResponseTime int64
	Status       string
	ErrorMessage string
}
