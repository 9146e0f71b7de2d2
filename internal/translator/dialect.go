package translator

import (
	"fmt"
	"math"
	"strings"
	"time"

	"kiro-relay/internal/eventstream"
	"kiro-relay/internal/models"
)

// Dialect selects the caller-facing wire format.
type Dialect int

const (
	// DialectAnthropic is the Messages-style format (Dialect A).
	DialectAnthropic Dialect = iota + 1
	// DialectOpenAI is the Chat Completions-style format (Dialect B).
	DialectOpenAI
)

func (d Dialect) String() string {
	switch d {
	case DialectAnthropic:
		return "anthropic"
	case DialectOpenAI:
		return "openai"
	default:
		return "unknown"
	}
}

// ResponseIDs derives time-based response identifiers from a fixed instant.
type ResponseIDs struct {
	Now time.Time
}

func (r ResponseIDs) MessageID() string {
	return fmt.Sprintf("msg_%d", r.Now.UnixMilli())
}

func (r ResponseIDs) CompletionID() string {
	return fmt.Sprintf("chatcmpl-%d", r.Now.UnixMilli())
}

func (r ResponseIDs) Created() int64 {
	return r.Now.Unix()
}

// Render produces the dialect-specific response body for a completion.
func Render(d Dialect, c models.Completion, ids ResponseIDs) any {
	if d == DialectOpenAI {
		return renderOpenAI(c, ids)
	}
	return renderClaude(c, ids)
}

// SSEEvent is one server-sent event. Raw, when set, is written verbatim as
// the data line instead of JSON-encoding Data.
type SSEEvent struct {
	Name string
	Data any
	Raw  string
}

// StreamEvents replays a buffered completion as the dialect's SSE sequence.
func StreamEvents(d Dialect, c models.Completion, ids ResponseIDs) []SSEEvent {
	if d == DialectOpenAI {
		return openAIStreamEvents(c, ids)
	}
	return claudeStreamEvents(c, ids)
}

// Error types used in envelopes.
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeAuthentication = "authentication_error"
	ErrorTypeNotFound       = "not_found_error"
	ErrorTypeRateLimit      = "rate_limit_error"
	ErrorTypeAPI            = "api_error"
)

// ErrorBody builds the dialect's error envelope. code is optional.
func ErrorBody(d Dialect, errType, message, code string) any {
	if d == DialectOpenAI {
		body := OpenAIErrorBody{Error: OpenAIError{Message: message, Type: errType}}
		if code != "" {
			body.Error.Code = &code
		}
		return body
	}
	return ClaudeErrorBody{
		Type:  "error",
		Error: ClaudeError{Type: errType, Message: message, Code: code},
	}
}

const (
	// tokensPerUnit converts one metering unit into an estimated token count.
	tokensPerUnit = 70
	// outputShare is the fraction of the estimate attributed to output tokens.
	outputShare = 0.7
)

// EstimateUsage converts an upstream metering value into token counts. The
// upstream reports credits rather than tokens, so this is an approximation:
// one unit is taken as roughly 70 tokens, 70% of which are counted as output.
func EstimateUsage(units float64) models.Usage {
	total := int(math.Round(units * tokensPerUnit))
	output := int(math.Round(float64(total) * outputShare))
	return models.Usage{
		InputTokens:  total - output,
		OutputTokens: output,
	}
}

// Accumulate concatenates content events and derives usage from the last
// metering event.
func Accumulate(events []eventstream.Event) (string, models.Usage) {
	var (
		builder strings.Builder
		usage   models.Usage
	)
	for _, ev := range events {
		switch ev.Kind {
		case eventstream.KindContent:
			builder.WriteString(ev.Content)
		case eventstream.KindMetering:
			usage = EstimateUsage(ev.Usage)
		}
	}
	return builder.String(), usage
}
