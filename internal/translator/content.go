package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRequest marks any inbound payload that fails validation.
	ErrInvalidRequest = errors.New("invalid request")

	errEmptyModel     = fmt.Errorf("%w: model must be provided", ErrInvalidRequest)
	errEmptyMessages  = fmt.Errorf("%w: at least one message is required", ErrInvalidRequest)
	errInvalidContent = fmt.Errorf("%w: invalid message content", ErrInvalidRequest)
	errInvalidSystem  = fmt.Errorf("%w: invalid system prompt", ErrInvalidRequest)
)

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// flattenContent turns a string or an array of typed parts into plain text.
// Every non-empty text part is kept and joined with newlines; other part
// types are ignored.
func flattenContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err == nil {
		return joinTextParts(parts), nil
	}

	return "", errInvalidContent
}

func joinTextParts(parts []contentPart) string {
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		if part.Type == "text" && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// parseSystem accepts a string, an array of strings, a single text block or
// an array of text blocks.
func parseSystem(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single, nil
	}

	var multiple []string
	if err := json.Unmarshal(raw, &multiple); err == nil {
		kept := make([]string, 0, len(multiple))
		for _, item := range multiple {
			if item != "" {
				kept = append(kept, item)
			}
		}
		return strings.Join(kept, "\n"), nil
	}

	var block contentPart
	if err := json.Unmarshal(raw, &block); err == nil && block.Type != "" {
		return joinTextParts([]contentPart{block}), nil
	}

	var blocks []contentPart
	if err := json.Unmarshal(raw, &blocks); err == nil {
		return joinTextParts(blocks), nil
	}

	return "", errInvalidSystem
}
