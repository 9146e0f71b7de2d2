package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownModel indicates the requested model is not in the catalog.
var ErrUnknownModel = errors.New("unknown model")

// ErrDuplicateModel indicates an attempt to register the same model twice.
var ErrDuplicateModel = errors.New("model already registered")

// DefaultFallbackModel is used for conversion when a public identifier is unmapped.
const DefaultFallbackModel = "claude-sonnet-4-5"

// ModelInfo describes one public model and the upstream identifier it maps to.
type ModelInfo struct {
	ID          string
	InternalID  string
	Description string
	MaxTokens   int
}

// Catalog is an immutable public-to-internal model mapping table.
type Catalog struct {
	entries  map[string]ModelInfo
	order    []string
	fallback string
}

// NewCatalog builds a catalog from model entries and optional aliases. The
// fallback must name one of the entries.
func NewCatalog(entries []ModelInfo, aliases map[string]string, fallback string) (*Catalog, error) {
	c := &Catalog{
		entries: make(map[string]ModelInfo, len(entries)+len(aliases)),
		order:   make([]string, 0, len(entries)),
	}

	for _, entry := range entries {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return nil, errors.New("model id must not be empty")
		}
		if strings.TrimSpace(entry.InternalID) == "" {
			return nil, fmt.Errorf("model %q: internal id must not be empty", id)
		}
		if _, exists := c.entries[id]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateModel, id)
		}
		entry.ID = id
		if entry.MaxTokens == 0 {
			entry.MaxTokens = 200000
		}
		c.entries[id] = entry
		c.order = append(c.order, id)
	}

	for alias, target := range aliases {
		if _, exists := c.entries[alias]; exists {
			return nil, fmt.Errorf("alias %q conflicts with existing model", alias)
		}
		targetEntry, ok := c.entries[target]
		if !ok {
			return nil, fmt.Errorf("alias %q references unknown model %q", alias, target)
		}
		aliased := targetEntry
		aliased.ID = alias
		c.entries[alias] = aliased
	}

	if fallback == "" {
		fallback = DefaultFallbackModel
	}
	fb, ok := c.entries[fallback]
	if !ok {
		return nil, fmt.Errorf("fallback model %q is not in the catalog", fallback)
	}
	c.fallback = fb.InternalID

	return c, nil
}

// DefaultCatalog returns the built-in mapping table.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultModels(), nil, DefaultFallbackModel)
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultModels lists the built-in public models.
func DefaultModels() []ModelInfo {
	return []ModelInfo{
		{ID: "claude-sonnet-4-5", InternalID: "CLAUDE_SONNET_4_5_20250929_V1_0", Description: "Claude Sonnet 4.5"},
		{ID: "claude-sonnet-4-5-20250929", InternalID: "CLAUDE_SONNET_4_5_20250929_V1_0", Description: "Claude Sonnet 4.5 (2025-09-29)"},
		{ID: "claude-sonnet-4-20250514", InternalID: "CLAUDE_SONNET_4_20250514_V1_0", Description: "Claude Sonnet 4 (2025-05-14)"},
		{ID: "claude-3-7-sonnet-20250219", InternalID: "CLAUDE_3_7_SONNET_20250219_V1_0", Description: "Claude 3.7 Sonnet (2025-02-19)"},
		{ID: "claude-3-5-haiku-20241022", InternalID: "auto", Description: "Claude 3.5 Haiku"},
		{ID: "claude-haiku-4-5-20251001", InternalID: "auto", Description: "Claude Haiku 4.5"},
	}
}

// Resolve maps a public identifier to the upstream identifier, falling back
// when it is unmapped.
func (c *Catalog) Resolve(publicID string) string {
	if entry, ok := c.entries[publicID]; ok {
		return entry.InternalID
	}
	return c.fallback
}

// Lookup returns the catalog entry for display. Unmapped identifiers are an error.
func (c *Catalog) Lookup(publicID string) (ModelInfo, error) {
	entry, ok := c.entries[publicID]
	if !ok {
		return ModelInfo{}, fmt.Errorf("%w: %s", ErrUnknownModel, publicID)
	}
	return entry, nil
}

// List returns the declared models in declaration order. Aliases are not listed.
func (c *Catalog) List() []ModelInfo {
	out := make([]ModelInfo, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entries[id])
	}
	return out
}
