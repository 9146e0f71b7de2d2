package history

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"kiro-relay/internal/models"
)

type fixedIDs string

func (f fixedIDs) ContinuationID() string { return string(f) }

const modelID = "CLAUDE_SONNET_4_5_20250929_V1_0"

type entry struct {
	user    bool
	content string
}

func flatten(h []models.HistoryEntry) []entry {
	out := make([]entry, 0, len(h))
	for _, e := range h {
		out = append(out, entry{user: e.IsUser(), content: e.Content()})
	}
	return out
}

func turns(pairs ...string) []models.Turn {
	out := make([]models.Turn, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, models.Turn{Role: pairs[i], Content: pairs[i+1]})
	}
	return out
}

func TestBuild(t *testing.T) {
	cases := []struct {
		name        string
		req         models.CanonicalRequest
		wantCurrent string
		wantHistory []entry
	}{
		{
			name:        "simple pair",
			req:         models.CanonicalRequest{Turns: turns("user", "a", "assistant", "b", "user", "c")},
			wantCurrent: "c",
			wantHistory: []entry{{true, "a"}, {false, "b"}},
		},
		{
			name:        "leading user run dropped when current is user",
			req:         models.CanonicalRequest{Turns: turns("user", "a", "user", "b")},
			wantCurrent: "b",
			wantHistory: []entry{},
		},
		{
			name:        "leftover users emitted before assistant current",
			req:         models.CanonicalRequest{Turns: turns("user", "a", "user", "b", "assistant", "c")},
			wantCurrent: "c",
			wantHistory: []entry{{true, "a\nb"}},
		},
		{
			name:        "consecutive users merged skipping empties",
			req:         models.CanonicalRequest{Turns: turns("user", "a", "user", "", "user", "b", "assistant", "x", "user", "q")},
			wantCurrent: "q",
			wantHistory: []entry{{true, "a\nb"}, {false, "x"}},
		},
		{
			name:        "assistant without preceding user is ignored",
			req:         models.CanonicalRequest{Turns: turns("assistant", "hi", "user", "a", "assistant", "", "user", "q")},
			wantCurrent: "q",
			wantHistory: []entry{{true, "a"}, {false, ""}},
		},
		{
			name:        "all-empty user run emits nothing",
			req:         models.CanonicalRequest{Turns: turns("user", "", "assistant", "x", "user", "q")},
			wantCurrent: "q",
			wantHistory: []entry{},
		},
		{
			name:        "system becomes synthetic pair",
			req:         models.CanonicalRequest{System: "be brief", Turns: turns("user", "a", "assistant", "b", "user", "c")},
			wantCurrent: "c",
			wantHistory: []entry{{true, "be brief"}, {false, "OK"}, {true, "a"}, {false, "b"}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state, err := Build(tc.req, modelID, "conv-1", fixedIDs("agent-1"))
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if got := state.CurrentMessage.UserInputMessage.Content; got != tc.wantCurrent {
				t.Fatalf("current = %q, want %q", got, tc.wantCurrent)
			}
			got := flatten(state.History)
			if len(got) != len(tc.wantHistory) {
				t.Fatalf("history = %+v, want %+v", got, tc.wantHistory)
			}
			for i := range got {
				if got[i] != tc.wantHistory[i] {
					t.Fatalf("history[%d] = %+v, want %+v", i, got[i], tc.wantHistory[i])
				}
			}
		})
	}
}

func TestBuildEmptyConversation(t *testing.T) {
	_, err := Build(models.CanonicalRequest{}, modelID, "conv-1", nil)
	if !errors.Is(err, ErrEmptyConversation) {
		t.Fatalf("expected ErrEmptyConversation, got %v", err)
	}
}

func TestBuildWireShape(t *testing.T) {
	state, err := Build(models.CanonicalRequest{
		System: "sys",
		Turns:  turns("user", "a", "assistant", "b", "user", "c"),
	}, modelID, "conv-1", fixedIDs("agent-1"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	body, err := json.Marshal(map[string]any{"conversationState": state})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	raw := string(body)

	for _, want := range []string{
		`"agentContinuationId":"agent-1"`,
		`"agentTaskType":"vibe"`,
		`"chatTriggerType":"MANUAL"`,
		`"conversationId":"conv-1"`,
		`"origin":"AI_EDITOR"`,
		`"images":[]`,
		`"userInputMessageContext":{"tools":[],"toolResults":[]}`,
		`"assistantResponseMessage":{"content":"OK","toolUses":null}`,
		`"modelId":"` + modelID + `"`,
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("payload missing %s\n%s", want, raw)
		}
	}
	if strings.Contains(raw, `"userInputMessage":null`) {
		t.Errorf("history entries must omit the unused message kind")
	}
}

func TestUUIDSourcePrefix(t *testing.T) {
	if id := (UUIDSource{}).ContinuationID(); !strings.HasPrefix(id, "agent-") {
		t.Fatalf("unexpected continuation id %q", id)
	}
	if id := NewConversationID(); !strings.HasPrefix(id, "conv-") {
		t.Fatalf("unexpected conversation id %q", id)
	}
}
