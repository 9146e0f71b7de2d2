package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kiro-relay/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.URL = srv.URL
	c, err := New(cfg, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestGenerateSendsStateAndHeaders(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected authorization %q", got)
		}
		if got := r.Header.Get("x-amzn-kiro-agent-mode"); got != "spec" {
			t.Errorf("unexpected agent mode %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != defaultUserAgent {
			t.Errorf("unexpected user agent %q", got)
		}
		var body map[string]json.RawMessage
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if _, ok := body["conversationState"]; !ok {
			t.Errorf("missing conversationState in %s", raw)
		}
		_, _ = w.Write([]byte{0x01, 0x02})
	})

	reply, err := c.Generate(context.Background(), "tok", models.ConversationState{ConversationID: "conv-1"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply.LengthExceeded || len(reply.Body) != 2 {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestGenerateLengthExceeded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"too long","reason":"CONTENT_LENGTH_EXCEEDS_THRESHOLD"}`))
	})

	reply, err := c.Generate(context.Background(), "tok", models.ConversationState{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !reply.LengthExceeded || reply.Body != nil {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestGenerateFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "other 400", status: http.StatusBadRequest, body: `{"message":"bad input","reason":"OTHER"}`, want: "bad input"},
		{name: "server error", status: http.StatusInternalServerError, body: "boom", want: "boom"},
		{name: "forbidden empty", status: http.StatusForbidden, want: "Forbidden"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.Generate(context.Background(), "tok", models.ConversationState{})
			if !errors.Is(err, ErrCallFailed) {
				t.Fatalf("expected ErrCallFailed, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}
}

func TestGenerateTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := DefaultConfig()
	cfg.URL = url
	c, _ := New(cfg, nil)
	if _, err := c.Generate(context.Background(), "tok", models.ConversationState{}); !errors.Is(err, ErrCallFailed) {
		t.Fatalf("expected ErrCallFailed, got %v", err)
	}
}
