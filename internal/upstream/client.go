// Package upstream calls the generateAssistantResponse endpoint.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"kiro-relay/internal/models"
	"kiro-relay/internal/transport"
)

const (
	contentTypeJSON = "application/json"

	// DefaultURL is the production chat endpoint.
	DefaultURL = "https://codewhisperer.us-east-1.amazonaws.com/generateAssistantResponse"
	// DefaultTimeout caps one upstream round-trip including the body read.
	DefaultTimeout = 60 * time.Second

	defaultAgentMode    = "spec"
	defaultAmzUserAgent = "aws-sdk-js/1.0.18 KiroAdmin-1.0.0"
	defaultUserAgent    = "aws-sdk-js/1.0.18 ua/2.1 os/darwin lang/js md/nodejs KiroAdmin-1.0.0"

	maxResponseBody = 32 << 20
	maxErrorBody    = 64 * 1024

	reasonLengthExceeded = "CONTENT_LENGTH_EXCEEDS_THRESHOLD"
)

// ErrCallFailed is wrapped by every non-success outcome except the
// length-exceeded signal.
var ErrCallFailed = errors.New("upstream call failed")

// Reply is the raw upstream answer. Body holds the binary event stream.
type Reply struct {
	Body           []byte
	LengthExceeded bool
}

// Config holds the endpoint and identification headers.
type Config struct {
	URL          string
	AgentMode    string
	AmzUserAgent string
	UserAgent    string
	Timeout      time.Duration
}

// DefaultConfig returns the production endpoint and headers.
func DefaultConfig() Config {
	return Config{
		URL:          DefaultURL,
		AgentMode:    defaultAgentMode,
		AmzUserAgent: defaultAmzUserAgent,
		UserAgent:    defaultUserAgent,
		Timeout:      DefaultTimeout,
	}
}

// Client performs chat calls.
type Client struct {
	cfg    Config
	client *http.Client
}

// New constructs a client. A nil httpClient gets a tuned default honoring cfg.Timeout.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = def.URL
	}
	if cfg.AgentMode == "" {
		cfg.AgentMode = def.AgentMode
	}
	if cfg.AmzUserAgent == "" {
		cfg.AmzUserAgent = def.AmzUserAgent
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if httpClient == nil {
		httpClient = transport.NewHTTPClient(cfg.Timeout)
	}
	return &Client{cfg: cfg, client: httpClient}, nil
}

type generateRequest struct {
	ConversationState models.ConversationState `json:"conversationState"`
}

// Generate sends state using bearer and returns the raw reply.
func (c *Client) Generate(ctx context.Context, bearer string, state models.ConversationState) (Reply, error) {
	req, err := c.newRequest(ctx, bearer, generateRequest{ConversationState: state})
	if err != nil {
		return Reply{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrCallFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return Reply{}, fmt.Errorf("%w: read response: %v", ErrCallFailed, err)
		}
		return Reply{Body: body}, nil
	case resp.StatusCode == http.StatusBadRequest:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if isLengthExceeded(body) {
			return Reply{LengthExceeded: true}, nil
		}
		return Reply{}, apiError(resp.StatusCode, body)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Reply{}, apiError(resp.StatusCode, body)
	}
}

func (c *Client) newRequest(ctx context.Context, bearer string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("x-amzn-kiro-agent-mode", c.cfg.AgentMode)
	req.Header.Set("x-amz-user-agent", c.cfg.AmzUserAgent)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	return req, nil
}

type errorResponse struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

func isLengthExceeded(body []byte) bool {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false
	}
	return parsed.Reason == reasonLengthExceeded
}

func apiError(status int, body []byte) error {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		if parsed.Reason != "" {
			return fmt.Errorf("%w: status %d (%s): %s", ErrCallFailed, status, parsed.Reason, parsed.Message)
		}
		return fmt.Errorf("%w: status %d: %s", ErrCallFailed, status, parsed.Message)
	}
	detail := strings.TrimSpace(string(body))
	if detail == "" {
		detail = http.StatusText(status)
	}
	return fmt.Errorf("%w: status %d: %s", ErrCallFailed, status, detail)
}
