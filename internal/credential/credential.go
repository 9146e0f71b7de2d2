// Package credential selects stored upstream grants and exchanges them for
// short-lived bearer tokens.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"kiro-relay/internal/transport"
)

// AuthKind distinguishes the two refresh flows.
type AuthKind string

const (
	// AuthSocial exchanges the refresh token alone.
	AuthSocial AuthKind = "Social"
	// AuthIdC exchanges the refresh token together with a client id and secret.
	AuthIdC AuthKind = "IdC"
)

// ParseAuthKind validates a stored or user-supplied auth kind.
func ParseAuthKind(s string) (AuthKind, error) {
	switch AuthKind(s) {
	case AuthSocial, AuthIdC:
		return AuthKind(s), nil
	default:
		return "", fmt.Errorf("unsupported auth kind %q", s)
	}
}

var (
	// ErrNoAvailableCredential indicates no enabled credential exists.
	ErrNoAvailableCredential = errors.New("no available credential")
	// ErrRefreshFailed is matched by every *RefreshError.
	ErrRefreshFailed = errors.New("credential refresh failed")
)

// Credential is one stored upstream authentication grant.
type Credential struct {
	ID           int64
	AuthKind     AuthKind
	RefreshToken string
	ClientID     string
	ClientSecret string
	Description  string
	Disabled     bool
	UsageCount   int64
	LastUsed     *time.Time
	CreatedAt    time.Time
}

// Token is a refreshed bearer token.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Store is the subset of the credential store the gate and the proxy need.
type Store interface {
	GetCredential(ctx context.Context, id int64) (Credential, error)
	ListEnabledCredentials(ctx context.Context) ([]Credential, error)
	IncrementUsage(ctx context.Context, id int64) error
	TouchLastUsed(ctx context.Context, id int64, at time.Time) error
}

// Endpoints lists the token and usage URLs.
type Endpoints struct {
	SocialRefreshURL string
	IdCRefreshURL    string
	UsageLimitsURL   string
}

// DefaultEndpoints returns the production endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		SocialRefreshURL: "https://prod.us-east-1.auth.desktop.kiro.dev/refreshToken",
		IdCRefreshURL:    "https://oidc.us-east-1.amazonaws.com/token",
		UsageLimitsURL:   "https://codewhisperer.us-east-1.amazonaws.com/getUsageLimits",
	}
}

// DefaultRefreshTimeout caps each refresh and usage round-trip.
const DefaultRefreshTimeout = 10 * time.Second

// Gate selects credentials and refreshes them. It keeps no per-credential
// state: every call refreshes afresh.
type Gate struct {
	store     Store
	client    *http.Client
	endpoints Endpoints
	logger    *slog.Logger
	now       func() time.Time
}

// Option customises a Gate.
type Option func(*Gate)

// WithHTTPClient replaces the default refresh client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gate) { g.client = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLogger sets the gate logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// NewGate constructs a gate over store.
func NewGate(store Store, endpoints Endpoints, opts ...Option) *Gate {
	g := &Gate{
		store:     store,
		client:    transport.NewHTTPClient(DefaultRefreshTimeout),
		endpoints: endpoints,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Select returns the enabled credential with the lowest identifier.
func (g *Gate) Select(ctx context.Context) (Credential, error) {
	creds, err := g.store.ListEnabledCredentials(ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("list credentials: %w", err)
	}

	var (
		best  Credential
		found bool
	)
	for _, c := range creds {
		if c.Disabled {
			continue
		}
		if !found || c.ID < best.ID {
			best = c
			found = true
		}
	}
	if !found {
		return Credential{}, ErrNoAvailableCredential
	}
	return best, nil
}
