package credential

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu    sync.Mutex
	creds map[int64]Credential
}

func newMemStore(creds ...Credential) *memStore {
	s := &memStore{creds: make(map[int64]Credential)}
	for _, c := range creds {
		s.creds[c.ID] = c
	}
	return s
}

func (s *memStore) GetCredential(_ context.Context, id int64) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return Credential{}, errors.New("not found")
	}
	return c, nil
}

func (s *memStore) ListEnabledCredentials(context.Context) ([]Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Credential
	for _, c := range s.creds {
		if !c.Disabled {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memStore) IncrementUsage(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.creds[id]
	c.UsageCount++
	s.creds[id] = c
	return nil
}

func (s *memStore) TouchLastUsed(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.creds[id]
	c.LastUsed = &at
	s.creds[id] = c
	return nil
}

func TestSelectLowestEnabled(t *testing.T) {
	store := newMemStore(
		Credential{ID: 1, AuthKind: AuthSocial, Disabled: true},
		Credential{ID: 5, AuthKind: AuthSocial},
		Credential{ID: 3, AuthKind: AuthIdC},
	)
	g := NewGate(store, DefaultEndpoints())

	got, err := g.Select(context.Background())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.ID != 3 {
		t.Fatalf("expected credential 3, got %d", got.ID)
	}
}

func TestSelectNoneAvailable(t *testing.T) {
	g := NewGate(newMemStore(Credential{ID: 1, Disabled: true}), DefaultEndpoints())
	if _, err := g.Select(context.Background()); !errors.Is(err, ErrNoAvailableCredential) {
		t.Fatalf("expected ErrNoAvailableCredential, got %v", err)
	}
}

func newRefreshServer(t *testing.T, handler func(path string, body map[string]any) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		status, resp := handler(r.URL.Path, body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testEndpoints(base string) Endpoints {
	return Endpoints{
		SocialRefreshURL: base + "/social",
		IdCRefreshURL:    base + "/idc",
		UsageLimitsURL:   base + "/usage",
	}
}

func TestRefreshSocial(t *testing.T) {
	srv := newRefreshServer(t, func(path string, body map[string]any) (int, string) {
		if path != "/social" || body["refreshToken"] != "rt" {
			return http.StatusBadRequest, `{"message":"unexpected request"}`
		}
		return http.StatusOK, `{"accessToken":"at","expiresIn":60}`
	})

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := NewGate(newMemStore(), testEndpoints(srv.URL), WithClock(func() time.Time { return now }))

	tok, err := g.Refresh(context.Background(), Credential{ID: 1, AuthKind: AuthSocial, RefreshToken: "rt"})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tok.AccessToken != "at" || !tok.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected token %+v", tok)
	}
}

func TestRefreshIdCSnakeCase(t *testing.T) {
	srv := newRefreshServer(t, func(path string, body map[string]any) (int, string) {
		if path != "/idc" || body["clientId"] != "cid" || body["clientSecret"] != "sec" || body["grantType"] != "refresh_token" {
			return http.StatusBadRequest, `{"error":"bad idc body"}`
		}
		return http.StatusOK, `{"access_token":"at2"}`
	})

	g := NewGate(newMemStore(), testEndpoints(srv.URL))
	tok, err := g.Refresh(context.Background(), Credential{ID: 2, AuthKind: AuthIdC, RefreshToken: "rt", ClientID: "cid", ClientSecret: "sec"})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tok.AccessToken != "at2" {
		t.Fatalf("unexpected token %+v", tok)
	}
}

func TestRefreshFailures(t *testing.T) {
	srv := newRefreshServer(t, func(path string, _ map[string]any) (int, string) {
		if path == "/social" {
			return http.StatusUnauthorized, `{"error":"invalid_grant"}`
		}
		return http.StatusOK, `{"expiresIn":60}`
	})
	g := NewGate(newMemStore(), testEndpoints(srv.URL))

	cases := []struct {
		name       string
		cred       Credential
		wantDetail string
	}{
		{name: "upstream error", cred: Credential{AuthKind: AuthSocial}, wantDetail: "invalid_grant"},
		{name: "missing token", cred: Credential{AuthKind: AuthIdC}, wantDetail: "access token"},
		{name: "unknown kind", cred: Credential{AuthKind: "Other"}, wantDetail: "unsupported"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.Refresh(context.Background(), tc.cred)
			if !errors.Is(err, ErrRefreshFailed) {
				t.Fatalf("expected ErrRefreshFailed, got %v", err)
			}
			var re *RefreshError
			if !errors.As(err, &re) || !strings.Contains(re.Detail, tc.wantDetail) {
				t.Fatalf("expected detail containing %q, got %v", tc.wantDetail, err)
			}
		})
	}
}

func TestRefreshTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	g := NewGate(newMemStore(), testEndpoints(srv.URL), WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	_, err := g.Refresh(context.Background(), Credential{AuthKind: AuthSocial})
	if !errors.Is(err, ErrRefreshFailed) {
		t.Fatalf("expected timeout to surface as ErrRefreshFailed, got %v", err)
	}
}

func TestCheckAll(t *testing.T) {
	srv := newRefreshServer(t, func(path string, body map[string]any) (int, string) {
		switch path {
		case "/social":
			if body["refreshToken"] == "bad" {
				return http.StatusUnauthorized, `{"message":"expired"}`
			}
			return http.StatusOK, `{"accessToken":"` + body["refreshToken"].(string) + `"}`
		case "/usage":
			return http.StatusOK, `{
				"usageBreakdownList":[{"resourceType":"CREDIT","usageLimitWithPrecision":50,"currentUsageWithPrecision":20,
					"freeTrialInfo":{"freeTrialStatus":"ACTIVE","usageLimitWithPrecision":10,"currentUsageWithPrecision":5}}],
				"userInfo":{"email":"dev@example.com"}}`
		}
		return http.StatusNotFound, `{}`
	})

	store := newMemStore(
		Credential{ID: 1, AuthKind: AuthSocial, RefreshToken: "good"},
		Credential{ID: 2, AuthKind: AuthSocial, RefreshToken: "bad"},
	)
	g := NewGate(store, testEndpoints(srv.URL))

	results, err := g.CheckAll(context.Background())
	if err != nil {
		t.Fatalf("check all: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	byID := map[int64]Validity{}
	for _, r := range results {
		byID[r.Credential.ID] = r.Validity
	}
	good := byID[1]
	if !good.Valid || good.Details == nil || good.Details.Available != 35 || good.Details.UserEmail != "dev@example.com" {
		t.Fatalf("unexpected validity for good credential %+v", good)
	}
	if !good.Details.FreeTrialActive() {
		t.Fatalf("expected active free trial")
	}
	if bad := byID[2]; bad.Valid || bad.Reason != ReasonAPIError {
		t.Fatalf("unexpected validity for bad credential %+v", bad)
	}
}

func TestUsageDetailsQuota(t *testing.T) {
	limits := usageLimits{UsageBreakdownList: []usageBreakdown{
		{ResourceType: "OTHER", UsageLimitWithPrecision: 100},
		{ResourceType: "CREDIT", UsageLimitWithPrecision: 10, CurrentUsageWithPrecision: 12},
	}}
	d := limits.details()
	if d == nil || d.Available != 0 || d.FreeTrialStatus != "NONE" {
		t.Fatalf("unexpected details %+v", d)
	}
	if (usageLimits{}).details() != nil {
		t.Fatalf("expected nil details without breakdown")
	}
}

func TestCheckUsageDisabled(t *testing.T) {
	g := NewGate(newMemStore(), DefaultEndpoints())
	if v := g.CheckUsage(context.Background(), Credential{Disabled: true}); v.Reason != ReasonDisabled {
		t.Fatalf("unexpected validity %+v", v)
	}
}

func TestParseAuthKind(t *testing.T) {
	if k, err := ParseAuthKind("IdC"); err != nil || k != AuthIdC {
		t.Fatalf("unexpected %v %v", k, err)
	}
	if _, err := ParseAuthKind("social"); err == nil {
		t.Fatal("expected case-sensitive mismatch to fail")
	}
}
