package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	contentTypeJSON    = "application/json"
	maxRefreshBody     = 64 * 1024
	defaultTokenExpiry = 3600

	idcAmzUserAgent = "aws-sdk-js/3.738.0 ua/2.1 os/other lang/js md/browser#unknown_unknown api/sso-oidc#3.738.0 m/E KiroAdmin"
)

// RefreshError reports a failed token exchange with the upstream detail.
type RefreshError struct {
	Kind   AuthKind
	Status int
	Detail string
	Err    error
}

func (e *RefreshError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s token refresh failed (status %d): %s", e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s token refresh failed: %s", e.Kind, e.Detail)
}

func (e *RefreshError) Unwrap() error { return e.Err }

func (e *RefreshError) Is(target error) bool { return target == ErrRefreshFailed }

type socialRefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type idcRefreshRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	GrantType    string `json:"grantType"`
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken      string `json:"accessToken"`
	AccessTokenSnake string `json:"access_token"`
	ExpiresIn        int64  `json:"expiresIn"`
	ExpiresInSnake   int64  `json:"expires_in"`
}

// Refresh exchanges the credential's refresh grant for a bearer token.
func (g *Gate) Refresh(ctx context.Context, cred Credential) (Token, error) {
	var (
		url     string
		payload any
		headers = map[string]string{"Content-Type": contentTypeJSON}
	)

	switch cred.AuthKind {
	case AuthSocial:
		url = g.endpoints.SocialRefreshURL
		payload = socialRefreshRequest{RefreshToken: cred.RefreshToken}
	case AuthIdC:
		url = g.endpoints.IdCRefreshURL
		payload = idcRefreshRequest{
			ClientID:     cred.ClientID,
			ClientSecret: cred.ClientSecret,
			GrantType:    "refresh_token",
			RefreshToken: cred.RefreshToken,
		}
		headers["x-amz-user-agent"] = idcAmzUserAgent
		headers["Accept"] = "*/*"
		headers["Accept-Language"] = "*"
		headers["sec-fetch-mode"] = "cors"
		headers["User-Agent"] = "node"
	default:
		return Token{}, &RefreshError{Kind: cred.AuthKind, Detail: fmt.Sprintf("unsupported auth kind %q", cred.AuthKind)}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Token{}, &RefreshError{Kind: cred.AuthKind, Detail: "marshal refresh payload", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Token{}, &RefreshError{Kind: cred.AuthKind, Detail: "construct refresh request", Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return Token{}, &RefreshError{Kind: cred.AuthKind, Detail: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRefreshBody))
	if err != nil {
		return Token{}, &RefreshError{Kind: cred.AuthKind, Status: resp.StatusCode, Detail: "read refresh response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Token{}, &RefreshError{Kind: cred.AuthKind, Status: resp.StatusCode, Detail: errorDetail(raw)}
	}

	var parsed refreshResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Token{}, &RefreshError{Kind: cred.AuthKind, Status: resp.StatusCode, Detail: "decode refresh response", Err: err}
	}

	access := firstNonEmpty(parsed.AccessToken, parsed.AccessTokenSnake)
	if access == "" {
		return Token{}, &RefreshError{Kind: cred.AuthKind, Status: resp.StatusCode, Detail: "response did not contain an access token"}
	}

	expiresIn := parsed.ExpiresIn
	if expiresIn == 0 {
		expiresIn = parsed.ExpiresInSnake
	}
	if expiresIn <= 0 {
		expiresIn = defaultTokenExpiry
	}

	g.logger.Debug("credential refreshed", "credential_id", cred.ID, "auth_kind", cred.AuthKind, "expires_in", expiresIn)

	return Token{
		AccessToken: access,
		ExpiresAt:   g.now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// errorDetail extracts the most useful message from an error body.
func errorDetail(raw []byte) string {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, key := range []string{"error", "message", "error_description"} {
			if s, ok := body[key].(string); ok && s != "" {
				return s
			}
		}
		if nested, ok := body["error"].(map[string]any); ok {
			if s, ok := nested["message"].(string); ok && s != "" {
				return s
			}
		}
	}
	detail := strings.TrimSpace(string(raw))
	if detail == "" {
		return "empty response body"
	}
	return detail
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
