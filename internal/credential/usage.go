package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"
)

const (
	usageAmzUserAgent = "aws-sdk-js/1.0.0 KiroAdmin-1.0.0"
	usageUserAgent    = "aws-sdk-js/1.0.0 ua/2.1 os/darwin lang/js md/nodejs KiroAdmin-1.0.0"

	resourceTypeCredit = "CREDIT"
	freeTrialActive    = "ACTIVE"

	// checkParallelism bounds concurrent validity checks in CheckAll.
	checkParallelism = 4
)

// Verdict reasons reported by CheckUsage.
const (
	ReasonValid         = "valid"
	ReasonQuotaExceeded = "quota_exceeded"
	ReasonNoUsageInfo   = "no_usage_info"
	ReasonDisabled      = "disabled"
	ReasonAPIError      = "api_error"
)

// UsageDetails summarises the credit allowance of one credential.
type UsageDetails struct {
	TotalLimit      float64
	TotalUsed       float64
	Available       float64
	BaseLimit       float64
	BaseUsed        float64
	FreeTrialLimit  float64
	FreeTrialUsed   float64
	FreeTrialStatus string
	UserEmail       string
}

// Validity is the outcome of a credential check.
type Validity struct {
	Valid   bool
	Reason  string
	Message string
	Details *UsageDetails
}

// CheckResult pairs a credential with its validity.
type CheckResult struct {
	Credential Credential
	Validity   Validity
}

type usageLimits struct {
	UsageBreakdownList []usageBreakdown `json:"usageBreakdownList"`
	UserInfo           *struct {
		Email string `json:"email"`
	} `json:"userInfo"`
}

type usageBreakdown struct {
	ResourceType              string  `json:"resourceType"`
	UsageLimitWithPrecision   float64 `json:"usageLimitWithPrecision"`
	CurrentUsageWithPrecision float64 `json:"currentUsageWithPrecision"`
	FreeTrialInfo             *struct {
		FreeTrialStatus           string  `json:"freeTrialStatus"`
		UsageLimitWithPrecision   float64 `json:"usageLimitWithPrecision"`
		CurrentUsageWithPrecision float64 `json:"currentUsageWithPrecision"`
	} `json:"freeTrialInfo"`
}

// details returns nil when no credit breakdown is present.
func (u usageLimits) details() *UsageDetails {
	for _, b := range u.UsageBreakdownList {
		if b.ResourceType != resourceTypeCredit {
			continue
		}
		d := UsageDetails{
			BaseLimit:       b.UsageLimitWithPrecision,
			BaseUsed:        b.CurrentUsageWithPrecision,
			FreeTrialStatus: "NONE",
		}
		if ft := b.FreeTrialInfo; ft != nil {
			d.FreeTrialLimit = ft.UsageLimitWithPrecision
			d.FreeTrialUsed = ft.CurrentUsageWithPrecision
			if ft.FreeTrialStatus != "" {
				d.FreeTrialStatus = ft.FreeTrialStatus
			}
		}
		d.TotalLimit = d.BaseLimit + d.FreeTrialLimit
		d.TotalUsed = d.BaseUsed + d.FreeTrialUsed
		d.Available = max(d.TotalLimit-d.TotalUsed, 0)
		if u.UserInfo != nil {
			d.UserEmail = u.UserInfo.Email
		}
		return &d
	}
	return nil
}

// FreeTrialActive reports whether the free-trial allowance is currently live.
func (d UsageDetails) FreeTrialActive() bool {
	return d.FreeTrialStatus == freeTrialActive
}

// CheckUsage refreshes cred and asks the upstream how much allowance remains.
// Transport and refresh failures are reported in the verdict, not as errors.
func (g *Gate) CheckUsage(ctx context.Context, cred Credential) Validity {
	if cred.Disabled {
		return Validity{Reason: ReasonDisabled, Message: "credential is disabled"}
	}

	token, err := g.Refresh(ctx, cred)
	if err != nil {
		return Validity{Reason: ReasonAPIError, Message: err.Error()}
	}

	limits, err := g.fetchUsageLimits(ctx, token.AccessToken)
	if err != nil {
		return Validity{Reason: ReasonAPIError, Message: err.Error()}
	}

	details := limits.details()
	if details == nil {
		return Validity{Reason: ReasonNoUsageInfo, Message: "usage information unavailable"}
	}
	if details.Available <= 0 {
		return Validity{
			Reason:  ReasonQuotaExceeded,
			Message: fmt.Sprintf("quota exhausted (used %.2f of %.2f)", details.TotalUsed, details.TotalLimit),
			Details: details,
		}
	}
	return Validity{
		Valid:   true,
		Reason:  ReasonValid,
		Message: fmt.Sprintf("credential valid (%.2f remaining)", details.Available),
		Details: details,
	}
}

// CheckAll checks every enabled credential concurrently. Results keep the
// store's order.
func (g *Gate) CheckAll(ctx context.Context) ([]CheckResult, error) {
	creds, err := g.store.ListEnabledCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	results := make([]CheckResult, len(creds))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(checkParallelism)

	for i, cred := range creds {
		i, cred := i, cred
		group.Go(func() error {
			results[i] = CheckResult{Credential: cred, Validity: g.CheckUsage(groupCtx, cred)}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (g *Gate) fetchUsageLimits(ctx context.Context, accessToken string) (usageLimits, error) {
	endpoint, err := url.Parse(g.endpoints.UsageLimitsURL)
	if err != nil {
		return usageLimits{}, fmt.Errorf("parse usage limits url: %w", err)
	}
	q := endpoint.Query()
	q.Set("isEmailRequired", "true")
	q.Set("origin", "AI_EDITOR")
	q.Set("resourceType", "AGENTIC_REQUEST")
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return usageLimits{}, fmt.Errorf("construct usage request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("x-amz-user-agent", usageAmzUserAgent)
	req.Header.Set("User-Agent", usageUserAgent)
	req.Header.Set("amz-sdk-request", "attempt=1; max=1")

	resp, err := g.client.Do(req)
	if err != nil {
		return usageLimits{}, fmt.Errorf("usage check failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRefreshBody))
	if err != nil {
		return usageLimits{}, fmt.Errorf("read usage response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return usageLimits{}, fmt.Errorf("usage check failed (status %d): %s", resp.StatusCode, errorDetail(raw))
	}

	var limits usageLimits
	if err := json.Unmarshal(raw, &limits); err != nil {
		return usageLimits{}, fmt.Errorf("decode usage response: %w", err)
	}
	return limits, nil
}
