// Package proxy drives one caller request through credential selection,
// the upstream call and response translation.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"kiro-relay/internal/credential"
	"kiro-relay/internal/eventstream"
	"kiro-relay/internal/history"
	"kiro-relay/internal/metrics"
	"kiro-relay/internal/models"
	"kiro-relay/internal/translator"
	"kiro-relay/internal/upstream"
)

// DefaultRecordTimeout bounds the detached usage bookkeeping writes.
const DefaultRecordTimeout = 5 * time.Second

// State is a step of the request lifecycle.
type State int

const (
	StateSelectCredential State = iota
	StateRefreshToken
	StateBuildRequest
	StateCallUpstream
	StateDecodeResponse
	StateHandleLengthExceeded
	StateTranslateResponse
	StateRecordUsage
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateSelectCredential:
		return "SelectCredential"
	case StateRefreshToken:
		return "RefreshToken"
	case StateBuildRequest:
		return "BuildRequest"
	case StateCallUpstream:
		return "CallUpstream"
	case StateDecodeResponse:
		return "DecodeResponse"
	case StateHandleLengthExceeded:
		return "HandleLengthExceeded"
	case StateTranslateResponse:
		return "TranslateResponse"
	case StateRecordUsage:
		return "RecordUsage"
	case StateDone:
		return "Done"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// CredentialGate selects and refreshes credentials.
type CredentialGate interface {
	Select(ctx context.Context) (credential.Credential, error)
	Refresh(ctx context.Context, cred credential.Credential) (credential.Token, error)
}

// Upstream performs the chat call.
type Upstream interface {
	Generate(ctx context.Context, bearer string, state models.ConversationState) (upstream.Reply, error)
}

// UsageLog appends usage rows.
type UsageLog interface {
	AppendUsage(ctx context.Context, rec models.UsageRecord) (int64, error)
}

// UsageCounter maintains per-credential counters.
type UsageCounter interface {
	IncrementUsage(ctx context.Context, id int64) error
	TouchLastUsed(ctx context.Context, id int64, at time.Time) error
}

// Config wires an Orchestrator. Metrics, Logger, Now, IDs and RecordTimeout
// are optional.
type Config struct {
	Gate          CredentialGate
	Upstream      Upstream
	Catalog       *models.Catalog
	UsageLog      UsageLog
	Counter       UsageCounter
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	Now           func() time.Time
	IDs           history.IDSource
	RecordTimeout time.Duration
}

// Orchestrator is safe for concurrent use; each Handle call owns its state.
type Orchestrator struct {
	gate          CredentialGate
	upstream      Upstream
	catalog       *models.Catalog
	usageLog      UsageLog
	counter       UsageCounter
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time
	ids           history.IDSource
	recordTimeout time.Duration
}

// New constructs an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Gate == nil || cfg.Upstream == nil {
		return nil, errors.New("proxy: gate and upstream are required")
	}
	if cfg.UsageLog == nil || cfg.Counter == nil {
		return nil, errors.New("proxy: usage log and counter are required")
	}
	o := &Orchestrator{
		gate:          cfg.Gate,
		upstream:      cfg.Upstream,
		catalog:       cfg.Catalog,
		usageLog:      cfg.UsageLog,
		counter:       cfg.Counter,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		now:           cfg.Now,
		ids:           cfg.IDs,
		recordTimeout: cfg.RecordTimeout,
	}
	if o.catalog == nil {
		o.catalog = models.DefaultCatalog()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.ids == nil {
		o.ids = history.UUIDSource{}
	}
	if o.recordTimeout <= 0 {
		o.recordTimeout = DefaultRecordTimeout
	}
	return o, nil
}

// Result is a completed call.
type Result struct {
	Completion models.Completion
	// Body is the rendered non-streaming response for the dialect.
	Body any
	// IDs are the response identifiers used by Body; stream replays reuse them.
	IDs translator.ResponseIDs
}

// call carries one request through the state machine.
type call struct {
	dialect translator.Dialect
	req     models.CanonicalRequest
	state   State
	started time.Time
	cred    credential.Credential
	hasCred bool
	events  []eventstream.Event
	result  Result
	logger  *slog.Logger
}

func (c *call) enter(s State) {
	c.state = s
	c.logger.Debug("proxy state", "state", s.String())
}

// Handle proxies req and returns the completion rendered for dialect.
func (o *Orchestrator) Handle(ctx context.Context, dialect translator.Dialect, req models.CanonicalRequest) (Result, error) {
	c := &call{
		dialect: dialect,
		req:     req,
		started: o.now(),
		logger:  o.logger.With("dialect", dialect.String(), "model", req.Model),
	}

	if err := validate(req); err != nil {
		return o.fail(ctx, c, err)
	}

	c.enter(StateSelectCredential)
	cred, err := o.gate.Select(ctx)
	if err != nil {
		if errors.Is(err, credential.ErrNoAvailableCredential) {
			return o.fail(ctx, c, newError(KindNoAvailableCredential, "no available credential", nil))
		}
		return o.fail(ctx, c, newError(KindNoAvailableCredential, "credential lookup failed", err))
	}
	c.cred, c.hasCred = cred, true
	c.logger = c.logger.With("credential_id", cred.ID)

	c.enter(StateRefreshToken)
	token, err := o.gate.Refresh(ctx, cred)
	if err != nil {
		return o.fail(ctx, c, newError(KindCredentialRefreshFailed, "", err))
	}

	c.enter(StateBuildRequest)
	internal := o.catalog.Resolve(req.Model)
	conv, err := history.Build(req, internal, history.NewConversationID(), o.ids)
	if err != nil {
		return o.fail(ctx, c, newError(KindInvalidRequest, "invalid request", err))
	}

	c.enter(StateCallUpstream)
	callStart := o.now()
	reply, err := o.upstream.Generate(ctx, token.AccessToken, conv)
	if o.metrics != nil {
		o.metrics.UpstreamDuration.Observe(o.now().Sub(callStart).Seconds())
	}
	if err != nil {
		return o.fail(ctx, c, newError(KindUpstreamCallFailed, "", err))
	}

	var completion models.Completion
	if reply.LengthExceeded {
		c.enter(StateHandleLengthExceeded)
		completion = models.Completion{Model: req.Model, Truncated: true}
	} else {
		c.enter(StateDecodeResponse)
		decoder := eventstream.NewDecoder(c.logger)
		c.events = decoder.Feed(reply.Body)
		if leftover := decoder.Buffered(); leftover > 0 {
			c.logger.Warn("event stream ended mid-frame", "kind", KindFrameDecodeSkipped.String(), "buffered", leftover)
		}
		if o.metrics != nil && decoder.Skipped() > 0 {
			o.metrics.FramesSkipped.Add(float64(decoder.Skipped()))
		}
		content, usage := translator.Accumulate(c.events)
		completion = models.Completion{Model: req.Model, Content: content, Usage: usage}
	}

	c.enter(StateTranslateResponse)
	ids := translator.ResponseIDs{Now: o.now()}
	c.result = Result{
		Completion: completion,
		Body:       translator.Render(dialect, completion, ids),
		IDs:        ids,
	}

	c.enter(StateRecordUsage)
	o.record(ctx, c, models.UsageStatusSuccess, "", true)
	o.observe(c, outcomeFor(completion))

	c.enter(StateDone)
	return c.result, nil
}

func validate(req models.CanonicalRequest) *Error {
	if req.Model == "" {
		return newError(KindInvalidRequest, "model is required", nil)
	}
	if len(req.Turns) == 0 {
		return newError(KindInvalidRequest, "messages must contain at least one user or assistant message", nil)
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, c *call, err *Error) (Result, error) {
	from := c.state
	c.enter(StateError)
	c.logger.Warn("proxy request failed", "kind", err.Kind.String(), "from_state", from.String(), "err", err)
	if c.hasCred {
		o.record(ctx, c, models.UsageStatusError, err.Error(), false)
	}
	o.observe(c, outcomeForKind(err.Kind))
	return Result{}, err
}

// record writes the usage row and, on success, bumps the credential
// counters. Failures are logged and counted but never surface.
func (o *Orchestrator) record(ctx context.Context, c *call, status, message string, success bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.recordTimeout)
	defer cancel()

	finished := o.now()
	rec := models.UsageRecord{
		CredentialID: c.cred.ID,
		Model:        c.req.Model,
		Usage:        c.result.Completion.Usage,
		RequestTime:  c.started,
		ResponseTime: finished.Sub(c.started).Milliseconds(),
		Status:       status,
		ErrorMessage: message,
	}
	if _, err := o.usageLog.AppendUsage(ctx, rec); err != nil {
		o.recordFailed(c, "append usage", err)
	}
	if !success {
		return
	}
	if err := o.counter.IncrementUsage(ctx, c.cred.ID); err != nil {
		o.recordFailed(c, "increment usage", err)
	}
	if err := o.counter.TouchLastUsed(ctx, c.cred.ID, finished); err != nil {
		o.recordFailed(c, "touch last used", err)
	}
}

func (o *Orchestrator) recordFailed(c *call, op string, err error) {
	c.logger.Warn("usage bookkeeping failed", "kind", KindLoggingFailed.String(), "op", op, "err", err)
	if o.metrics != nil {
		o.metrics.UsageRecordFailures.Inc()
	}
}

func (o *Orchestrator) observe(c *call, outcome string) {
	if o.metrics == nil {
		return
	}
	o.metrics.RequestsTotal.WithLabelValues(c.dialect.String(), outcome).Inc()
	if outcome == metrics.OutcomeOK {
		u := c.result.Completion.Usage
		o.metrics.ObserveTokens(u.InputTokens, u.OutputTokens)
	}
}

func outcomeFor(c models.Completion) string {
	if c.Truncated {
		return metrics.OutcomeTruncated
	}
	return metrics.OutcomeOK
}

func outcomeForKind(k Kind) string {
	switch k {
	case KindInvalidRequest:
		return metrics.OutcomeInvalid
	case KindNoAvailableCredential:
		return metrics.OutcomeNoCredential
	case KindCredentialRefreshFailed:
		return metrics.OutcomeRefreshFailed
	default:
		return metrics.OutcomeUpstreamFailed
	}
}

