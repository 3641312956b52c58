// Package orchestrator answers AI requests from the tiered cache when it can
// and calls the provider through a per tenant and action circuit breaker
// when it cannot.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/guardian-crm/guardian/pkg/breaker"
	"github.com/guardian-crm/guardian/pkg/budget"
	"github.com/guardian-crm/guardian/pkg/cache"
	"github.com/guardian-crm/guardian/pkg/config"
	"github.com/guardian-crm/guardian/pkg/keys"
	"github.com/guardian-crm/guardian/pkg/logging"
	"github.com/guardian-crm/guardian/pkg/models"
	"github.com/guardian-crm/guardian/pkg/schema"
	"github.com/guardian-crm/guardian/pkg/tracker"
)

const (
	// DefaultTimeout bounds a provider call when Options.Timeout is unset.
	DefaultTimeout = 30 * time.Second

	relaxedThreshold   = 0.5
	highConfidenceAt   = 0.7
	tracerName         = "github.com/guardian-crm/guardian/pkg/orchestrator"
	similarFallbackMsg = "Using similar cached response"
)

// Provider calls the upstream model.
type Provider interface {
	Call(ctx context.Context, req models.ProviderRequest) (*models.ProviderResponse, error)
}

// Validator checks a result against the expected shape for its action.
type Validator interface {
	Validate(r models.Result) []string
}

// BudgetChecker rejects requests from tenants that spent their budget.
type BudgetChecker interface {
	Check(ctx context.Context, tenantID string, action models.ActionType) error
}

// Options tune a single Process call.
type Options struct {
	// BypassCache skips the lookups. The fresh result is still cached.
	BypassCache bool
	// Timeout bounds the provider call. Zero means DefaultTimeout.
	Timeout time.Duration
	// RawErrors returns provider failures in a closed circuit as errors
	// instead of degrading.
	RawErrors bool
	// MinSimilarity overrides the semantic threshold stored with each entry.
	MinSimilarity float64
	// Model overrides the routed model.
	Model string
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	provider  Provider
	cache     *cache.Tiered
	breakers  *breaker.Manager
	metrics   *tracker.Metrics
	budget    BudgetChecker
	policies  cache.PolicySource
	validator Validator
	tracer    trace.Tracer
	now       func() time.Time
	log       logging.Scoped
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache sets the tiered cache.
func WithCache(c *cache.Tiered) Option { return func(o *Orchestrator) { o.cache = c } }

// WithBreakers sets the breaker manager.
func WithBreakers(m *breaker.Manager) Option { return func(o *Orchestrator) { o.breakers = m } }

// WithMetrics sets the usage collector.
func WithMetrics(m *tracker.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithBudget enables budget enforcement before provider calls.
func WithBudget(b BudgetChecker) Option { return func(o *Orchestrator) { o.budget = b } }

// WithPolicies sets the per action policy source used for caching thresholds
// and, unless WithCache or WithBreakers are given, for the defaults built here.
func WithPolicies(p cache.PolicySource) Option { return func(o *Orchestrator) { o.policies = p } }

// WithValidator replaces the built-in JSON schema validator.
func WithValidator(v Validator) Option { return func(o *Orchestrator) { o.validator = v } }

// WithClock overrides the time source used for response times.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithLogger logs through l instead of the default logger.
func WithLogger(l *bolt.Logger) Option { return func(o *Orchestrator) { o.log = logging.For(l) } }

// WithTracer replaces the global otel tracer.
func WithTracer(t trace.Tracer) Option { return func(o *Orchestrator) { o.tracer = t } }

// New creates an Orchestrator. Collaborators that are not supplied get
// in-memory defaults driven by config.Default's policy table.
func New(p Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{provider: p, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.policies == nil {
		o.policies = config.Default()
	}
	if o.cache == nil {
		o.cache = cache.New(o.policies, cache.WithClock(o.now))
	}
	if o.breakers == nil {
		o.breakers = breaker.NewManager(breaker.FromConfig(o.policies), breaker.WithClock(o.now))
	}
	if o.metrics == nil {
		o.metrics = tracker.NewMetrics(tracker.WithClock(o.now))
	}
	if o.validator == nil {
		o.validator = schema.MustNew()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}

// Process answers one request. It returns an error only when the provider
// failed, the circuit is still closed and opts.RawErrors is set; every other
// failure produces a degraded envelope.
func (o *Orchestrator) Process(ctx context.Context, tenantID string, action models.ActionType, input map[string]any, opts Options) (*models.Envelope, error) {
	start := o.now()
	ctx, span := o.tracer.Start(ctx, "guardian.process", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String("guardian.tenant", tenantID),
		attribute.String("guardian.action", string(action)),
		attribute.Bool("guardian.bypass_cache", opts.BypassCache),
	)

	env := &models.Envelope{Metadata: models.EnvelopeMetadata{
		RequestID: uuid.NewString(),
		CacheKey:  keys.Normalize(tenantID, action, input),
	}}
	rec := models.UsageRecord{
		RequestID: env.Metadata.RequestID,
		TenantID:  tenantID,
		Action:    action,
		Tier:      models.TierMiss,
	}
	finish := func() {
		elapsed := o.now().Sub(start)
		env.ResponseTimeMs = elapsed.Milliseconds()
		rec.ResponseTime = elapsed
		o.metrics.Record(ctx, rec)
		span.SetAttributes(
			attribute.String("guardian.tier", string(rec.Tier)),
			attribute.Bool("guardian.degraded", rec.Degraded),
		)
	}

	if !opts.BypassCache && o.lookup(ctx, tenantID, action, input, opts, env) {
		rec.Tier = env.CacheTier
		rec.Success = true
		finish()
		return env, nil
	}

	if o.budget != nil {
		if err := o.budget.Check(ctx, tenantID, action); errors.Is(err, budget.ErrBudgetExceeded) {
			o.log.Warn().
				Add(logging.Tenant(tenantID)).
				Add(logging.Action(action)).
				Add(logging.ErrorField(err)).
				Msg("budget exceeded, serving degraded response")
			o.degrade(ctx, env, tenantID, action, input, err)
			rec.Success = env.Success
			rec.Degraded = true
			finish()
			return env, nil
		} else if err != nil {
			o.log.Warn().
				Add(logging.Tenant(tenantID)).
				Add(logging.ErrorField(err)).
				Msg("budget check failed, allowing request")
		}
	}

	// Concurrent misses on the same key each reach the provider. A single-flight
	// group keyed by the cache key could collapse them into one call.
	var fallback breaker.Fallback
	if !opts.RawErrors {
		fallback = o.similarFallback(tenantID, action, input)
	}
	outcome, err := o.breakers.Get(tenantID, action).Execute(ctx, o.call(tenantID, action, input, opts), fallback)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		finish()
		return nil, err
	}
	env.Metadata.CircuitState = outcome.State

	if outcome.Degraded() {
		o.applyFallback(env, outcome.Fallback)
		if outcome.Err != nil {
			env.Metadata.Error = outcome.Err.Error()
			span.RecordError(outcome.Err)
		}
		rec.Success = env.Success
		rec.Degraded = true
		finish()
		return env, nil
	}

	resp := outcome.Response
	result := resp.Result
	env.Result = &result
	env.Success = true
	env.Cost = resp.Cost
	env.Tokens = resp.Tokens
	env.Metadata.Model = resp.Model

	problems := o.validator.Validate(result)
	if len(problems) > 0 {
		env.Metadata.ValidationErrors = problems
		o.log.Warn().
			Add(logging.Tenant(tenantID)).
			Add(logging.Action(action)).
			Add(logging.RequestID(env.Metadata.RequestID)).
			Add(logging.Int("problems", len(problems))).
			Add(logging.Str("first", problems[0])).
			Msg("provider result failed schema validation")
	}

	policy := o.policies.Policy(action)
	if len(problems) == 0 && (resp.CostUnknown || resp.Cost >= policy.MinCostToCache) {
		o.cache.Put(ctx, tenantID, action, input, result, models.EntryMetadata{
			Model:          resp.Model,
			Tokens:         resp.Tokens,
			Cost:           resp.Cost,
			ProcessingTime: resp.ProcessingTime,
		})
	}

	rec.Success = true
	rec.Cost = resp.Cost
	rec.Tokens = resp.Tokens
	finish()
	span.SetStatus(codes.Ok, "")
	return env, nil
}

// lookup tries the exact, semantic and template tiers in order and fills env
// from the first hit.
func (o *Orchestrator) lookup(ctx context.Context, tenantID string, action models.ActionType, input map[string]any, opts Options, env *models.Envelope) bool {
	var (
		entry *models.CacheEntry
		sim   float64
	)
	if e, ok := o.cache.LookupExact(ctx, tenantID, action, input); ok {
		entry, sim = e, 1
	} else if m, ok := o.cache.LookupSemantic(ctx, tenantID, action, input, opts.MinSimilarity); ok {
		entry, sim = m.Entry, m.Similarity
	} else if m, ok := o.cache.LookupTemplate(ctx, tenantID, action, input); ok {
		entry, sim = m.Entry, m.Similarity
	} else {
		return false
	}

	result := entry.Result
	env.Result = &result
	env.Success = true
	env.Cached = true
	env.CacheTier = entry.Tier
	env.Metadata.CacheKey = entry.Key
	env.Metadata.Model = entry.Metadata.Model
	env.Metadata.Similarity = sim

	o.log.Debug().
		Add(logging.Tenant(tenantID)).
		Add(logging.Action(action)).
		Add(logging.Tier(entry.Tier)).
		Add(logging.Float("similarity", sim)).
		Msg("cache hit")
	return true
}

func (o *Orchestrator) call(tenantID string, action models.ActionType, input map[string]any, opts Options) breaker.Operation {
	return func(ctx context.Context) (*models.ProviderResponse, error) {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		resp, err := o.provider.Call(ctx, models.ProviderRequest{
			TenantID: tenantID,
			Action:   action,
			Input:    input,
			Model:    opts.Model,
		})
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, errNilResponse
		}
		return resp, nil
	}
}

var errNilResponse = errors.New("provider returned no response")

// similarFallback recovers a degraded answer from a loosely similar cached
// entry. It yields nothing when no entry is close enough, so the breaker
// serves its default for the action's degradation mode.
func (o *Orchestrator) similarFallback(tenantID string, action models.ActionType, input map[string]any) breaker.Fallback {
	return func(ctx context.Context, _ error) (*models.FallbackResponse, error) {
		m, ok := o.cache.PeekSemantic(ctx, tenantID, action, input, relaxedThreshold)
		if !ok {
			return nil, nil
		}
		confidence := models.ConfidenceMedium
		if m.Similarity > highConfidenceAt {
			confidence = models.ConfidenceHigh
		}
		result := m.Entry.Result
		return &models.FallbackResponse{
			Result:         &result,
			FallbackReason: similarFallbackMsg,
			Confidence:     confidence,
			Strategy:       "semantic_cache",
			Similarity:     m.Similarity,
		}, nil
	}
}

// degrade fills env without going through the breaker, for requests that
// were refused before reaching it.
func (o *Orchestrator) degrade(ctx context.Context, env *models.Envelope, tenantID string, action models.ActionType, input map[string]any, cause error) {
	fb, _ := o.similarFallback(tenantID, action, input)(ctx, cause)
	if fb == nil {
		fb = breaker.DefaultFallback(action, o.policies.Policy(action).DegradationMode, time.Time{})
	}
	fb.Degraded = true
	o.applyFallback(env, fb)
	env.Metadata.Error = cause.Error()
}

func (o *Orchestrator) applyFallback(env *models.Envelope, fb *models.FallbackResponse) {
	env.Result = fb.Result
	env.Success = fb.Result != nil
	env.Metadata.Degraded = true
	env.Metadata.Fallback = fb
	env.Metadata.Similarity = fb.Similarity
}

// Invalidate drops cached entries whose key contains pattern, restricted to
// tenantID when it is not empty.
func (o *Orchestrator) Invalidate(ctx context.Context, pattern, tenantID string) int {
	return o.cache.Invalidate(ctx, pattern, tenantID)
}

// Stats returns usage statistics for a tenant, or for all tenants when
// tenantID is empty.
func (o *Orchestrator) Stats(tenantID string) models.UsageStats {
	return o.metrics.Stats(tenantID)
}

// CacheStats returns per tier cache counters.
func (o *Orchestrator) CacheStats() models.CacheStats {
	return o.cache.Stats()
}

// CircuitMetrics returns a snapshot of every breaker.
func (o *Orchestrator) CircuitMetrics() []models.CircuitMetrics {
	return o.breakers.Metrics()
}

// CircuitHealth counts breakers by state.
func (o *Orchestrator) CircuitHealth() models.CircuitHealth {
	return o.breakers.Health()
}

// ResetCircuit closes one breaker, or all of them when key is empty.
func (o *Orchestrator) ResetCircuit(key string) bool {
	if key == "" {
		o.breakers.ResetAll()
		return true
	}
	return o.breakers.Reset(key)
}

// Feedback records a 1 to 5 rating for a cached entry.
func (o *Orchestrator) Feedback(key string, score int) error {
	return o.cache.AddFeedback(key, score)
}

// Close releases the cache.
func (o *Orchestrator) Close() error {
	return o.cache.Close()
}
