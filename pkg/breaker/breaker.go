// Package breaker guards provider calls with a per tenant and action circuit
// breaker that answers with degraded responses while the provider is failing.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/guardian-crm/guardian/pkg/config"
	"github.com/guardian-crm/guardian/pkg/logging"
	"github.com/guardian-crm/guardian/pkg/models"
)

// Settings configures one breaker.
type Settings struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
	MonitoringWindow time.Duration
	DegradationMode  models.DegradationMode
}

// FromPolicy extracts breaker settings from an action policy.
func FromPolicy(p config.ActionPolicy) Settings {
	s := Settings{
		FailureThreshold: p.FailureThreshold,
		RecoveryTimeout:  p.RecoveryTimeout,
		SuccessThreshold: p.SuccessThreshold,
		MonitoringWindow: p.MonitoringWindow,
		DegradationMode:  p.DegradationMode,
	}
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 3
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = time.Minute
	}
	if s.MonitoringWindow <= 0 {
		s.MonitoringWindow = 5 * time.Minute
	}
	if s.DegradationMode == "" {
		s.DegradationMode = models.DegradeCacheOnly
	}
	return s
}

// Operation is the guarded provider call.
type Operation func(ctx context.Context) (*models.ProviderResponse, error)

// Fallback produces a degraded response. cause is the provider error, or
// ErrOpen when the call was short-circuited.
type Fallback func(ctx context.Context, cause error) (*models.FallbackResponse, error)

// Outcome is the result of Execute: either a provider response or a
// degraded fallback.
type Outcome struct {
	Response *models.ProviderResponse
	Fallback *models.FallbackResponse
	// State is the breaker state once the call was accounted for.
	State models.CircuitState
	// Err is the provider error that led to the fallback, if any.
	Err error
}

// Degraded reports whether the outcome is a fallback.
func (o *Outcome) Degraded() bool { return o.Fallback != nil }

// StateChangeFunc observes breaker transitions.
type StateChangeFunc func(key string, from, to models.CircuitState)

// Breaker is a circuit breaker for one tenant and action.
type Breaker struct {
	key      string
	tenantID string
	action   models.ActionType
	settings Settings
	now      func() time.Time
	onChange StateChangeFunc

	mu               sync.Mutex
	state            models.CircuitState
	generation       uint64
	failures         int
	successes        int
	trials           int
	lastFailure      time.Time
	lastSuccess      time.Time
	totalRequests    int64
	totalFailures    int64
	recoveryAttempts int64
	degraded         int64
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange registers a transition observer. It is called with the
// breaker's lock held and must not call back into the breaker.
func WithStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// New creates a closed breaker.
func New(tenantID string, action models.ActionType, s Settings, opts ...Option) *Breaker {
	b := &Breaker{
		key:      Key(tenantID, action),
		tenantID: tenantID,
		action:   action,
		settings: s,
		now:      time.Now,
		state:    models.CircuitClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Key identifies the breaker of a tenant and action.
func Key(tenantID string, action models.ActionType) string {
	return tenantID + ":" + string(action)
}

// Execute runs op through the breaker.
//
// While the circuit is open, or when all half-open trial slots are taken, op
// is not called and the fallback is returned. A failure that opens the
// circuit, or any failure while half-open, also resolves to the fallback. A
// failure that leaves the circuit closed resolves to the fallback only when
// one was supplied; otherwise the provider error is returned unchanged.
//
// Fallback resolution tries fallback first and uses the default degraded
// response for the configured mode when it is nil or fails.
func (b *Breaker) Execute(ctx context.Context, op Operation, fallback Fallback) (*Outcome, error) {
	gen, ok := b.before()
	if !ok {
		return b.degrade(ctx, fallback, ErrOpen), nil
	}

	resp, err := op(ctx)
	state := b.after(gen, err)
	if err == nil {
		return &Outcome{Response: resp, State: state}, nil
	}
	if state == models.CircuitClosed && fallback == nil {
		return nil, err
	}
	return b.degrade(ctx, fallback, err), nil
}

// before admits or rejects a call and returns the generation it runs in.
func (b *Breaker) before() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++
	now := b.now()

	switch b.state {
	case models.CircuitOpen:
		if now.Sub(b.lastFailure) < b.settings.RecoveryTimeout {
			return b.generation, false
		}
		b.recoveryAttempts++
		b.transition(models.CircuitHalfOpen)
		b.trials = 1
		return b.generation, true
	case models.CircuitHalfOpen:
		if b.trials >= b.settings.SuccessThreshold {
			return b.generation, false
		}
		b.trials++
		return b.generation, true
	default:
		return b.generation, true
	}
}

// after accounts for a finished call and returns the resulting state. Calls
// that started before the last transition only update totals.
func (b *Breaker) after(gen uint64, err error) models.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if err != nil {
		b.totalFailures++
	} else {
		b.lastSuccess = now
	}
	if gen != b.generation {
		return b.state
	}
	if b.state == models.CircuitHalfOpen {
		b.trials--
	}

	if err == nil {
		b.onSuccess(now)
	} else {
		b.onFailure(now, err)
	}
	return b.state
}

func (b *Breaker) onSuccess(now time.Time) {
	switch b.state {
	case models.CircuitHalfOpen:
		b.successes++
		if b.successes >= b.settings.SuccessThreshold {
			b.transition(models.CircuitClosed)
		}
	case models.CircuitClosed:
		if b.failures > 0 && now.Sub(b.lastFailure) <= b.settings.MonitoringWindow {
			b.failures--
		} else {
			b.failures = 0
		}
	}
}

func (b *Breaker) onFailure(now time.Time, err error) {
	b.failures++
	b.lastFailure = now

	logging.Debug().
		Add(logging.Tenant(b.tenantID)).
		Add(logging.Action(b.action)).
		Add(logging.Int("failures", b.failures)).
		Add(logging.ErrorField(err)).
		Msg("provider call failed")

	switch b.state {
	case models.CircuitClosed:
		if b.failures >= b.settings.FailureThreshold {
			b.transition(models.CircuitOpen)
		}
	case models.CircuitHalfOpen:
		b.transition(models.CircuitOpen)
	}
}

// transition moves to a new state and starts a new generation. Callers must
// hold b.mu.
func (b *Breaker) transition(to models.CircuitState) {
	from := b.state
	b.state = to
	b.generation++
	b.successes = 0
	b.trials = 0
	if to == models.CircuitClosed {
		b.failures = 0
	}

	ev := logging.Info()
	if to == models.CircuitOpen {
		ev = logging.Warn()
	}
	ev.Add(logging.Tenant(b.tenantID)).
		Add(logging.Action(b.action)).
		Add(logging.FromState(from)).
		Add(logging.ToState(to)).
		Add(logging.Int64("recovery_attempts", b.recoveryAttempts)).
		Msg("circuit state changed")

	if b.onChange != nil {
		b.onChange(b.key, from, to)
	}
}

func (b *Breaker) degrade(ctx context.Context, fallback Fallback, cause error) *Outcome {
	b.mu.Lock()
	b.degraded++
	state := b.state
	retry := b.now().Add(b.settings.RecoveryTimeout)
	b.mu.Unlock()

	out := &Outcome{State: state}
	if !errors.Is(cause, ErrOpen) {
		out.Err = cause
	}

	if fallback != nil {
		fb, err := fallback(ctx, cause)
		if err == nil && fb != nil {
			fb.Degraded = true
			if fb.SuggestedRetryTime.IsZero() {
				fb.SuggestedRetryTime = retry
			}
			out.Fallback = fb
			return out
		}
		if err != nil {
			logging.Warn().
				Add(logging.Tenant(b.tenantID)).
				Add(logging.Action(b.action)).
				Add(logging.ErrorField(err)).
				Msg("fallback strategy failed")
		}
	}
	out.Fallback = DefaultFallback(b.action, b.settings.DegradationMode, retry)
	return out
}

// State returns the current state.
func (b *Breaker) State() models.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RetryAfter returns how long until an open breaker admits a trial call, or
// 0 when it is not open.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != models.CircuitOpen {
		return 0
	}
	return max(0, b.settings.RecoveryTimeout-b.now().Sub(b.lastFailure))
}

// Metrics returns a snapshot of the breaker's counters.
func (b *Breaker) Metrics() models.CircuitMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return models.CircuitMetrics{
		Key:              b.key,
		TenantID:         b.tenantID,
		Action:           b.action,
		State:            b.state,
		FailureCount:     b.failures,
		SuccessCount:     b.successes,
		LastFailureTime:  b.lastFailure,
		LastSuccessTime:  b.lastSuccess,
		TotalRequests:    b.totalRequests,
		TotalFailures:    b.totalFailures,
		RecoveryAttempts: b.recoveryAttempts,
		DegradedRequests: b.degraded,
	}
}

// Force sets the state directly. Forcing CLOSED clears the counters.
func (b *Breaker) Force(state models.CircuitState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if state == models.CircuitOpen {
		// An open circuit waits a full recovery timeout from now.
		b.lastFailure = b.now()
	}
	b.transition(state)
}

// Reset returns the breaker to a fresh closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != models.CircuitClosed {
		b.transition(models.CircuitClosed)
	}
	b.failures = 0
	b.lastFailure = time.Time{}
	b.lastSuccess = time.Time{}
	b.totalRequests = 0
	b.totalFailures = 0
	b.recoveryAttempts = 0
	b.degraded = 0
}
