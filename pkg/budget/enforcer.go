package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guardian-crm/guardian/pkg/models"
	"github.com/guardian-crm/guardian/pkg/tracker"
)

// ErrBudgetExceeded is returned when a tenant has spent its token budget.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Usage reports provider tokens spent. tracker.Tracker satisfies it.
type Usage interface {
	TotalByTenant(ctx context.Context, tenantID string, since time.Time) (int64, error)
	TotalByTenantAndAction(ctx context.Context, tenantID string, action models.ActionType, since time.Time) (int64, error)
}

var _ Usage = tracker.Tracker(nil)

// Enforcer checks provider token usage against budget policies.
type Enforcer struct {
	policies []models.BudgetPolicy
	usage    Usage
	now      func() time.Time
}

// New creates an Enforcer with the given policies and usage source.
func New(policies []models.BudgetPolicy, u Usage) *Enforcer {
	return &Enforcer{policies: policies, usage: u, now: time.Now}
}

// WithClock overrides the time source used to find period boundaries.
func (e *Enforcer) WithClock(now func() time.Time) *Enforcer {
	e.now = now
	return e
}

// Check returns ErrBudgetExceeded if the tenant has exceeded any policy that
// applies to the action.
func (e *Enforcer) Check(ctx context.Context, tenantID string, action models.ActionType) error {
	for _, p := range e.policiesFor(tenantID) {
		if p.Action != "" && p.Action != action {
			continue
		}
		used, err := e.used(ctx, tenantID, p)
		if err != nil {
			return fmt.Errorf("budget check: %w", err)
		}
		if used >= p.MaxTokens {
			return fmt.Errorf("%w: tenant %s used %d of %d tokens", ErrBudgetExceeded, tenantID, used, p.MaxTokens)
		}
	}
	return nil
}

// Status returns the budget status for a tenant across all applicable policies.
func (e *Enforcer) Status(ctx context.Context, tenantID string) ([]models.BudgetStatus, error) {
	policies := e.policiesFor(tenantID)
	statuses := make([]models.BudgetStatus, 0, len(policies))

	for _, p := range policies {
		used, err := e.used(ctx, tenantID, p)
		if err != nil {
			return nil, fmt.Errorf("budget status: %w", err)
		}
		statuses = append(statuses, models.BudgetStatus{
			Policy:    p,
			Used:      used,
			Remaining: max(p.MaxTokens-used, 0),
		})
	}
	return statuses, nil
}

func (e *Enforcer) used(ctx context.Context, tenantID string, p models.BudgetPolicy) (int64, error) {
	since := periodStart(p.Period, e.now())
	if p.Action != "" {
		return e.usage.TotalByTenantAndAction(ctx, tenantID, p.Action, since)
	}
	return e.usage.TotalByTenant(ctx, tenantID, since)
}

// policiesFor returns all policies matching a tenant, ignoring the action filter.
func (e *Enforcer) policiesFor(tenantID string) []models.BudgetPolicy {
	var result []models.BudgetPolicy
	for _, p := range e.policies {
		if p.TenantID == "*" || p.TenantID == tenantID {
			result = append(result, p)
		}
	}
	return result
}

func periodStart(period models.BudgetPeriod, now time.Time) time.Time {
	now = now.UTC()
	switch period {
	case models.BudgetMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}
