package breaker

import (
	"sort"
	"sync"

	"github.com/guardian-crm/guardian/pkg/config"
	"github.com/guardian-crm/guardian/pkg/models"
)

// PolicySource resolves per action breaker settings.
type PolicySource interface {
	Settings(action models.ActionType) Settings
}

// PolicySourceFunc adapts a function to PolicySource.
type PolicySourceFunc func(action models.ActionType) Settings

// Settings implements PolicySource.
func (f PolicySourceFunc) Settings(action models.ActionType) Settings { return f(action) }

// FromConfig derives settings from the action policies of src.
func FromConfig(src interface {
	Policy(models.ActionType) config.ActionPolicy
}) PolicySource {
	return PolicySourceFunc(func(action models.ActionType) Settings {
		return FromPolicy(src.Policy(action))
	})
}

// Manager owns one breaker per tenant and action, created on first use.
type Manager struct {
	policies PolicySource
	opts     []Option

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewManager creates a manager. opts are applied to every breaker it creates.
func NewManager(policies PolicySource, opts ...Option) *Manager {
	return &Manager{
		policies: policies,
		opts:     opts,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a tenant and action.
func (m *Manager) Get(tenantID string, action models.ActionType) *Breaker {
	key := Key(tenantID, action)

	m.mu.RLock()
	b, ok := m.breakers[key]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[key]; ok {
		return b
	}
	b = New(tenantID, action, m.policies.Settings(action), m.opts...)
	m.breakers[key] = b
	return b
}

func (m *Manager) snapshot() []*Breaker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		out = append(out, b)
	}
	return out
}

// Metrics returns a snapshot of every breaker, sorted by key.
func (m *Manager) Metrics() []models.CircuitMetrics {
	breakers := m.snapshot()
	out := make([]models.CircuitMetrics, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Metrics())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Health counts breakers by state: closed are healthy, half-open degraded
// and open failed.
func (m *Manager) Health() models.CircuitHealth {
	var h models.CircuitHealth
	for _, b := range m.snapshot() {
		switch b.State() {
		case models.CircuitClosed:
			h.Healthy++
		case models.CircuitHalfOpen:
			h.Degraded++
		case models.CircuitOpen:
			h.Failed++
		}
		h.Total++
	}
	return h
}

// Reset resets one breaker. It reports whether the breaker existed.
func (m *Manager) Reset(key string) bool {
	m.mu.RLock()
	b, ok := m.breakers[key]
	m.mu.RUnlock()
	if ok {
		b.Reset()
	}
	return ok
}

// ResetAll resets every breaker.
func (m *Manager) ResetAll() {
	for _, b := range m.snapshot() {
		b.Reset()
	}
}

// Force sets the state of the breaker for a tenant and action, creating it
// if needed.
func (m *Manager) Force(tenantID string, action models.ActionType, state models.CircuitState) {
	m.Get(tenantID, action).Force(state)
}
