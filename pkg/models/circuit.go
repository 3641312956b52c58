package models

import "time"

// CircuitState is the state of a per tenant and action breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// CircuitMetrics is a point-in-time snapshot of one breaker.
type CircuitMetrics struct {
	Key              string       `json:"key"`
	TenantID         string       `json:"tenant_id"`
	Action           ActionType   `json:"action"`
	State            CircuitState `json:"state"`
	FailureCount     int          `json:"failure_count"`
	SuccessCount     int          `json:"success_count"`
	LastFailureTime  time.Time    `json:"last_failure_time,omitzero"`
	LastSuccessTime  time.Time    `json:"last_success_time,omitzero"`
	TotalRequests    int64        `json:"total_requests"`
	TotalFailures    int64        `json:"total_failures"`
	RecoveryAttempts int64        `json:"recovery_attempts"`
	DegradedRequests int64        `json:"degraded_requests"`
}

// FailureRate returns total failures over total requests, or 0.
func (m CircuitMetrics) FailureRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.TotalFailures) / float64(m.TotalRequests)
}

// CircuitHealth counts breakers by state.
type CircuitHealth struct {
	Healthy  int `json:"healthy"`
	Degraded int `json:"degraded"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
}

// FallbackResponse is a degraded answer served while a breaker is not closed
// or after the provider failed.
type FallbackResponse struct {
	Result             *Result    `json:"result,omitempty"`
	Degraded           bool       `json:"degraded"`
	FallbackReason     string     `json:"fallback_reason"`
	Confidence         Confidence `json:"confidence"`
	Strategy           string     `json:"strategy,omitempty"`
	Message            string     `json:"message,omitempty"`
	SuggestedRetryTime time.Time  `json:"suggested_retry_time"`
	// Similarity is set when the response was recovered from a similar cached entry.
	Similarity float64 `json:"similarity,omitempty"`
}
