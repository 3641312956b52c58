package models

import "time"

// Usage represents token usage from an LLM response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UsageRecord is an append-only fact written once per processed request.
type UsageRecord struct {
	ID           int64         `json:"id"`
	RequestID    string        `json:"request_id,omitempty"`
	TenantID     string        `json:"tenant_id"`
	Action       ActionType    `json:"action"`
	Tier         Tier          `json:"tier"`
	Cost         float64       `json:"cost"`
	Tokens       int           `json:"tokens"`
	ResponseTime time.Duration `json:"response_time"`
	Success      bool          `json:"success"`
	Degraded     bool          `json:"degraded"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Hit reports whether the record was answered from a cache tier.
func (r UsageRecord) Hit() bool {
	return r.Tier != "" && r.Tier != TierMiss
}

// Breakdown aggregates requests for one tier or action type.
type Breakdown struct {
	Requests int64   `json:"requests"`
	Hits     int64   `json:"hits"`
	Cost     float64 `json:"cost"`
	Tokens   int64   `json:"tokens"`
}

// UsageStats is the aggregate view answered by the metrics collector.
type UsageStats struct {
	TotalRequests     int64                    `json:"total_requests"`
	Hits              int64                    `json:"hits"`
	Misses            int64                    `json:"misses"`
	HitRate           float64                  `json:"hit_rate"`
	ByTier            map[Tier]Breakdown       `json:"by_tier"`
	ByAction          map[ActionType]Breakdown `json:"by_action"`
	CostSavings       float64                  `json:"cost_savings"`
	TokensSaved       int64                    `json:"tokens_saved"`
	TotalCost         float64                  `json:"total_cost"`
	TotalTokens       int64                    `json:"total_tokens"`
	DegradedRequests  int64                    `json:"degraded_requests"`
	AvgResponseTimeMs float64                  `json:"avg_response_time_ms"`
}

// UsageSummary aggregates persisted usage records per tenant and action.
type UsageSummary struct {
	TenantID     string     `json:"tenant_id"`
	Action       ActionType `json:"action"`
	RequestCount int        `json:"request_count"`
	CacheHits    int        `json:"cache_hits"`
	Degraded     int        `json:"degraded"`
	TotalTokens  int        `json:"total_tokens"`
	TotalCost    float64    `json:"total_cost"`
}
