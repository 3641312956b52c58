package models

// ActionType is the logical category of an AI operation. It selects the
// cache tiers, breaker policy and result variant that apply to a request.
type ActionType string

const (
	ActionLeadScoring        ActionType = "lead_scoring"
	ActionEmailGeneration    ActionType = "email_generation"
	ActionWhatsAppGeneration ActionType = "whatsapp_generation"
	ActionContentAnalysis    ActionType = "content_analysis"
)

// Tier identifies one of the cache strategies.
type Tier string

const (
	TierExact    Tier = "exact"
	TierSemantic Tier = "semantic"
	TierTemplate Tier = "template"
	// TierMiss marks a usage record for a request no tier could answer.
	TierMiss Tier = "miss"
)

// Tiers lists the cache tiers in lookup order.
var Tiers = []Tier{TierExact, TierSemantic, TierTemplate}

// DegradationMode selects the default degraded response of a breaker.
type DegradationMode string

const (
	DegradeCacheOnly        DegradationMode = "cache_only"
	DegradeFallbackResponse DegradationMode = "fallback_response"
	DegradeQueueRequest     DegradationMode = "queue_request"
)

// Confidence is the coarse trust level attached to a degraded response.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)
