package breaker

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/guardian-crm/guardian/pkg/models"
)

// ErrOpen is the fallback cause when a call was short-circuited.
var ErrOpen = errors.New("circuit open")

const unavailable = "AI service temporarily unavailable"

// DefaultFallback builds the degraded response for a degradation mode.
func DefaultFallback(action models.ActionType, mode models.DegradationMode, retryAt time.Time) *models.FallbackResponse {
	fb := &models.FallbackResponse{
		Degraded:           true,
		FallbackReason:     unavailable,
		Confidence:         models.ConfidenceLow,
		Strategy:           string(mode),
		SuggestedRetryTime: retryAt,
	}
	switch mode {
	case models.DegradeCacheOnly:
		fb.Message = "Using cached data only"
		fb.Confidence = models.ConfidenceMedium
	case models.DegradeFallbackResponse:
		r := DefaultResult(action)
		fb.Result = &r
		fb.Message = "Using default response"
	case models.DegradeQueueRequest:
		fb.Message = "Request queued for later processing"
		fb.Confidence = models.ConfidenceHigh
		fb.Strategy = "queued"
	}
	return fb
}

// DefaultResult is the placeholder result served in fallback_response mode.
func DefaultResult(action models.ActionType) models.Result {
	r := models.Result{Action: action}
	switch action {
	case models.ActionLeadScoring:
		r.LeadScore = &models.LeadScore{
			Score:       50,
			Category:    "Warm",
			Reasoning:   "Default scoring - " + unavailable,
			Breakdown:   map[string]int{"default": 50},
			NextActions: []string{"Manual review required"},
			Priority:    "medium",
		}
	case models.ActionEmailGeneration:
		r.Email = &models.EmailContent{
			Subject:      "Following up on your enquiry",
			Content:      "Thank you for your interest. We will follow up with personalized information soon.",
			Tone:         "professional",
			CallToAction: "Please reply to this email if you have any immediate questions.",
		}
	case models.ActionWhatsAppGeneration:
		r.WhatsApp = &models.WhatsAppMessage{
			Message: "Thanks for your interest! We will follow up with more details soon.",
			Tone:    "professional",
			Urgency: "medium",
		}
	case models.ActionContentAnalysis:
		r.Analysis = &models.ContentAnalysis{
			Summary:   "Analysis unavailable",
			Sentiment: "neutral",
			Score:     50,
			Reasoning: "Default analysis - " + unavailable,
		}
	default:
		r.Raw, _ = json.Marshal(map[string]any{
			"message":  "Service temporarily unavailable. Please try again later.",
			"fallback": true,
		})
	}
	return r
}
