package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardian-crm/guardian/pkg/breaker"
	"github.com/guardian-crm/guardian/pkg/models"
)

func TestBuiltInSchemasCompile(t *testing.T) {
	v, err := New()
	require.NoError(t, err)
	assert.Len(t, v.schemas, 4)
}

func TestValidate(t *testing.T) {
	v := MustNew()

	tests := []struct {
		name    string
		result  models.Result
		invalid bool
	}{
		{
			name: "valid lead score",
			result: models.Result{Action: models.ActionLeadScoring, LeadScore: &models.LeadScore{
				Score: 80, Category: "Hot", Reasoning: "strong fit", Priority: "high",
			}},
		},
		{
			name: "lead score out of range",
			result: models.Result{Action: models.ActionLeadScoring, LeadScore: &models.LeadScore{
				Score: 140, Category: "Hot", Reasoning: "strong fit",
			}},
			invalid: true,
		},
		{
			name: "unknown lead category",
			result: models.Result{Action: models.ActionLeadScoring, LeadScore: &models.LeadScore{
				Score: 10, Category: "Lukewarm", Reasoning: "meh",
			}},
			invalid: true,
		},
		{
			name: "valid email",
			result: models.Result{Action: models.ActionEmailGeneration, Email: &models.EmailContent{
				Subject: "Hello", Content: "Hi Ana",
			}},
		},
		{
			name: "email without subject",
			result: models.Result{Action: models.ActionEmailGeneration, Email: &models.EmailContent{
				Content: "Hi Ana",
			}},
			invalid: true,
		},
		{
			name: "whatsapp with bad urgency",
			result: models.Result{Action: models.ActionWhatsAppGeneration, WhatsApp: &models.WhatsAppMessage{
				Message: "Hi!", Urgency: "now",
			}},
			invalid: true,
		},
		{
			name: "analysis",
			result: models.Result{Action: models.ActionContentAnalysis, Analysis: &models.ContentAnalysis{
				Summary: "fine", Sentiment: "positive", Score: 70,
			}},
		},
		{
			name:   "raw result without schema",
			result: models.Result{Action: "custom", Raw: json.RawMessage(`{"anything":true}`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problems := v.Validate(tt.result)
			if tt.invalid {
				assert.NotEmpty(t, problems)
			} else {
				assert.Empty(t, problems)
			}
		})
	}
}

func TestDefaultResultsConform(t *testing.T) {
	v := MustNew()
	for _, action := range []models.ActionType{
		models.ActionLeadScoring,
		models.ActionEmailGeneration,
		models.ActionWhatsAppGeneration,
		models.ActionContentAnalysis,
	} {
		assert.Empty(t, v.Validate(breaker.DefaultResult(action)), action)
	}
}

func TestRegisterOverrides(t *testing.T) {
	v := MustNew()
	require.NoError(t, v.Register("custom", `{"type":"object","required":["ok"]}`))

	assert.NotEmpty(t, v.Validate(models.Result{Action: "custom", Raw: json.RawMessage(`{}`)}))
	assert.Empty(t, v.Validate(models.Result{Action: "custom", Raw: json.RawMessage(`{"ok":1}`)}))

	assert.Error(t, v.Register("broken", `{"type": 12}`))
}

func TestDocument(t *testing.T) {
	doc, ok := Document(models.ActionLeadScoring)
	require.True(t, ok)
	assert.True(t, json.Valid([]byte(doc)))

	_, ok = Document("custom")
	assert.False(t, ok)
}
