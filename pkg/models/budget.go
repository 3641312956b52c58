package models

// BudgetPeriod defines the time window for a budget policy.
type BudgetPeriod string

const (
	BudgetDaily   BudgetPeriod = "daily"
	BudgetMonthly BudgetPeriod = "monthly"
)

// BudgetPolicy defines max provider tokens per tenant per period. TenantID
// "*" matches every tenant; an empty Action matches every action.
type BudgetPolicy struct {
	TenantID  string       `json:"tenant_id" yaml:"tenant_id" validate:"required"`
	Action    ActionType   `json:"action,omitempty" yaml:"action,omitempty"`
	MaxTokens int64        `json:"max_tokens" yaml:"max_tokens" validate:"gt=0"`
	Period    BudgetPeriod `json:"period" yaml:"period" validate:"omitempty,oneof=daily monthly"`
}

// BudgetStatus shows current usage against a policy.
type BudgetStatus struct {
	Policy    BudgetPolicy `json:"policy"`
	Used      int64        `json:"used"`
	Remaining int64        `json:"remaining"`
}

// ModelPricing defines per-1K token costs for a model.
type ModelPricing struct {
	Model          string  `json:"model" yaml:"model" validate:"required"`
	PromptCost     float64 `json:"prompt_cost_per_1k" yaml:"prompt_cost_per_1k" validate:"gte=0"`
	CompletionCost float64 `json:"completion_cost_per_1k" yaml:"completion_cost_per_1k" validate:"gte=0"`
}

// Cost returns the estimated cost of a call with the given token usage.
func (p ModelPricing) Cost(u Usage) float64 {
	return float64(u.PromptTokens)/1000*p.PromptCost +
		float64(u.CompletionTokens)/1000*p.CompletionCost
}
