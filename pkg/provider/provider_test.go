package provider

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/guardian-crm/guardian/pkg/config"
	"github.com/guardian-crm/guardian/pkg/models"
)

const leadJSON = `{"score":82,"category":"Hot","reasoning":"budget and authority confirmed"}`

func openAIUpstream(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-provider" {
			t.Error("expected provider API key in upstream request")
		}
		var req models.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Error("expected json_object response format")
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages: %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(models.ChatCompletionResponse{
			Model: req.Model,
			Choices: []models.Choice{
				{Message: models.ChatMessage{Role: "assistant", Content: content}, FinishReason: "stop"},
			},
			Usage: &models.Usage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCallOpenAI(t *testing.T) {
	upstream := openAIUpstream(t, leadJSON)
	c := New(&config.Config{
		Providers: []config.ProviderConfig{{Name: "openai", URL: upstream.URL, APIKey: "sk-provider", Model: "gpt-4o-mini"}},
		Pricing:   []models.ModelPricing{{Model: "gpt-4o-mini", PromptCost: 0.01, CompletionCost: 0.02}},
	})

	resp, err := c.Call(context.Background(), models.ProviderRequest{
		TenantID: "org-1",
		Action:   models.ActionLeadScoring,
		Input:    map[string]any{"company": "Acme"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Result.LeadScore == nil || resp.Result.LeadScore.Score != 82 {
		t.Fatalf("unexpected result: %+v", resp.Result)
	}
	if resp.Model != "gpt-4o-mini" || resp.Tokens != 1500 {
		t.Errorf("unexpected model/tokens: %s %d", resp.Model, resp.Tokens)
	}
	if resp.CostUnknown || math.Abs(resp.Cost-0.02) > 1e-9 {
		t.Errorf("expected cost 0.02, got %v", resp.Cost)
	}
}

func TestCallAnthropic(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant" || r.Header.Get("anthropic-version") == "" {
			t.Error("expected anthropic auth headers")
		}
		var req models.AnthropicRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.System == "" || req.MaxTokens == 0 {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(models.AnthropicResponse{
			Model:   "claude-haiku-4-5",
			Content: []models.AnthropicContent{{Type: "text", Text: "```json\n{\"subject\":\"Hi\",\"content\":\"Hello Ana\"}\n```"}},
			Usage:   &models.AnthropicUsage{InputTokens: 20, OutputTokens: 10},
		})
	}))
	defer upstream.Close()

	c := New(&config.Config{
		Providers: []config.ProviderConfig{{Name: "anthropic", URL: upstream.URL, APIKey: "sk-ant", Type: "anthropic", Model: "claude-haiku-4-5"}},
	})
	resp, err := c.Call(context.Background(), models.ProviderRequest{Action: models.ActionEmailGeneration, Input: map[string]any{"name": "Ana"}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Result.Email == nil || resp.Result.Email.Content != "Hello Ana" {
		t.Fatalf("unexpected result: %+v", resp.Result)
	}
	if resp.Tokens != 30 || resp.Cost != 0 || !resp.CostUnknown {
		t.Errorf("expected 30 tokens at unknown price, got %d %v unknown=%v", resp.Tokens, resp.Cost, resp.CostUnknown)
	}
}

func TestRouteFallbackOnServerError(t *testing.T) {
	var primaryCalls atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer primary.Close()
	secondary := openAIUpstream(t, leadJSON)

	c := New(&config.Config{
		Providers: []config.ProviderConfig{
			{Name: "primary", URL: primary.URL, APIKey: "sk-provider"},
			{Name: "secondary", URL: secondary.URL, APIKey: "sk-provider"},
		},
		Router: config.RouterConfig{Routes: []config.RouteConfig{{
			Action: models.ActionLeadScoring,
			Targets: []config.RouteTarget{
				{Provider: "primary", Model: "gpt-4o"},
				{Provider: "secondary", Model: "gpt-4o-mini"},
			},
		}}},
	})

	resp, err := c.Call(context.Background(), models.ProviderRequest{Action: models.ActionLeadScoring, Input: map[string]any{}})
	if err != nil {
		t.Fatal(err)
	}
	if primaryCalls.Load() != 1 {
		t.Errorf("expected primary to be tried once, got %d", primaryCalls.Load())
	}
	if resp.Model != "gpt-4o-mini" {
		t.Errorf("expected secondary model, got %s", resp.Model)
	}
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var secondaryCalls atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
	}))
	defer primary.Close()
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondaryCalls.Add(1)
	}))
	defer secondary.Close()

	c := New(&config.Config{
		Providers: []config.ProviderConfig{
			{Name: "primary", URL: primary.URL},
			{Name: "secondary", URL: secondary.URL},
		},
		Router: config.RouterConfig{Routes: []config.RouteConfig{{
			Action:  models.ActionLeadScoring,
			Targets: []config.RouteTarget{{Provider: "primary"}, {Provider: "secondary"}},
		}}},
	})

	_, err := c.Call(context.Background(), models.ProviderRequest{Action: models.ActionLeadScoring})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("expected status in error, got %v", err)
	}
	if secondaryCalls.Load() != 0 {
		t.Error("a 4xx response must not fall through to the next route")
	}
}

func TestInvalidContent(t *testing.T) {
	upstream := openAIUpstream(t, "not json at all")
	c := New(&config.Config{
		Providers: []config.ProviderConfig{{Name: "openai", URL: upstream.URL, APIKey: "sk-provider"}},
	})
	_, err := c.Call(context.Background(), models.ProviderRequest{Action: models.ActionLeadScoring})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
}

func TestNoProviders(t *testing.T) {
	_, err := New(&config.Config{}).Call(context.Background(), models.ProviderRequest{Action: models.ActionLeadScoring})
	if err == nil {
		t.Fatal("expected error without providers")
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct{ in, want string }{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := stripFences(tt.in); got != tt.want {
			t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDefaultPromptIncludesSchema(t *testing.T) {
	system, user, err := DefaultPrompt(models.ActionLeadScoring, map[string]any{"company": "Acme"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(system, `"category"`) {
		t.Errorf("expected schema in system prompt, got %s", system)
	}
	if user != `{"company":"Acme"}` {
		t.Errorf("unexpected user prompt %s", user)
	}
}

func TestFunc(t *testing.T) {
	f := Func(func(_ context.Context, req models.ProviderRequest) (*models.ProviderResponse, error) {
		return &models.ProviderResponse{Model: string(req.Action)}, nil
	})
	resp, err := f.Call(context.Background(), models.ProviderRequest{Action: models.ActionContentAnalysis})
	if err != nil || resp.Model != "content_analysis" {
		t.Errorf("unexpected %+v %v", resp, err)
	}
}
