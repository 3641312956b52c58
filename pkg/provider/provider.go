// Package provider calls upstream model APIs on behalf of the orchestrator.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/guardian-crm/guardian/pkg/config"
	"github.com/guardian-crm/guardian/pkg/logging"
	"github.com/guardian-crm/guardian/pkg/models"
	"github.com/guardian-crm/guardian/pkg/router"
	"github.com/guardian-crm/guardian/pkg/schema"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxTokens = 1024
	anthropicVersion = "2023-06-01"
)

var (
	// ErrUpstream is wrapped by every error caused by a provider response.
	ErrUpstream = errors.New("upstream provider failed")
	// ErrEmptyResponse is returned when the provider answered without content.
	ErrEmptyResponse = errors.New("provider returned no content")
)

// Func adapts a plain function to the orchestrator's provider interface.
type Func func(ctx context.Context, req models.ProviderRequest) (*models.ProviderResponse, error)

// Call invokes f.
func (f Func) Call(ctx context.Context, req models.ProviderRequest) (*models.ProviderResponse, error) {
	return f(ctx, req)
}

// Prompter builds the system and user prompts for an action.
type Prompter func(action models.ActionType, input map[string]any) (system, user string, err error)

// Client sends requests through the configured route chain for each action.
type Client struct {
	router  *router.Router
	pricing map[string]models.ModelPricing
	http    *http.Client
	prompt  Prompter
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPrompter replaces the default JSON-schema prompt.
func WithPrompter(p Prompter) Option {
	return func(c *Client) { c.prompt = p }
}

// New creates a Client from the provider, router and pricing sections of cfg.
func New(cfg *config.Config, opts ...Option) *Client {
	c := &Client{
		router:  router.New(cfg),
		pricing: make(map[string]models.ModelPricing, len(cfg.Pricing)),
		http:    http.DefaultClient,
		prompt:  DefaultPrompt,
		now:     time.Now,
	}
	for _, p := range cfg.Pricing {
		c.pricing[p.Model] = p
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Call resolves the routes for the request's action and tries each in turn,
// moving on when a route fails with a transport error or a 5xx status.
func (c *Client) Call(ctx context.Context, req models.ProviderRequest) (*models.ProviderResponse, error) {
	routes, err := c.router.Resolve(req.Action, req.Model)
	if err != nil {
		return nil, fmt.Errorf("resolve route: %w", err)
	}
	system, user, err := c.prompt(req.Action, req.Input)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	start := c.now()
	var lastErr error
	for _, route := range routes {
		resp, retry, err := c.try(ctx, route, req.Action, system, user)
		if err == nil {
			resp.ProcessingTime = c.now().Sub(start)
			return resp, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
		logging.Warn().
			Add(logging.Component("provider")).
			Add(logging.Str("provider", route.Provider.Name)).
			Add(logging.Str("model", route.Model)).
			Add(logging.ErrorField(err)).
			Msg("route failed, trying next")
	}
	return nil, lastErr
}

func (c *Client) try(ctx context.Context, route router.Route, action models.ActionType, system, user string) (*models.ProviderResponse, bool, error) {
	timeout := route.Provider.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		path    string
		headers map[string]string
		body    []byte
		err     error
	)
	if route.Provider.Type == "anthropic" {
		path = "/v1/messages"
		headers = map[string]string{"x-api-key": route.Provider.APIKey, "anthropic-version": anthropicVersion}
		body, err = json.Marshal(models.AnthropicRequest{
			Model:     route.Model,
			System:    system,
			Messages:  []models.ChatMessage{{Role: "user", Content: user}},
			MaxTokens: defaultMaxTokens,
		})
	} else {
		path = "/v1/chat/completions"
		headers = map[string]string{"Authorization": "Bearer " + route.Provider.APIKey}
		body, err = json.Marshal(models.ChatCompletionRequest{
			Model: route.Model,
			Messages: []models.ChatMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
			ResponseFormat: &models.ResponseFormat{Type: "json_object"},
		})
	}
	if err != nil {
		return nil, false, fmt.Errorf("encode request: %w", err)
	}

	res, err := c.doUpstreamRequest(ctx, route.Provider.URL, path, headers, body)
	if isRetryable(err, statusOf(res)) {
		if err != nil {
			return nil, true, fmt.Errorf("%w: %s: %w", ErrUpstream, route.Provider.Name, err)
		}
		return nil, true, fmt.Errorf("%w: %s returned %d", ErrUpstream, route.Provider.Name, res.statusCode)
	}
	if res.statusCode != http.StatusOK {
		return nil, false, fmt.Errorf("%w: %s returned %d: %s", ErrUpstream, route.Provider.Name, res.statusCode, truncate(res.body, 200))
	}

	content, model, usage, err := parseResponse(route.Provider.Type, res.body)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if model == "" {
		model = route.Model
	}
	result, err := models.DecodeResult(action, []byte(stripFences(content)))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	resp := &models.ProviderResponse{Result: result, Model: model, CostUnknown: true}
	if usage != nil {
		resp.Tokens = usage.TotalTokens
		if cost, ok := c.cost(model, route.Model, *usage); ok {
			resp.Cost, resp.CostUnknown = cost, false
		}
	}
	return resp, false, nil
}

// cost prices usage by the reported model, then by the routed one. It reports
// false when neither has a pricing entry.
func (c *Client) cost(model, routed string, u models.Usage) (float64, bool) {
	if p, ok := c.pricing[model]; ok {
		return p.Cost(u), true
	}
	if p, ok := c.pricing[routed]; ok {
		return p.Cost(u), true
	}
	return 0, false
}

type upstreamResult struct {
	statusCode int
	body       []byte
}

func statusOf(r *upstreamResult) int {
	if r == nil {
		return 0
	}
	return r.statusCode
}

// doUpstreamRequest sends a JSON POST to the provider and returns the raw result.
func (c *Client) doUpstreamRequest(ctx context.Context, providerURL, path string, headers map[string]string, body []byte) (*upstreamResult, error) {
	target, err := url.Parse(providerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid provider URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(target.String(), "/")+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &upstreamResult{statusCode: resp.StatusCode, body: respBody}, nil
}

// isRetryable returns true if the error or status code warrants trying the next route.
func isRetryable(err error, statusCode int) bool {
	if err != nil {
		return true
	}
	return statusCode >= 500 || statusCode == http.StatusTooManyRequests
}

func parseResponse(providerType string, body []byte) (content, model string, usage *models.Usage, err error) {
	if providerType == "anthropic" {
		var r models.AnthropicResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return "", "", nil, fmt.Errorf("decode anthropic response: %w", err)
		}
		var sb strings.Builder
		for _, block := range r.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		if sb.Len() == 0 {
			return "", "", nil, ErrEmptyResponse
		}
		if r.Usage != nil {
			usage = r.Usage.ToUsage()
		}
		return sb.String(), r.Model, usage, nil
	}

	var r models.ChatCompletionResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return "", "", nil, fmt.Errorf("decode completion response: %w", err)
	}
	if len(r.Choices) == 0 || r.Choices[0].Message.Content == "" {
		return "", "", nil, ErrEmptyResponse
	}
	return r.Choices[0].Message.Content, r.Model, r.Usage, nil
}

// stripFences removes a surrounding markdown code fence, which some models
// emit even when asked for bare JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// DefaultPrompt asks for a JSON object matching the action's schema and
// passes the input as JSON.
func DefaultPrompt(action models.ActionType, input map[string]any) (string, string, error) {
	in, err := json.Marshal(input)
	if err != nil {
		return "", "", err
	}
	system := fmt.Sprintf("You perform the %q task for a CRM. Reply with a single JSON object and nothing else.", action)
	if doc, ok := schema.Document(action); ok {
		system += " The object must match this JSON schema:\n" + doc
	}
	return system, string(in), nil
}
