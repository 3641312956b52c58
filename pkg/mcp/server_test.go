package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/guardian-crm/guardian/pkg/budget"
	"github.com/guardian-crm/guardian/pkg/cache"
	"github.com/guardian-crm/guardian/pkg/models"
	"github.com/guardian-crm/guardian/pkg/orchestrator"
	"github.com/guardian-crm/guardian/pkg/provider"
)

// fakeTracker implements tracker.Tracker for testing.
type fakeTracker struct {
	summaries []models.UsageSummary
	used      int64
}

func (f *fakeTracker) Record(_ context.Context, _ models.UsageRecord) error { return nil }
func (f *fakeTracker) QueryByTenant(_ context.Context, _ string, _ time.Time) ([]models.UsageRecord, error) {
	return nil, nil
}
func (f *fakeTracker) TotalByTenant(_ context.Context, _ string, _ time.Time) (int64, error) {
	return f.used, nil
}
func (f *fakeTracker) TotalByTenantAndAction(_ context.Context, _ string, _ models.ActionType, _ time.Time) (int64, error) {
	return f.used, nil
}
func (f *fakeTracker) Summary(_ context.Context, _ string) ([]models.UsageSummary, error) {
	return f.summaries, nil
}
func (f *fakeTracker) Close() error { return nil }

// fakeGuardian implements Guardian for testing.
type fakeGuardian struct {
	stats    models.UsageStats
	cache    models.CacheStats
	circuits []models.CircuitMetrics
	reset    []string
	feedback map[string]int
}

func (f *fakeGuardian) Process(_ context.Context, tenantID string, action models.ActionType, _ map[string]any, _ orchestrator.Options) (*models.Envelope, error) {
	return nil, fmt.Errorf("no provider for %s/%s", tenantID, action)
}
func (f *fakeGuardian) Stats(string) models.UsageStats          { return f.stats }
func (f *fakeGuardian) CacheStats() models.CacheStats           { return f.cache }
func (f *fakeGuardian) CircuitMetrics() []models.CircuitMetrics { return f.circuits }
func (f *fakeGuardian) CircuitHealth() models.CircuitHealth {
	return models.CircuitHealth{Total: len(f.circuits), Failed: len(f.circuits)}
}
func (f *fakeGuardian) ResetCircuit(key string) bool {
	f.reset = append(f.reset, key)
	return key == "" || key == "org-1:lead_scoring"
}
func (f *fakeGuardian) Invalidate(_ context.Context, pattern, _ string) int { return len(pattern) }
func (f *fakeGuardian) Feedback(key string, score int) error {
	if score < 1 || score > 5 {
		return cache.ErrInvalidFeedback
	}
	if key != "known" {
		return cache.ErrEntryNotFound
	}
	f.feedback = map[string]int{key: score}
	return nil
}

func sendAndReceive(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	line = append(line, '\n')

	var out bytes.Buffer
	if err := srv.Run(context.Background(), bytes.NewReader(line), &out); err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, out.String())
	}
	return resp
}

func callTool(t *testing.T, srv *Server, name, args string) ToolCallResult {
	t.Helper()
	params, _ := json.Marshal(ToolCallParams{Name: name, Arguments: json.RawMessage(args)})
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "tools/call",
		Params:  params,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	data, _ := json.Marshal(resp.Result)
	var result ToolCallResult
	json.Unmarshal(data, &result)
	if len(result.Content) == 0 {
		t.Fatal("expected content")
	}
	return result
}

func TestInitialize(t *testing.T) {
	srv := New(&fakeGuardian{}, nil, nil, "test")

	tests := []struct {
		requested string
		want      string
	}{
		{"2024-11-05", "2024-11-05"},
		{"2025-03-26", "2025-03-26"},
		{"1999-01-01", "2025-03-26"},
		{"", "2025-03-26"},
	}
	for _, tt := range tests {
		params, _ := json.Marshal(InitializeParams{ProtocolVersion: tt.requested, ClientInfo: ClientInfo{Name: "test-client"}})
		resp := sendAndReceive(t, srv, Request{
			JSONRPC: "2.0",
			ID:      json.RawMessage(`1`),
			Method:  "initialize",
			Params:  params,
		})
		if resp.Error != nil {
			t.Fatalf("unexpected error: %v", resp.Error)
		}

		data, _ := json.Marshal(resp.Result)
		var result InitializeResult
		json.Unmarshal(data, &result)

		if result.ProtocolVersion != tt.want {
			t.Errorf("requested %q: protocol version = %s, want %s", tt.requested, result.ProtocolVersion, tt.want)
		}
		if result.ServerInfo.Name != "guardian" || result.ServerInfo.Version != "test" {
			t.Errorf("unexpected server info: %+v", result.ServerInfo)
		}
	}
}

func TestPing(t *testing.T) {
	srv := New(&fakeGuardian{}, nil, nil, "test")
	resp := sendAndReceive(t, srv, Request{JSONRPC: "2.0", ID: json.RawMessage(`3`), Method: "ping"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if string(resp.ID) != "3" {
		t.Errorf("id = %s, want 3", resp.ID)
	}
}

func TestInvalidJSONRPCVersion(t *testing.T) {
	srv := New(&fakeGuardian{}, nil, nil, "test")
	resp := sendAndReceive(t, srv, Request{JSONRPC: "1.0", ID: json.RawMessage(`4`), Method: "ping"})
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Errorf("expected invalid request error, got %+v", resp)
	}
}

func TestToolPanicIsInternalError(t *testing.T) {
	srv := New(nil, nil, nil, "test")
	params, _ := json.Marshal(ToolCallParams{Name: "guardian_cache_stats"})
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`5`),
		Method:  "tools/call",
		Params:  params,
	})
	if resp.Error == nil || resp.Error.Code != CodeInternalError {
		t.Errorf("expected internal error, got %+v", resp)
	}
}

func TestToolsList(t *testing.T) {
	srv := New(&fakeGuardian{}, nil, nil, "test")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/list",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result ToolsListResult
	json.Unmarshal(data, &result)

	if len(result.Tools) != len(toolHandlers) {
		t.Errorf("got %d tools, want %d", len(result.Tools), len(toolHandlers))
	}
	for _, tool := range result.Tools {
		if _, ok := toolHandlers[tool.Name]; !ok {
			t.Errorf("tool %s has no handler", tool.Name)
		}
	}
	for _, want := range []string{"guardian_process", "guardian_stats", "guardian_cache_stats", "guardian_circuits", "guardian_invalidate", "guardian_budget", "guardian_feedback"} {
		if _, ok := toolHandlers[want]; !ok {
			t.Errorf("missing tool: %s", want)
		}
	}
	for _, tool := range result.Tools {
		if tool.Name == "guardian_invalidate" && (tool.Annotations == nil || !tool.Annotations.DestructiveHint) {
			t.Error("guardian_invalidate should be marked destructive")
		}
		if tool.Name == "guardian_process" && tool.Annotations != nil {
			t.Error("guardian_process should carry no hints")
		}
	}
}

func TestToolCallProcess(t *testing.T) {
	o := orchestrator.New(provider.Func(func(_ context.Context, req models.ProviderRequest) (*models.ProviderResponse, error) {
		return &models.ProviderResponse{
			Result: models.Result{Action: req.Action, WhatsApp: &models.WhatsAppMessage{Message: "Hi Ana, thanks for reaching out"}},
			Model:  "gpt-4o-mini",
			Tokens: 40,
			Cost:   0.001,
		}, nil
	}))
	srv := New(o, nil, nil, "test")

	args := `{"tenant_id":"org-1","action":"whatsapp_generation","input":{"name":"Ana"}}`
	result := callTool(t, srv, "guardian_process", args)
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", result.Content[0].Text)
	}
	var env models.Envelope
	if err := json.Unmarshal([]byte(result.Content[0].Text), &env); err != nil {
		t.Fatalf("envelope is not JSON: %v", err)
	}
	if env.Cached || env.Result.WhatsApp == nil || env.Tokens != 40 {
		t.Errorf("unexpected envelope: %+v", env)
	}

	result = callTool(t, srv, "guardian_process", args)
	json.Unmarshal([]byte(result.Content[0].Text), &env)
	if !env.Cached || env.CacheTier != models.TierExact {
		t.Errorf("expected exact hit, got %+v", env)
	}
}

func TestToolCallProcessErrors(t *testing.T) {
	srv := New(&fakeGuardian{}, nil, nil, "test")

	if result := callTool(t, srv, "guardian_process", `{"action":"lead_scoring"}`); !result.IsError {
		t.Error("expected isError=true for missing tenant_id")
	}
	result := callTool(t, srv, "guardian_process", `{"tenant_id":"org-1","action":"lead_scoring","input":{}}`)
	if !result.IsError || !strings.Contains(result.Content[0].Text, "no provider") {
		t.Errorf("expected processing error, got: %+v", result)
	}
}

func TestToolCallStats(t *testing.T) {
	g := &fakeGuardian{stats: models.UsageStats{TotalRequests: 10, Hits: 3, Misses: 7, HitRate: 0.3}}
	tr := &fakeTracker{summaries: []models.UsageSummary{
		{TenantID: "org-1", Action: models.ActionLeadScoring, RequestCount: 10, CacheHits: 3, TotalTokens: 700},
	}}
	srv := New(g, tr, nil, "test")

	text := callTool(t, srv, "guardian_stats", `{}`).Content[0].Text
	if !strings.Contains(text, "30.0%") {
		t.Errorf("expected hit rate in output, got: %s", text)
	}
	if !strings.Contains(text, "lead_scoring") || !strings.Contains(text, "700") {
		t.Errorf("expected persisted summary in output, got: %s", text)
	}
}

func TestToolCallCacheStats(t *testing.T) {
	g := &fakeGuardian{cache: models.CacheStats{
		Entries: 42, Hits: 10, Misses: 5,
		Tiers: map[models.Tier]models.TierStats{models.TierSemantic: {Entries: 12, Hits: 4, Evictions: 3}},
	}}
	srv := New(g, nil, nil, "test")

	text := callTool(t, srv, "guardian_cache_stats", "").Content[0].Text
	if !strings.Contains(text, "42") || !strings.Contains(text, "66.7%") || !strings.Contains(text, "semantic") {
		t.Errorf("unexpected cache stats output: %s", text)
	}
}

func TestToolCallCircuits(t *testing.T) {
	g := &fakeGuardian{circuits: []models.CircuitMetrics{
		{Key: "org-1:lead_scoring", State: models.CircuitOpen, TotalRequests: 4, TotalFailures: 3},
	}}
	srv := New(g, nil, nil, "test")

	text := callTool(t, srv, "guardian_circuits", `{}`).Content[0].Text
	if !strings.Contains(text, "OPEN") || !strings.Contains(text, "75.0%") {
		t.Errorf("unexpected circuits output: %s", text)
	}

	text = callTool(t, srv, "guardian_circuits", `{"reset":"org-1:lead_scoring"}`).Content[0].Text
	if !strings.HasPrefix(text, "Reset circuit org-1:lead_scoring") {
		t.Errorf("unexpected reset output: %s", text)
	}
	if result := callTool(t, srv, "guardian_circuits", `{"reset":"nope"}`); !result.IsError {
		t.Error("expected isError=true for unknown circuit")
	}
	callTool(t, srv, "guardian_circuits", `{"reset":"*"}`)
	if len(g.reset) != 3 || g.reset[2] != "" {
		t.Errorf("unexpected reset calls: %v", g.reset)
	}
}

func TestToolCallInvalidate(t *testing.T) {
	srv := New(&fakeGuardian{}, nil, nil, "test")

	if result := callTool(t, srv, "guardian_invalidate", `{}`); !result.IsError {
		t.Error("expected isError=true for missing pattern")
	}
	text := callTool(t, srv, "guardian_invalidate", `{"pattern":"org-1"}`).Content[0].Text
	if text != "Invalidated 5 cached entries." {
		t.Errorf("unexpected output: %s", text)
	}
}

func TestToolCallBudget(t *testing.T) {
	srv := New(&fakeGuardian{}, nil, nil, "test")
	text := callTool(t, srv, "guardian_budget", "").Content[0].Text
	if !strings.Contains(text, "not configured") {
		t.Errorf("expected 'not configured', got: %s", text)
	}

	tr := &fakeTracker{used: 250}
	e := budget.New([]models.BudgetPolicy{{TenantID: "*", MaxTokens: 1000, Period: models.BudgetDaily}}, tr)
	srv = New(&fakeGuardian{}, tr, e, "test")
	text = callTool(t, srv, "guardian_budget", `{"tenant_id":"org-1"}`).Content[0].Text
	if !strings.Contains(text, "750") || !strings.Contains(text, "25.0%") {
		t.Errorf("unexpected budget output: %s", text)
	}
}

func TestToolCallFeedback(t *testing.T) {
	g := &fakeGuardian{}
	srv := New(g, nil, nil, "test")

	if result := callTool(t, srv, "guardian_feedback", `{"key":"known","score":9}`); !result.IsError {
		t.Error("expected isError=true for out of range score")
	}
	if result := callTool(t, srv, "guardian_feedback", `{"key":"missing","score":4}`); !result.IsError {
		t.Error("expected isError=true for unknown key")
	}
	if result := callTool(t, srv, "guardian_feedback", `{"key":"known","score":4}`); result.IsError {
		t.Errorf("unexpected error: %s", result.Content[0].Text)
	}
	if g.feedback["known"] != 4 {
		t.Errorf("feedback not recorded: %v", g.feedback)
	}
}

func TestUnknownTool(t *testing.T) {
	srv := New(&fakeGuardian{}, nil, nil, "test")
	result := callTool(t, srv, "guardian_missing", `{}`)
	if !result.IsError {
		t.Error("expected isError=true for unknown tool")
	}
}

func TestNotificationNoResponse(t *testing.T) {
	srv := New(&fakeGuardian{}, nil, nil, "test")

	line, _ := json.Marshal(Request{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	})
	line = append(line, '\n')

	var out bytes.Buffer
	_ = srv.Run(context.Background(), bytes.NewReader(line), &out)

	if out.Len() != 0 {
		t.Errorf("expected no output for notification, got: %s", out.String())
	}
}

func TestParseError(t *testing.T) {
	srv := New(&fakeGuardian{}, nil, nil, "test")
	var out bytes.Buffer
	_ = srv.Run(context.Background(), strings.NewReader("{not json\n"), &out)

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Errorf("expected parse error, got %+v", resp)
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := New(&fakeGuardian{}, nil, nil, "test")
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`9`),
		Method:  "unknown/method",
	})

	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}
