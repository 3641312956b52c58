package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/guardian-crm/guardian/pkg/cache"
	"github.com/guardian-crm/guardian/pkg/models"
	"github.com/guardian-crm/guardian/pkg/orchestrator"
)

// Tool argument structs.

type tenantArgs struct {
	TenantID string `json:"tenant_id"`
}

type processArgs struct {
	TenantID    string         `json:"tenant_id"`
	Action      string         `json:"action"`
	Input       map[string]any `json:"input"`
	BypassCache bool           `json:"bypass_cache"`
	Model       string         `json:"model"`
}

type circuitArgs struct {
	Reset string `json:"reset"`
}

type invalidateArgs struct {
	Pattern  string `json:"pattern"`
	TenantID string `json:"tenant_id"`
}

type feedbackArgs struct {
	Key   string `json:"key"`
	Score int    `json:"score"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"guardian_process":     handleProcess,
	"guardian_stats":       handleStats,
	"guardian_cache_stats": handleCacheStats,
	"guardian_circuits":    handleCircuits,
	"guardian_invalidate":  handleInvalidate,
	"guardian_budget":      handleBudget,
	"guardian_feedback":    handleFeedback,
}

var tenantProperty = map[string]any{
	"type":        "string",
	"description": "Tenant ID (optional, omit for all tenants)",
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "guardian_process",
		Description: "Run one AI request through the cache and circuit breaker and return the response envelope.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"tenant_id", "action", "input"},
			"properties": map[string]any{
				"tenant_id": map[string]any{"type": "string", "description": "Tenant ID"},
				"action": map[string]any{
					"type":        "string",
					"description": "Action type, e.g. lead_scoring, email_generation, whatsapp_generation, content_analysis",
				},
				"input":        map[string]any{"type": "object", "description": "Action input"},
				"bypass_cache": map[string]any{"type": "boolean", "description": "Skip cache lookups (optional)"},
				"model":        map[string]any{"type": "string", "description": "Override the routed model (optional)"},
			},
		},
	},
	{
		Name:        "guardian_stats",
		Description: "Show hit rate, cost savings and persisted usage, optionally filtered by tenant.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"tenant_id": tenantProperty},
		},
		Annotations: readOnly,
	},
	{
		Name:        "guardian_cache_stats",
		Description: "Show entries, hits, misses and evictions per cache tier.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Annotations: readOnly,
	},
	{
		Name:        "guardian_circuits",
		Description: "Show circuit breaker state per tenant and action, optionally resetting one breaker.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reset": map[string]any{
					"type":        "string",
					"description": "Breaker key (tenant:action) to reset, or * for all (optional)",
				},
			},
		},
	},
	{
		Name:        "guardian_invalidate",
		Description: "Remove cached entries whose key contains a pattern.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"pattern"},
			"properties": map[string]any{
				"pattern":   map[string]any{"type": "string", "description": "Substring of the cache key"},
				"tenant_id": map[string]any{"type": "string", "description": "Restrict to one tenant (optional)"},
			},
		},
		Annotations: destructive,
	},
	{
		Name:        "guardian_budget",
		Description: "Show token budget status for all configured policies, optionally filtered by tenant.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"tenant_id": tenantProperty},
		},
		Annotations: readOnly,
	},
	{
		Name:        "guardian_feedback",
		Description: "Rate a cached response from 1 to 5.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"key", "score"},
			"properties": map[string]any{
				"key":   map[string]any{"type": "string", "description": "Cache key from the envelope metadata"},
				"score": map[string]any{"type": "integer", "minimum": 1, "maximum": 5},
			},
		},
	},
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func handleProcess(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args processArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.TenantID == "" || args.Action == "" {
		return errorResult("tenant_id and action are required")
	}
	if args.Input == nil {
		args.Input = map[string]any{}
	}

	env, err := s.guardian.Process(ctx, args.TenantID, models.ActionType(args.Action), args.Input, orchestrator.Options{
		BypassCache: args.BypassCache,
		Model:       args.Model,
	})
	if err != nil {
		return errorResult("Error processing request: " + err.Error())
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return errorResult("Error encoding envelope: " + err.Error())
	}
	res := textResult(string(data))
	res.IsError = !env.Success
	return res
}

func handleStats(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args tenantArgs
	_ = decodeArgs(rawArgs, &args)

	text := formatUsageStats(s.guardian.Stats(args.TenantID))
	if s.tracker != nil {
		rows, err := s.tracker.Summary(ctx, args.TenantID)
		if err != nil {
			return errorResult("Error fetching stats: " + err.Error())
		}
		text += "\n" + formatSummary(rows)
	}
	return textResult(text)
}

func handleCacheStats(_ context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	return textResult(formatCacheStats(s.guardian.CacheStats()))
}

func handleCircuits(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args circuitArgs
	_ = decodeArgs(rawArgs, &args)

	prefix := ""
	switch args.Reset {
	case "":
	case "*":
		s.guardian.ResetCircuit("")
		prefix = "Reset all circuits.\n\n"
	default:
		if !s.guardian.ResetCircuit(args.Reset) {
			return errorResult("No circuit with key " + args.Reset)
		}
		prefix = fmt.Sprintf("Reset circuit %s.\n\n", args.Reset)
	}
	return textResult(prefix + formatCircuits(s.guardian.CircuitMetrics(), s.guardian.CircuitHealth()))
}

func handleInvalidate(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args invalidateArgs
	_ = decodeArgs(rawArgs, &args)
	if args.Pattern == "" {
		return errorResult("pattern is required")
	}
	n := s.guardian.Invalidate(ctx, args.Pattern, args.TenantID)
	return textResult(fmt.Sprintf("Invalidated %d cached entries.", n))
}

func handleBudget(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.enforcer == nil {
		return textResult("Budget enforcement is not configured.")
	}
	var args tenantArgs
	_ = decodeArgs(rawArgs, &args)
	statuses, err := s.enforcer.Status(ctx, args.TenantID)
	if err != nil {
		return errorResult("Error fetching budget status: " + err.Error())
	}
	return textResult(formatBudgetStatus(statuses))
}

func handleFeedback(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args feedbackArgs
	_ = decodeArgs(rawArgs, &args)
	if args.Key == "" {
		return errorResult("key is required")
	}
	err := s.guardian.Feedback(args.Key, args.Score)
	switch {
	case errors.Is(err, cache.ErrInvalidFeedback):
		return errorResult("score must be between 1 and 5")
	case errors.Is(err, cache.ErrEntryNotFound):
		return errorResult("No cached entry with key " + args.Key)
	case err != nil:
		return errorResult("Error recording feedback: " + err.Error())
	}
	return textResult(fmt.Sprintf("Recorded feedback %d for %s.", args.Score, args.Key))
}
