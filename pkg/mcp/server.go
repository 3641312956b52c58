// Package mcp exposes Guardian over the Model Context Protocol on stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/guardian-crm/guardian/pkg/budget"
	"github.com/guardian-crm/guardian/pkg/logging"
	"github.com/guardian-crm/guardian/pkg/models"
	"github.com/guardian-crm/guardian/pkg/orchestrator"
	"github.com/guardian-crm/guardian/pkg/tracker"
)

// Guardian is the part of the orchestrator the tools drive.
type Guardian interface {
	Process(ctx context.Context, tenantID string, action models.ActionType, input map[string]any, opts orchestrator.Options) (*models.Envelope, error)
	Stats(tenantID string) models.UsageStats
	CacheStats() models.CacheStats
	CircuitMetrics() []models.CircuitMetrics
	CircuitHealth() models.CircuitHealth
	ResetCircuit(key string) bool
	Invalidate(ctx context.Context, pattern, tenantID string) int
	Feedback(key string, score int) error
}

var _ Guardian = (*orchestrator.Orchestrator)(nil)

// Server is a minimal MCP server that communicates over stdio using JSON-RPC 2.0.
type Server struct {
	guardian Guardian
	tracker  tracker.Tracker
	enforcer *budget.Enforcer
	version  string
}

// New creates a new MCP Server. The tracker and enforcer are optional.
func New(g Guardian, t tracker.Tracker, enforcer *budget.Enforcer, version string) *Server {
	return &Server{
		guardian: g,
		tracker:  t,
		enforcer: enforcer,
		version:  version,
	}
}

// Run reads JSON-RPC requests from r line-by-line and writes responses to w.
// It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, errorResponse(nil, CodeParseError, "parse error"))
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.writeResponse(w, resp)
		}
	}
	return scanner.Err()
}

// dispatch answers one request. Notifications get no response.
func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	if len(req.ID) == 0 {
		return nil
	}
	if req.JSONRPC != jsonrpcVersion {
		return errorResponse(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "ping":
		return resultResponse(req.ID, struct{}{})
	case "tools/list":
		return resultResponse(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func (s *Server) handleInitialize(req *Request) *Response {
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "invalid params")
		}
	}
	logging.Debug().
		Add(logging.Component("mcp")).
		Add(logging.Str("client", params.ClientInfo.Name)).
		Add(logging.Str("protocol", params.ProtocolVersion)).
		Msg("initialize")

	return resultResponse(req.ID, InitializeResult{
		ProtocolVersion: negotiateVersion(params.ProtocolVersion),
		ServerInfo:      ServerInfo{Name: "guardian", Version: s.version},
		Capabilities:    ServerCapabilities{Tools: ToolsCapability{}},
		Instructions:    "Route AI requests through guardian_process; use the other tools to inspect cache, circuit and budget state.",
	})
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) (resp *Response) {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return resultResponse(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Error().
				Add(logging.Component("mcp")).
				Add(logging.Str("tool", params.Name)).
				Add(logging.Str("panic", fmt.Sprint(r))).
				Msg("tool handler panicked")
			resp = errorResponse(req.ID, CodeInternalError, "internal error")
		}
	}()
	return resultResponse(req.ID, handler(ctx, s, params.Arguments))
}

func (s *Server) writeResponse(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		logging.Error().Add(logging.Component("mcp")).Add(logging.ErrorField(err)).Msg("marshal response")
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		logging.Error().Add(logging.Component("mcp")).Add(logging.ErrorField(err)).Msg("write response")
	}
}
