// Package api serves Guardian over a small JSON HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/guardian-crm/guardian/pkg/budget"
	"github.com/guardian-crm/guardian/pkg/cache"
	"github.com/guardian-crm/guardian/pkg/logging"
	"github.com/guardian-crm/guardian/pkg/models"
	"github.com/guardian-crm/guardian/pkg/orchestrator"
	"github.com/guardian-crm/guardian/pkg/tracker"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Guardian is the part of the orchestrator the API drives.
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

// Server is the Guardian HTTP API.
type Server struct {
	guardian Guardian
	tracker  tracker.Tracker
	enforcer *budget.Enforcer
	listen   string
	mux      *http.ServeMux
}

// New creates a Server. The tracker and enforcer are optional.
func New(g Guardian, t tracker.Tracker, e *budget.Enforcer, listen string) *Server {
	s := &Server{
		guardian: g,
		tracker:  t,
		enforcer: e,
		listen:   listen,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /v1/process", s.handleProcess)
	s.mux.HandleFunc("GET /v1/stats", s.handleStats)
	s.mux.HandleFunc("GET /v1/cache/stats", s.handleCacheStats)
	s.mux.HandleFunc("POST /v1/cache/invalidate", s.handleInvalidate)
	s.mux.HandleFunc("POST /v1/cache/feedback", s.handleFeedback)
	s.mux.HandleFunc("GET /v1/circuits", s.handleCircuits)
	s.mux.HandleFunc("POST /v1/circuits/reset", s.handleResetCircuit)
	s.mux.HandleFunc("GET /v1/budget", s.handleBudget)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the server and shuts it down gracefully when ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Add(logging.Component("api")).Add(logging.Str("addr", s.listen)).Msg("guardian api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type processRequest struct {
	TenantID    string         `json:"tenant_id"`
	Action      string         `json:"action"`
	Input       map[string]any `json:"input"`
	BypassCache bool           `json:"bypass_cache"`
	RawErrors   bool           `json:"raw_errors"`
	Model       string         `json:"model"`
	TimeoutMs   int64          `json:"timeout_ms"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.TenantID == "" {
		req.TenantID = extractTenant(r)
	}
	if req.TenantID == "" || req.Action == "" {
		writeJSONError(w, http.StatusBadRequest, "tenant_id and action are required")
		return
	}
	if req.Input == nil {
		req.Input = map[string]any{}
	}

	env, err := s.guardian.Process(r.Context(), req.TenantID, models.ActionType(req.Action), req.Input, orchestrator.Options{
		BypassCache: req.BypassCache,
		RawErrors:   req.RawErrors,
		Model:       req.Model,
		Timeout:     time.Duration(req.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}

	cacheHeader := "miss"
	if env.Cached {
		cacheHeader = string(env.CacheTier)
	}
	w.Header().Set("X-Guardian-Cache", cacheHeader)
	w.Header().Set("X-Guardian-Request-Id", env.Metadata.RequestID)
	if env.Metadata.Degraded {
		w.Header().Set("X-Guardian-Degraded", "true")
	}

	status := http.StatusOK
	if !env.Success {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, env)
}

type statsResponse struct {
	Live      models.UsageStats     `json:"live"`
	Persisted []models.UsageSummary `json:"persisted,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	resp := statsResponse{Live: s.guardian.Stats(tenantID)}
	if s.tracker != nil {
		rows, err := s.tracker.Summary(r.Context(), tenantID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "fetch usage: "+err.Error())
			return
		}
		resp.Persisted = rows
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.guardian.CacheStats())
}

type invalidateRequest struct {
	Pattern  string `json:"pattern"`
	TenantID string `json:"tenant_id"`
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Pattern == "" {
		writeJSONError(w, http.StatusBadRequest, "pattern is required")
		return
	}
	n := s.guardian.Invalidate(r.Context(), req.Pattern, req.TenantID)
	writeJSON(w, http.StatusOK, map[string]int{"invalidated": n})
}

type feedbackRequest struct {
	Key   string `json:"key"`
	Score int    `json:"score"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	err := s.guardian.Feedback(req.Key, req.Score)
	switch {
	case errors.Is(err, cache.ErrInvalidFeedback):
		writeJSONError(w, http.StatusBadRequest, "score must be between 1 and 5")
	case errors.Is(err, cache.ErrEntryNotFound):
		writeJSONError(w, http.StatusNotFound, "no cached entry with key "+req.Key)
	case err != nil:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

type circuitsResponse struct {
	Health   models.CircuitHealth    `json:"health"`
	Circuits []models.CircuitMetrics `json:"circuits"`
}

func (s *Server) handleCircuits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, circuitsResponse{
		Health:   s.guardian.CircuitHealth(),
		Circuits: s.guardian.CircuitMetrics(),
	})
}

// handleResetCircuit resets the breaker named by ?key=, or every breaker
// when key is absent.
func (s *Server) handleResetCircuit(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if !s.guardian.ResetCircuit(key) {
		writeJSONError(w, http.StatusNotFound, "no circuit with key "+key)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	if s.enforcer == nil {
		writeJSONError(w, http.StatusNotFound, "budget enforcement is not configured")
		return
	}
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		tenantID = "*"
	}
	statuses, err := s.enforcer.Status(r.Context(), tenantID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

// handleHealth reports 503 once any circuit is open.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.guardian.CircuitHealth()
	status := http.StatusOK
	if h.Failed > 0 {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

// extractTenant reads the tenant from the X-Tenant-ID header.
func extractTenant(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Add(logging.Component("api")).Add(logging.ErrorField(err)).Msg("write response")
	}
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]errorBody{
		"error": {Message: message, Type: "guardian_error", Code: code},
	})
}
