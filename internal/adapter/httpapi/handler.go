// Package httpapi exposes the query pipeline over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"incident-orchestrator/internal/pipeline"
)

// QueryRunner executes one pipeline run for a query. Satisfied by
// *pipeline.Orchestrator; narrowed here so handler tests can stub it.
type QueryRunner interface {
	Run(ctx context.Context, st *pipeline.State, opts pipeline.RunOptions) (*pipeline.State, error)
}

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueryRequest is the body of POST /v1/rag/query.
type QueryRequest struct {
	Query    string   `json:"query"`
	RawTexts []string `json:"raw_texts,omitempty"`
	ThreadID string   `json:"thread_id,omitempty"`
}

// QueryResponse mirrors the pipeline state the caller cares about. Error is
// empty on the success path; when set, Answer still carries the templated
// fallback text.
type QueryResponse struct {
	Answer       string         `json:"answer"`
	Route        string         `json:"route"`
	Error        string         `json:"error,omitempty"`
	Docs         int            `json:"docs"`
	ProcessingMS int64          `json:"processing_time_ms"`
	Metrics      map[string]any `json:"metrics,omitempty"`
	Cached       bool           `json:"cached,omitempty"`
}

// Handler serves the query endpoint plus health and metrics. Answers for
// plain queries (no raw texts) are cached briefly keyed by query text.
type Handler struct {
	runner QueryRunner
	pinger Pinger
	cache  *lru.LRU[string, QueryResponse]
	logger *slog.Logger
}

// NewHandler builds the handler. cacheSize <= 0 disables answer caching;
// pinger may be nil, in which case readyz always succeeds.
func NewHandler(runner QueryRunner, pinger Pinger, cacheSize int, cacheTTL time.Duration, logger *slog.Logger) *Handler {
	var cache *lru.LRU[string, QueryResponse]
	if cacheSize > 0 {
		cache = lru.NewLRU[string, QueryResponse](cacheSize, nil, cacheTTL)
	}
	return &Handler{runner: runner, pinger: pinger, cache: cache, logger: logger}
}

// RegisterRoutes attaches all endpoints to the echo instance.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/rag/query", h.Query)
	e.GET("/v1/rag/healthz", h.Healthz)
	e.GET("/v1/rag/readyz", h.Readyz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// Query runs the full pipeline for one question. Handled pipeline failures
// still return 200 with the error field set; only request validation and
// orchestrator programming errors produce non-200 codes.
func (h *Handler) Query(ctx echo.Context) error {
	var req QueryRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	st, err := pipeline.NewState(req.Query, req.RawTexts)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	cacheable := h.cache != nil && len(req.RawTexts) == 0 && req.ThreadID == ""
	if cacheable {
		if resp, ok := h.cache.Get(st.Query); ok {
			resp.Cached = true
			return ctx.JSON(http.StatusOK, resp)
		}
	}

	start := time.Now()
	result, err := h.runner.Run(ctx.Request().Context(), st, pipeline.RunOptions{ThreadID: req.ThreadID})
	if err != nil {
		h.logger.Error("query_pipeline_failed", slog.String("error", err.Error()))
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	resp := QueryResponse{
		Answer:       result.Answer,
		Route:        string(result.Route),
		Error:        result.Err,
		Docs:         len(result.Docs),
		ProcessingMS: time.Since(start).Milliseconds(),
		Metrics:      result.Metrics,
	}

	if cacheable && result.Err == "" {
		h.cache.Add(st.Query, resp)
	}
	return ctx.JSON(http.StatusOK, resp)
}

// Healthz reports process liveness.
func (h *Handler) Healthz(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz reports whether the service can reach its database.
func (h *Handler) Readyz(ctx echo.Context) error {
	if h.pinger != nil {
		if err := h.pinger.Ping(ctx.Request().Context()); err != nil {
			return ctx.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
		}
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ready"})
}
