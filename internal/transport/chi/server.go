// Package chi is the daemon HTTP surface: query, health, and metrics.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
)

// QueryService is the engine surface the server exposes.
type QueryService interface {
	Query(ctx context.Context, q domain.Query) (domain.Response, error)
	Stats(ctx context.Context) (domain.EngineStats, error)
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server handles the HTTP API.
type Server struct {
	engine        QueryService
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(engine QueryService, logger *zap.Logger) *Server {
	s := &Server{
		engine: engine,
		logger: logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, "not_found"),
		sentinelHandler(domain.ErrTimeout, http.StatusGatewayTimeout, "timeout"),
		sentinelHandler(domain.ErrBackendClosed, http.StatusServiceUnavailable, "backend_closed"),
		sentinelHandler(domain.ErrBackendUnavailable, http.StatusServiceUnavailable, "backend_unavailable"),
		sentinelHandler(domain.ErrEmbeddingProvider, http.StatusBadGateway, "embedding_provider_error"),
	}
	return s
}

// Routes mounts the API onto a chi router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/v1/query", s.handleQuery)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
}

type queryRequest struct {
	Query  string            `json:"query"`
	Mode   string            `json:"mode,omitempty"`
	TopK   int               `json:"top_k,omitempty"`
	Alpha  *float64          `json:"alpha,omitempty"`
	Filter map[string]string `json:"filter,omitempty"`
}

type queryResultItem struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Score      float64           `json:"score"`
	FinalScore float64           `json:"final_score"`
	Rank       int               `json:"rank"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type queryResponse struct {
	Items    []queryResultItem `json:"items"`
	Total    int               `json:"total"`
	CacheHit bool              `json:"cache_hit"`
	Degraded []string          `json:"degraded,omitempty"`
	TookMS   int64             `json:"took_ms"`
}

const (
	defaultTopK  = 10
	defaultAlpha = 0.5
)

// handleQuery handles POST /v1/query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	q := domain.Query{
		Text:   req.Query,
		Mode:   domain.Mode(req.Mode),
		TopK:   req.TopK,
		Filter: req.Filter,
	}
	if q.Mode == "" {
		q.Mode = domain.ModeHybrid
	}
	if q.TopK == 0 {
		q.TopK = defaultTopK
	}
	if req.Alpha != nil {
		q.Alpha = *req.Alpha
	} else {
		q.Alpha = defaultAlpha
	}

	resp, err := s.engine.Query(r.Context(), q)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]queryResultItem, len(resp.Results))
	for i, res := range resp.Results {
		items[i] = queryResultItem{
			ID:         res.ID,
			Content:    res.Content,
			Score:      res.Score,
			FinalScore: res.FinalScore,
			Rank:       res.Rank,
			Metadata:   res.Metadata,
		}
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Items:    items,
		Total:    len(items),
		CacheHit: resp.CacheHit,
		Degraded: resp.Degraded,
		TookMS:   resp.Took.Milliseconds(),
	})
}

type healthResponse struct {
	Status          string  `json:"status"`
	Documents       int     `json:"documents"`
	Queries         uint64  `json:"queries"`
	CacheHitRate    float64 `json:"cache_hit_rate"`
	CacheSize       int     `json:"cache_size"`
	CacheCapacity   int     `json:"cache_capacity"`
	SinceLastAccess string  `json:"since_last_access"`
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.logger.Warn("health check degraded", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy"})
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:          "ok",
		Documents:       stats.DocumentCount,
		Queries:         stats.QueryCount,
		CacheHitRate:    stats.CacheHitRate,
		CacheSize:       stats.CacheSize,
		CacheCapacity:   stats.CacheCapacity,
		SinceLastAccess: stats.SinceLastAccess.Round(time.Millisecond).String(),
	})
}

// handleMetrics handles GET /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidArgument,
		domain.ErrNotFound,
		domain.ErrTimeout,
		domain.ErrBackendClosed,
		domain.ErrBackendUnavailable,
		domain.ErrEmbeddingProvider,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
