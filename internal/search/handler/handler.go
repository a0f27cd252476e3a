// Package handler exposes the search service over HTTP and reports every
// answered lookup to the analytics collector.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/booksphere/booksphere/internal/analytics"
	"github.com/booksphere/booksphere/internal/search"
	"github.com/booksphere/booksphere/internal/search/cache"
	apperrors "github.com/booksphere/booksphere/pkg/errors"
	"github.com/booksphere/booksphere/pkg/logger"
)

type Searcher interface {
	Search(ctx context.Context, query, category string, limit int) (search.Result, bool, error)
	Similar(ctx context.Context, bookID string, limit int) (search.Result, bool, error)
	Refresh(ctx context.Context, trigger string) (search.SnapshotInfo, error)
	Snapshot() (search.SnapshotInfo, bool)
	CacheStats() cache.Stats
	InvalidateCache(ctx context.Context) (int64, error)
}

type Handler struct {
	svc       Searcher
	collector *analytics.Collector
	logger    *slog.Logger
}

// New builds the handler. collector may be nil.
func New(svc Searcher, collector *analytics.Collector) *Handler {
	return &Handler{
		svc:       svc,
		collector: collector,
		logger:    slog.Default().With("component", "search-handler"),
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/books/{id}/similar", h.Similar)
	mux.HandleFunc("GET /api/v1/index", h.IndexInfo)
	mux.HandleFunc("POST /api/v1/index/refresh", h.Refresh)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

type response struct {
	Query    string `json:"query,omitempty"`
	Category string `json:"category,omitempty"`
	BookID   string `json:"book_id,omitempty"`
	search.Result
	Count    int   `json:"count"`
	CacheHit bool  `json:"cache_hit"`
	TookMs   int64 `json:"took_ms"`
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	query := r.URL.Query().Get("q")
	category := r.URL.Query().Get("category")

	res, hit, err := h.svc.Search(ctx, query, category, limit)
	if err != nil {
		h.fail(w, r, "search failed", err)
		return
	}
	took := time.Since(start).Milliseconds()
	logger.FromContext(ctx).Info("search completed",
		"query", query,
		"category", category,
		"returned", len(res.Hits),
		"exact_matches", res.ExactMatches,
		"fallback", res.Fallback,
		"cache_hit", hit,
		"latency_ms", took,
	)
	h.track(ctx, analytics.SearchEvent{
		Type:     analytics.EventSearch,
		Query:    query,
		Category: category,
	}, res, hit, took)

	h.writeJSON(w, http.StatusOK, response{
		Query:    query,
		Category: category,
		Result:   res,
		Count:    len(res.Hits),
		CacheHit: hit,
		TookMs:   took,
	})
}

func (h *Handler) Similar(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	res, hit, err := h.svc.Similar(ctx, id, limit)
	if err != nil {
		h.fail(w, r, "similar lookup failed", err)
		return
	}
	took := time.Since(start).Milliseconds()
	logger.FromContext(ctx).Debug("similar lookup completed",
		"book_id", id,
		"returned", len(res.Hits),
		"fallback", res.Fallback,
		"latency_ms", took,
	)
	h.track(ctx, analytics.SearchEvent{Type: analytics.EventSimilar, BookID: id}, res, hit, took)

	h.writeJSON(w, http.StatusOK, response{
		BookID:   id,
		Result:   res,
		Count:    len(res.Hits),
		CacheHit: hit,
		TookMs:   took,
	})
}

func (h *Handler) IndexInfo(w http.ResponseWriter, r *http.Request) {
	info, ok := h.svc.Snapshot()
	if !ok {
		h.fail(w, r, "index info", apperrors.ErrIndexNotReady)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.Refresh(r.Context(), search.TriggerManual)
	if err != nil {
		h.fail(w, r, "manual refresh failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) CacheStats(w http.ResponseWriter, _ *http.Request) {
	stats := h.svc.CacheStats()
	total := stats.Hits + stats.Misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"enabled":       stats.Enabled,
		"hits":          stats.Hits,
		"misses":        stats.Misses,
		"errors":        stats.Errors,
		"total":         total,
		"hit_rate":      fmt.Sprintf("%.1f%%", hitRate),
		"circuit_state": stats.CircuitState,
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if !h.svc.CacheStats().Enabled {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.svc.InvalidateCache(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

// limit parses the optional limit parameter. Zero means the service
// default; values above the maximum are capped by the service.
func (h *Handler) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}

func (h *Handler) track(ctx context.Context, e analytics.SearchEvent, res search.Result, hit bool, took int64) {
	if h.collector == nil {
		return
	}
	e.Returned = len(res.Hits)
	e.ExactMatches = res.ExactMatches
	e.Fallback = res.Fallback
	e.LatencyMs = took
	e.CacheHit = hit && e.Type == analytics.EventSearch
	e.SnapshotVersion = res.SnapshotVersion
	e.Timestamp = time.Now().UTC()
	e.RequestID = logger.RequestID(ctx)
	h.collector.Track(e)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	switch {
	case errors.Is(err, apperrors.ErrIndexNotReady):
		h.writeError(w, status, "search index not ready")
	case errors.Is(err, apperrors.ErrTimeout):
		h.writeError(w, status, "search timed out")
	case status >= http.StatusInternalServerError:
		logger.FromContext(r.Context()).Error(msg, "error", err, "status_code", status)
		h.writeError(w, status, "internal error")
	case errors.Is(err, apperrors.ErrBookNotFound):
		h.writeError(w, status, "book not found")
	default:
		h.writeError(w, status, err.Error())
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
