// Package handler exposes the catalog service over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/booksphere/booksphere/internal/catalog"
	"github.com/booksphere/booksphere/internal/catalog/service"
	"github.com/booksphere/booksphere/internal/catalog/validator"
	apperrors "github.com/booksphere/booksphere/pkg/errors"
	"github.com/booksphere/booksphere/pkg/logger"
	"github.com/booksphere/booksphere/pkg/metrics"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodyBytes     = 1 << 20
)

type Handler struct {
	svc     *service.Service
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New builds the handler. m may be nil.
func New(svc *service.Service, m *metrics.Metrics) *Handler {
	return &Handler{
		svc:     svc,
		metrics: m,
		logger:  slog.Default().With("component", "catalog-handler"),
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/books", h.CreateBook)
	mux.HandleFunc("GET /api/v1/books", h.ListBooks)
	mux.HandleFunc("GET /api/v1/books/{id}", h.GetBook)
	mux.HandleFunc("PUT /api/v1/books/{id}", h.UpdateBook)
	mux.HandleFunc("PATCH /api/v1/books/{id}/status", h.UpdateStatus)
	mux.HandleFunc("DELETE /api/v1/books/{id}", h.DeleteBook)
	mux.HandleFunc("GET /api/v1/merchants/{id}/books", h.ListMerchantBooks)
}

func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var in catalog.BookInput
	if !h.decode(w, r, &in) {
		return
	}
	b, err := h.svc.Create(r.Context(), in)
	h.recordWrite("create", err)
	if err != nil {
		h.fail(w, r, "create book failed", err)
		return
	}
	logger.FromContext(r.Context()).Info("book created", "book_id", b.ID, "merchant_id", b.MerchantID)
	h.writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	var in catalog.BookInput
	if !h.decode(w, r, &in) {
		return
	}
	b, err := h.svc.Update(r.Context(), r.PathValue("id"), in)
	h.recordWrite("update", err)
	if err != nil {
		h.fail(w, r, "update book failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, b)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.svc.SetStatus(r.Context(), r.PathValue("id"), req.Status)
	h.recordWrite("status", err)
	if err != nil {
		h.fail(w, r, "update status failed", err)
		return
	}
	logger.FromContext(r.Context()).Info("book status changed", "book_id", b.ID, "status", b.Status)
	h.writeJSON(w, http.StatusOK, b)
}

func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Delete(r.Context(), r.PathValue("id"))
	h.recordWrite("delete", err)
	if err != nil {
		h.fail(w, r, "delete book failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "get book failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, b)
}

func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	books, err := h.svc.ListPublished(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "list books failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"books": books, "count": len(books)})
}

func (h *Handler) ListMerchantBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.svc.ListByMerchant(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "list merchant books failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"books": books, "count": len(books)})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) recordWrite(op string, err error) {
	if h.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	h.metrics.CatalogWritesTotal.WithLabelValues(op, status).Inc()
}

// fail maps err to a status code. Validation failures list their fields;
// server errors are logged and answered generically.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
		return
	}
	status := apperrors.HTTPStatusCode(err)
	switch {
	case status >= http.StatusInternalServerError:
		logger.FromContext(r.Context()).Error(msg, "error", err, "status_code", status)
		h.writeError(w, status, "internal error")
	case errors.Is(err, apperrors.ErrBookNotFound):
		h.writeError(w, status, "book not found")
	case errors.Is(err, apperrors.ErrMerchantNotFound):
		h.writeError(w, status, "merchant not found")
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
