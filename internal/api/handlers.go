// Package api serves the anomaly and remediation endpoints over chi.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"kubeheal-backend/internal/anomaly"
	"kubeheal-backend/internal/history"
	"kubeheal-backend/internal/remediation"
)

type Handler struct {
	Registry   *anomaly.Registry
	Dispatcher *remediation.Dispatcher
	Log        *history.Log
	Metrics    http.Handler
	Logger     *zap.Logger
	Timeout    time.Duration
	// Recorded, when set, sees every record appended through POST /remediations.
	Recorded func(history.Record)
}

type errorResponse struct {
	Ok      bool   `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewRouter mounts the handler behind the usual middleware stack.
func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}
	r.Get("/actions", h.handleActions)
	r.Route("/anomalies", func(r chi.Router) {
		r.Get("/", h.handleAnomaliesList)
		r.Get("/{id}", h.handleAnomalyGet)
		r.Put("/{id}/status", h.handleAnomalyStatus)
		r.Post("/{id}/remediate", h.handleRemediate)
		r.Get("/{id}/remediations", h.handleAnomalyRemediations)
	})
	r.Route("/remediations", func(r chi.Router) {
		r.Get("/", h.handleRemediationsList)
		r.Post("/", h.handleRemediationsAppend)
		r.Get("/export", h.handleRemediationsExport)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// withTimeout bounds store access. Remediation requests are bounded by the
// dispatcher's own action timeout instead.
func (h *Handler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.Timeout)
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger().Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("requestId", middleware.GetReqID(r.Context())))
	})
}

// writeDomainError maps sentinel errors onto status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, anomaly.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, anomaly.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, "ALREADY_RESOLVED", err.Error())
	case errors.Is(err, anomaly.ErrNotInvestigating):
		writeError(w, http.StatusConflict, "NOT_INVESTIGATING", err.Error())
	case errors.Is(err, remediation.ErrInapplicableAction):
		writeError(w, http.StatusUnprocessableEntity, "INAPPLICABLE_ACTION", err.Error())
	case errors.Is(err, history.ErrInvalidRecord):
		writeError(w, http.StatusBadRequest, "INVALID_RECORD", err.Error())
	case errors.Is(err, history.ErrStorage):
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "TIMEOUT", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Ok: false, Code: code, Message: message})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
