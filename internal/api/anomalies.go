package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"kubeheal-backend/internal/anomaly"
	"kubeheal-backend/internal/history"
	"kubeheal-backend/internal/remediation"
)

// ResolutionOperator is recorded when an operator closes an anomaly by hand.
const ResolutionOperator = "resolved by operator"

type remediateRequest struct {
	ActionID string `json:"actionId"`
}

type statusRequest struct {
	Status     string `json:"status"`
	Resolution string `json:"resolution"`
}

func (h *Handler) handleAnomaliesList(w http.ResponseWriter, r *http.Request) {
	filter := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))
	var keep func(anomaly.Anomaly) bool
	switch filter {
	case "", "open":
		keep = func(a anomaly.Anomaly) bool { return a.Status.Open() }
	case "all":
	default:
		status, err := anomaly.ParseStatus(filter)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_STATUS", err.Error())
			return
		}
		keep = func(a anomaly.Anomaly) bool { return a.Status == status }
	}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		k, err := anomaly.ParseKind(kind)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_KIND", err.Error())
			return
		}
		byStatus := keep
		keep = func(a anomaly.Anomaly) bool {
			return a.Kind == k && (byStatus == nil || byStatus(a))
		}
	}
	list := h.Registry.List(keep)
	if list == nil {
		list = []anomaly.Anomaly{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleAnomalyGet(w http.ResponseWriter, r *http.Request) {
	a, err := h.Registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleRemediate answers 200 with the record on success and 502 with the
// record when the action ran and failed. A storage failure after the action
// ran answers 500 and still carries the record.
func (h *Handler) handleRemediate(w http.ResponseWriter, r *http.Request) {
	var req remediateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if strings.TrimSpace(req.ActionID) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "actionId is required")
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := h.Dispatcher.Execute(r.Context(), id, req.ActionID)
	switch {
	case err == nil && rec.Outcome == history.OutcomeSucceeded:
		writeJSON(w, http.StatusOK, rec)
	case err == nil:
		writeJSON(w, http.StatusBadGateway, rec)
	case errors.Is(err, history.ErrStorage) && rec.ID != "":
		h.logger().Error("remediation not persisted", zap.String("anomaly", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":      false,
			"code":    "STORAGE_ERROR",
			"message": err.Error(),
			"record":  rec,
		})
	default:
		writeDomainError(w, err)
	}
}

func (h *Handler) handleAnomalyStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	status, err := anomaly.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	switch status {
	case anomaly.StatusInvestigating:
		err = h.Registry.Acknowledge(id)
	case anomaly.StatusResolved:
		resolution := strings.TrimSpace(req.Resolution)
		if resolution == "" {
			resolution = ResolutionOperator
		}
		err = h.Registry.Resolve(id, resolution)
	default:
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", "status must be investigating or resolved")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.handleAnomalyGet(w, r)
}

func (h *Handler) handleAnomalyRemediations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Registry.Get(id); err != nil {
		writeDomainError(w, err)
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	records, err := h.Log.ListByAnomaly(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeRecords(w, records)
}

func (h *Handler) handleActions(w http.ResponseWriter, r *http.Request) {
	catalog := h.Dispatcher.Catalog()
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		writeJSON(w, http.StatusOK, catalog.Actions())
		return
	}
	k, err := anomaly.ParseKind(kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_KIND", err.Error())
		return
	}
	actions := catalog.ForKind(k)
	if actions == nil {
		actions = []remediation.Action{}
	}
	writeJSON(w, http.StatusOK, actions)
}
