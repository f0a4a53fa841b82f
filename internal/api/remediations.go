package api

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"kubeheal-backend/internal/anomaly"
	"kubeheal-backend/internal/history"
)

type recordRequest struct {
	AnomalyID   string           `json:"anomalyId"`
	ActionID    string           `json:"actionId"`
	ResourceKey string           `json:"resourceKey"`
	Kind        anomaly.Kind     `json:"kind"`
	Severity    anomaly.Severity `json:"severity"`
	RequestedAt time.Time        `json:"requestedAt"`
	CompletedAt time.Time        `json:"completedAt"`
	Outcome     history.Outcome  `json:"outcome"`
	Detail      string           `json:"detail"`
}

// filterFromQuery reads severity, date (YYYY-MM-DD), from/to (RFC 3339),
// search and anomalyId.
func filterFromQuery(r *http.Request) (history.Filter, error) {
	q := r.URL.Query()
	f := history.Filter{
		Date:      strings.TrimSpace(q.Get("date")),
		Search:    q.Get("search"),
		AnomalyID: strings.TrimSpace(q.Get("anomalyId")),
	}
	if sev := q.Get("severity"); sev != "" {
		parsed, err := anomaly.ParseSeverity(sev)
		if err != nil {
			return f, err
		}
		f.Severity = &parsed
	}
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		if raw := q.Get(name); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return f, err
			}
			*dst = ts
		}
	}
	return f, f.Validate()
}

func (h *Handler) handleRemediationsList(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	records, err := h.Log.ListAll(ctx, f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeRecords(w, records)
}

func (h *Handler) handleRemediationsAppend(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if kind, err := anomaly.ParseKind(string(req.Kind)); err == nil {
		req.Kind = kind
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	rec, err := h.Log.Append(ctx, history.Record{
		AnomalyID:   req.AnomalyID,
		ActionID:    req.ActionID,
		ResourceKey: req.ResourceKey,
		Kind:        req.Kind,
		Severity:    req.Severity,
		RequestedAt: req.RequestedAt,
		CompletedAt: req.CompletedAt,
		Outcome:     req.Outcome,
		Detail:      req.Detail,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if h.Recorded != nil {
		h.Recorded(rec)
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleRemediationsExport(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return
	}
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	records, err := h.Log.ListAll(ctx, f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="remediations.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := history.WriteCSV(w, records); err != nil {
		h.logger().Warn("write csv export", zap.Error(err))
	}
}

func writeRecords(w http.ResponseWriter, records []history.Record) {
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}
