package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"dqwatch/internal/alerting"
	"dqwatch/internal/quality"
	"dqwatch/internal/service"
	"dqwatch/internal/storage"
)

// Handler exposes the engine's semantic operations over HTTP.
type Handler struct {
	svc    *service.Service
	logger zerolog.Logger
}

// NewHandler constructs the API handler.
func NewHandler(svc *service.Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger.With().Str("component", "api").Logger()}
}

// GetScore returns the composite confidence score.
// GET /api/quality/score?source=
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.ComputeScore(r.Context(), r.URL.Query().Get("source"))
	if err != nil {
		h.fail(w, err, "compute score")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type snapshotResponse struct {
	ID        int64             `json:"id"`
	Bucket    time.Time         `json:"ts_bucket"`
	Source    string            `json:"source"`
	MetricKey string            `json:"metric_key"`
	Value     float64           `json:"metric_value"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// GetSnapshots returns stored snapshots, newest bucket first.
// GET /api/quality/snapshots?source=&metric=&since=&limit=
func (h *Handler) GetSnapshots(w http.ResponseWriter, r *http.Request) {
	filter := storage.SnapshotFilter{
		Source:    r.URL.Query().Get("source"),
		MetricKey: r.URL.Query().Get("metric"),
		Limit:     parseLimit(r),
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid since timestamp (expected RFC3339)")
			return
		}
		filter.Since = &since
	}

	snapshots, err := h.svc.Query(r.Context(), filter)
	if err != nil {
		h.fail(w, err, "query snapshots")
		return
	}

	out := make([]snapshotResponse, 0, len(snapshots))
	for _, snap := range snapshots {
		out = append(out, snapshotResponse{
			ID:        snap.ID,
			Bucket:    snap.Bucket,
			Source:    snap.Source,
			MetricKey: snap.MetricKey,
			Value:     snap.Value.InexactFloat64(),
			Meta:      snap.Meta,
			CreatedAt: snap.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// GetTrend returns the run-over-run trend for a metric, or null when fewer
// than two runs cover it.
// GET /api/quality/trend/{metric}?source=
func (h *Handler) GetTrend(w http.ResponseWriter, r *http.Request) {
	metric := mux.Vars(r)["metric"]
	trend, err := h.svc.Trend(r.Context(), metric, r.URL.Query().Get("source"))
	if err != nil {
		h.fail(w, err, "compute trend")
		return
	}
	respondJSON(w, http.StatusOK, trend)
}

// GetDrilldown returns the explanatory breakdown for a metric.
// GET /api/quality/drilldown/{metric}
func (h *Handler) GetDrilldown(w http.ResponseWriter, r *http.Request) {
	metric := mux.Vars(r)["metric"]
	result, err := h.svc.Drilldown(r.Context(), metric)
	if err != nil {
		h.fail(w, err, "drilldown")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ListAlerts returns alerts filtered by status, severity, and source.
// GET /api/alerts?status=&severity=&source=&limit=
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	filter := storage.AlertFilter{
		Source: r.URL.Query().Get("source"),
		Limit:  parseLimit(r),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := storage.AlertStatus(raw)
		if !storage.ValidAlertStatus(status) {
			respondError(w, http.StatusBadRequest, "invalid status filter")
			return
		}
		filter.Status = status
	}
	if raw := r.URL.Query().Get("severity"); raw != "" {
		severity := storage.AlertSeverity(raw)
		if !storage.ValidSeverity(severity) {
			respondError(w, http.StatusBadRequest, "invalid severity filter")
			return
		}
		filter.Severity = severity
	}

	alerts, err := h.svc.ListAlerts(r.Context(), filter)
	if err != nil {
		h.fail(w, err, "list alerts")
		return
	}
	respondJSON(w, http.StatusOK, alerts)
}

type statusRequest struct {
	Status string `json:"status"`
}

// SetAlertStatus transitions one alert's lifecycle state.
// POST /api/alerts/{id}/status
func (h *Handler) SetAlertStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAlertID(w, r)
	if !ok {
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	alert, err := h.svc.SetAlertStatus(r.Context(), id, storage.AlertStatus(req.Status))
	if err != nil {
		h.fail(w, err, "set alert status")
		return
	}
	respondJSON(w, http.StatusOK, alert)
}

type noteRequest struct {
	Note string `json:"note"`
}

// SetAlertNote attaches a triage note to one alert.
// POST /api/alerts/{id}/note
func (h *Handler) SetAlertNote(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAlertID(w, r)
	if !ok {
		return
	}

	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	alert, err := h.svc.SetAlertNote(r.Context(), id, req.Note)
	if err != nil {
		h.fail(w, err, "set alert note")
		return
	}
	respondJSON(w, http.StatusOK, alert)
}

type ingestRequest struct {
	Bucket    time.Time `json:"ts_bucket"`
	Snapshots []struct {
		Source    string            `json:"source"`
		MetricKey string            `json:"metric_key"`
		Value     float64           `json:"metric_value"`
		Meta      map[string]string `json:"meta,omitempty"`
	} `json:"snapshots"`
}

// Ingest accepts a pushed measurement batch from the producer.
// POST /api/ingest
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	batch := make([]storage.MetricSnapshot, 0, len(req.Snapshots))
	for _, row := range req.Snapshots {
		snap, err := storage.NewSnapshot(req.Bucket, row.Source, row.MetricKey, row.Value, row.Meta)
		if err != nil {
			h.fail(w, err, "validate snapshot")
			return
		}
		batch = append(batch, snap)
	}

	result, err := h.svc.Ingest(r.Context(), req.Bucket, batch)
	if err != nil {
		h.fail(w, err, "ingest batch")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func parseAlertID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid alert id")
		return 0, false
	}
	return id, true
}

func parseLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			return limit
		}
	}
	return 0
}

// fail maps the engine's error taxonomy onto HTTP status codes, keeping
// failure states distinct from empty results.
func (h *Handler) fail(w http.ResponseWriter, err error, action string) {
	h.logger.Error().Err(err).Str("action", action).Msg("request failed")

	switch {
	case storage.IsValidation(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, alerting.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrConcurrentRun):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrStatusConflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, quality.ErrUnknownMetric):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
