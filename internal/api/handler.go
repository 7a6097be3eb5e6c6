// Package api exposes event ingestion and operational endpoints over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/argus/internal/config"
	"github.com/gyaneshwarpardhi/argus/internal/engine"
	"github.com/gyaneshwarpardhi/argus/internal/event"
	"github.com/gyaneshwarpardhi/argus/internal/metrics"
	"github.com/gyaneshwarpardhi/argus/internal/narrative"
	"github.com/gyaneshwarpardhi/argus/internal/pattern"
)

const (
	maxBatchSize = 100
	maxBodyBytes = 4 << 20
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng    *engine.Engine
	loader *config.Loader
	mux    *http.ServeMux
}

// New creates an HTTP handler and registers all routes. loader may be nil,
// in which case reload is unavailable.
func New(eng *engine.Engine, loader *config.Loader, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{eng: eng, loader: loader, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/events", h.ingestEvent)
	h.mux.HandleFunc("POST /v1/events/batch", h.ingestBatch)
	h.mux.HandleFunc("GET /v1/templates", h.listTemplates)
	h.mux.HandleFunc("GET /v1/actors/{id}/narratives", h.actorProgress)
	h.mux.HandleFunc("POST /v1/config/reload", h.reloadConfig)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return requestMiddleware(logger, h.mux)
}

// POST /v1/events: synchronous single-event scoring.
func (h *Handler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.ReceivedAt = time.Now()

	res, err := h.eng.ProcessSync(r.Context(), &ev)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if res.Error != "" {
		writeJSON(w, http.StatusInternalServerError, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidEvent):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, engine.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusServiceUnavailable
	}
}

type batchRejection struct {
	Index   int    `json:"index"`
	EventID string `json:"event_id,omitempty"`
	Error   string `json:"error"`
}

// POST /v1/events/batch: async batch ingestion (up to 100 events).
func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var events []*event.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&events); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one event")
		return
	}
	if len(events) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(events), maxBatchSize))
		return
	}

	now := time.Now()
	jobID := uuid.New().String()
	queued := 0
	rejected := []batchRejection{}
	for i, ev := range events {
		if ev == nil {
			rejected = append(rejected, batchRejection{Index: i, Error: "null event"})
			continue
		}
		if ev.ID == "" {
			ev.ID = uuid.New().String()
		}
		ev.ReceivedAt = now
		if err := h.eng.ProcessAsync(ev); err != nil {
			rejected = append(rejected, batchRejection{Index: i, EventID: ev.ID, Error: err.Error()})
			continue
		}
		queued++
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     jobID,
		"total":      len(events),
		"queued":     queued,
		"rejected":   len(rejected),
		"rejections": rejected,
	})
}

type templateView struct {
	ID              string         `json:"id"`
	StarterPatterns []pattern.Type `json:"starter_patterns"`
	OrderedSteps    []pattern.Type `json:"ordered_steps"`
	TotalTimeWindow string         `json:"total_time_window"`
	BaseScore       float64        `json:"base_score"`
	Reason          string         `json:"reason"`
}

// GET /v1/templates: list the narrative templates in use.
func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates := h.eng.Scorer().Narratives().Templates()
	out := make([]templateView, 0, len(templates))
	for _, t := range templates {
		out = append(out, templateView{
			ID:              t.ID,
			StarterPatterns: t.Starters,
			OrderedSteps:    t.Steps,
			TotalTimeWindow: t.Window.String(),
			BaseScore:       t.BaseScore,
			Reason:          t.Reason,
		})
	}
	resp := map[string]any{"templates": out}
	if h.loader != nil {
		resp["version"] = h.loader.Config().Version
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /v1/actors/{id}/narratives: in-flight narrative progress for an actor.
func (h *Handler) actorProgress(w http.ResponseWriter, r *http.Request) {
	actorID := r.PathValue("id")
	progress := h.eng.Scorer().Narratives().Progress(actorID)
	if progress == nil {
		progress = []narrative.Progress{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"actor_id":   actorID,
		"narratives": progress,
	})
}

// POST /v1/config/reload: re-read the config file and swap the scorer.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		writeError(w, http.StatusNotImplemented, "config reload is not available")
		return
	}
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded":        true,
		"version":         cfg.Version,
		"templates_count": len(h.eng.Scorer().Narratives().Templates()),
	})
}

// GET /healthz: always 200 (liveness check).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if any partition queue is >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"queue_utilization": util,
	})
}
