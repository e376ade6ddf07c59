// Package ops exposes the engine's operational HTTP surface: health,
// counters, and the manual reminder trigger.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/steelhorse-mc/presence-engine/internal/config"
	"github.com/steelhorse-mc/presence-engine/internal/presence"
	"github.com/steelhorse-mc/presence-engine/internal/reminder"
)

// Pinger reports store connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PresenceSource is the tracker's read-only view.
type PresenceSource interface {
	ActiveCount() int
	Stats() *presence.Stats
}

// ReminderSource is the scheduler's read-only view plus the manual trigger.
type ReminderSource interface {
	RunNow(ctx context.Context) error
	Stats() *reminder.Stats
}

// GatewaySource reports adapter connection health.
type GatewaySource interface {
	Reconnects() int64
}

type Handler struct {
	db        Pinger
	presence  PresenceSource
	reminders ReminderSource
	gateway   GatewaySource
}

func NewHandler(db Pinger, presence PresenceSource, reminders ReminderSource, gateway GatewaySource) *Handler {
	return &Handler{
		db:        db,
		presence:  presence,
		reminders: reminders,
		gateway:   gateway,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Post("/admin/reminders/run", h.RunReminders)

	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"error":  "store unreachable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active_sessions":    h.presence.ActiveCount(),
		"presence":           h.presence.Stats().Snapshot(),
		"reminders":          h.reminders.Stats().Snapshot(),
		"gateway_reconnects": h.gateway.Reconnects(),
	})
}

func (h *Handler) RunReminders(w http.ResponseWriter, r *http.Request) {
	log.Info().Msg("manual reminder run requested")

	if err := h.reminders.RunNow(r.Context()); err != nil {
		log.Error().Err(err).Msg("manual reminder run failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "reminder run failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "completed",
		"reminders": h.reminders.Stats().Snapshot(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
