// Package api exposes the presence server over HTTP: the websocket endpoint and the operator routes.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"presence-lab/contract"
	"presence-lab/domain"
	"presence-lab/observability"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
)

// PlayerSource is the read side of the registry.
type PlayerSource interface {
	Snapshot() domain.Snapshot
	Len() int
}

type HealthResponse struct {
	Status string                        `json:"status"`
	Stats  observability.MonitoringStats `json:"stats"`
}

type JournalRow struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	PlayerID string    `json:"player_id"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

type JournalResponse struct {
	Entries []JournalRow `json:"entries"`
	Cursor  *string      `json:"cursor,omitempty"`
}

type router struct {
	log        *slog.Logger
	players    PlayerSource
	journal    contract.Journal
	monitoring *observability.MonitoringManager
}

// NewRouter mounts the routes. journal may be nil when the journal is disabled.
func NewRouter(
	log *slog.Logger,
	ws http.Handler,
	players PlayerSource,
	journal contract.Journal,
	monitoring *observability.MonitoringManager,
) http.Handler {
	rt := router{log: log, players: players, journal: journal, monitoring: monitoring}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws", ws.ServeHTTP)
	r.Get("/healthz", rt.health)
	r.Get("/players", rt.listPlayers)
	r.Get("/journal", rt.listJournal)
	if registry := monitoring.Registry(); registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	return r
}

func (rt router) health(w http.ResponseWriter, _ *http.Request) {
	stats := rt.monitoring.GetLatest()
	stats.Players = rt.players.Len()
	rt.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Stats: stats})
}

func (rt router) listPlayers(w http.ResponseWriter, _ *http.Request) {
	rt.writeJSON(w, http.StatusOK, rt.players.Snapshot())
}

func (rt router) listJournal(w http.ResponseWriter, r *http.Request) {
	if rt.journal == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}

	var cursor *string
	if c := r.URL.Query().Get("cursor"); c != "" {
		cursor = &c
	}
	entries, next, err := rt.journal.List(cursor)
	if err != nil {
		rt.log.Error("Failed to read journal", "error", err)
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}

	rt.writeJSON(w, http.StatusOK, JournalResponse{
		Entries: lo.Map(entries, func(e domain.JournalEntry, _ int) JournalRow {
			return JournalRow{
				ID:       e.ID.String(),
				Kind:     string(e.Kind),
				PlayerID: e.PlayerID,
				Reason:   string(e.Reason),
				At:       e.At,
			}
		}),
		Cursor: next,
	})
}

func (rt router) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		rt.log.Debug("Failed to write response", "error", err)
	}
}
