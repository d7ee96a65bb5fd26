// Package api exposes the HTTP surface: match CRUD, stats queries, the game
// server telemetry gateway and the realtime websocket feed.
package api

import (
	"net/http"

	"github.com/nats-io/nats.go"

	"github.com/matchdeck/matchdeck/internal/auth"
	"github.com/matchdeck/matchdeck/internal/config"
	"github.com/matchdeck/matchdeck/internal/domain"
	"github.com/matchdeck/matchdeck/internal/match"
	"github.com/matchdeck/matchdeck/internal/stats"
)

// EventSource delivers the realtime event stream to the websocket hub
type EventSource interface {
	SubscribeAll(fn func(domain.Event)) (*nats.Subscription, error)
}

// Router holds the HTTP routes and dependencies
type Router struct {
	mux      *http.ServeMux
	registry *match.Registry
	ledger   *stats.Ledger
	auth     *auth.Service
	events   EventSource
	cfg      *config.Runtime
	wsHub    *WebSocketHub
}

// NewRouter creates a new HTTP router
func NewRouter(registry *match.Registry, ledger *stats.Ledger, authService *auth.Service, events EventSource, cfg *config.Runtime) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		registry: registry,
		ledger:   ledger,
		auth:     authService,
		events:   events,
		cfg:      cfg,
		wsHub:    NewWebSocketHub(),
	}

	// Match lifecycle
	r.mux.HandleFunc("POST /api/matches", r.requireGlobal(r.handleCreateMatch))
	r.mux.HandleFunc("GET /api/matches", r.requireGlobal(r.handleGetMatches))
	r.mux.HandleFunc("GET /api/matches/{id}", r.requireMatch(r.handleGetMatch))
	r.mux.HandleFunc("PATCH /api/matches/{id}", r.requireMatch(r.handleUpdateMatch))
	r.mux.HandleFunc("PATCH /api/matches/{id}/maps/{number}", r.requireMatch(r.handleUpdateMatchMap))
	r.mux.HandleFunc("DELETE /api/matches/{id}", r.requireGlobal(r.handleRemoveMatch))
	r.mux.HandleFunc("POST /api/matches/{id}/revive", r.requireGlobal(r.handleReviveMatch))

	// Game server operations
	r.mux.HandleFunc("GET /api/matches/{id}/server/round_backups", r.requireMatch(r.handleRoundBackups))
	r.mux.HandleFunc("POST /api/matches/{id}/server/round_backups", r.requireMatch(r.handleLoadRoundBackup))
	r.mux.HandleFunc("POST /api/matches/{id}/server/rcon", r.requireGlobal(r.handleRconCommand))

	// Telemetry gateway: authenticated by the per-match secret, never by tokens
	r.mux.HandleFunc("POST /api/matches/{id}/server/log/{secret}", r.handleLog)

	// Stats
	r.mux.HandleFunc("GET /api/matches/{id}/stats", r.requireMatch(r.handleGetMatchStats))
	r.mux.HandleFunc("GET /api/stats", r.requireGlobal(r.handleGetGlobalStats))
	r.mux.HandleFunc("GET /api/stats/{steamid}", r.requireGlobal(r.handleGetPlayerStats))

	// Auth and config
	r.mux.HandleFunc("GET /api/auth", r.handleAuthCheck)
	r.mux.HandleFunc("POST /api/auth/token", r.requireGlobal(r.handleIssueToken))
	r.mux.HandleFunc("GET /api/config", r.requireGlobal(r.handleGetConfig))
	r.mux.HandleFunc("PATCH /api/config", r.requireGlobal(r.handlePatchConfig))

	// WebSocket event feed
	r.mux.HandleFunc("GET /ws", r.handleWebSocket)

	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}

// StartWebSocketHub starts broadcasting events to WebSocket clients
func (r *Router) StartWebSocketHub() error {
	go r.wsHub.Run()
	if r.events == nil {
		return nil
	}
	_, err := r.events.SubscribeAll(r.wsHub.Broadcast)
	return err
}
