package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/server/internal/dispatcher"
	"github.com/skylinkc2/skylink/server/internal/opsauth"
	"github.com/skylinkc2/skylink/server/internal/opsfeed"
	"github.com/skylinkc2/skylink/server/internal/roster"
	"github.com/skylinkc2/skylink/server/internal/sessionmgr"
)

// RouterConfig holds all dependencies needed to build the HTTP router.
// It is populated in main.go after all components are initialized and
// passed to NewRouter as a single struct to keep the constructor signature
// manageable as the number of dependencies grows.
type RouterConfig struct {
	Sessions   *sessionmgr.Manager
	Dispatcher *dispatcher.Dispatcher
	Auth       *opsauth.Manager
	Feed       *opsfeed.Hub
	Roster     *roster.Registry // optional; nil disables roster-only entries in the fleet listing
	Logger     *zap.Logger
}

// NewRouter builds and returns the fully configured Chi router. All fleet
// and auth routes and the websocket feed are registered under /api/v1;
// /metrics sits at the root.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	// --- Initialize handlers ---
	authHandler := NewAuthHandler(cfg.Auth, cfg.Logger)
	fleetHandler := NewFleetHandler(cfg.Sessions, cfg.Dispatcher, cfg.Logger)
	if cfg.Roster != nil {
		fleetHandler.SetRoster(cfg.Roster)
	}
	wsHandler := NewWSHandler(cfg.Feed, cfg.Auth, cfg.Logger)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// --- Public routes ---
		r.Group(func(r chi.Router) {
			r.Post("/auth/login", authHandler.Login)
			r.Get("/ws", wsHandler.ServeWS) // token is validated from the query param
		})

		// --- Authenticated routes ---
		r.Group(func(r chi.Router) {
			r.Use(Authenticate(cfg.Auth))

			r.Get("/fleet", fleetHandler.List)
			r.Post("/fleet/broadcast", fleetHandler.Broadcast)
			r.Get("/fleet/{device_id}/commands", fleetHandler.ListCommands)
			r.Post("/fleet/{device_id}/commands", fleetHandler.SendCommand)
		})
	})

	return r
}
