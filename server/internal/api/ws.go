package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/server/internal/opsauth"
	"github.com/skylinkc2/skylink/server/internal/opsfeed"
)

// WSHandler handles the WebSocket upgrade endpoint GET /api/v1/ws, the
// operator dashboard's live fleet event feed.
//
// Authentication uses a JWT passed as the `token` query parameter instead of
// the Authorization header — browsers cannot set custom headers on
// WebSocket connections opened via the native WebSocket API.
//
// Topic subscription is declared at connection time via the `topics` query
// parameter. "fleet" is always added automatically; it carries dead-session
// disconnect events, while state changes go only to each device:<id> topic.
//
// Example connection URL:
//
//	ws://host/api/v1/ws?token=<jwt>&topics=device:drone-1
type WSHandler struct {
	hub    *opsfeed.Hub
	auth   *opsauth.Manager
	logger *zap.Logger
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *opsfeed.Hub, auth *opsauth.Manager, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub:    hub,
		auth:   auth,
		logger: logger.Named("ws_handler"),
	}
}

// ServeWS handles GET /api/v1/ws. It authenticates the request, builds the
// topic list, upgrades the connection, and runs the client's pumps. The
// handler blocks until the connection closes.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		ErrUnauthorized(w)
		return
	}

	if _, err := h.auth.ValidateToken(tokenStr); err != nil {
		ErrUnauthorized(w)
		return
	}

	topics := h.resolveTopics(r)

	client, err := opsfeed.NewClient(h.hub, w, r, topics, h.logger)
	if err != nil {
		h.logger.Warn("opsfeed: upgrade failed", zap.Error(err))
		return
	}

	h.logger.Info("opsfeed: client connected", zap.String("remote_addr", r.RemoteAddr), zap.Strings("topics", topics))
	client.Run()
	h.logger.Info("opsfeed: client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

// resolveTopics builds the final topic list for a client connection: the
// always-on "fleet" overview topic plus any explicit device:<id> topics
// requested via the `topics` query parameter.
func (h *WSHandler) resolveTopics(r *http.Request) []string {
	seen := make(map[string]struct{})
	topics := []string{}

	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" {
			return
		}
		if _, exists := seen[t]; !exists {
			seen[t] = struct{}{}
			topics = append(topics, t)
		}
	}

	add("fleet")
	if raw := r.URL.Query().Get("topics"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			add(t)
		}
	}
	return topics
}
