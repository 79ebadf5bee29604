package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/server/internal/dispatcher"
	"github.com/skylinkc2/skylink/server/internal/opsauth"
	"github.com/skylinkc2/skylink/server/internal/opsfeed"
	"github.com/skylinkc2/skylink/server/internal/sessionmgr"
)

func newTestRouter(t *testing.T) (http.Handler, *opsauth.Manager) {
	t.Helper()
	logger := zap.NewNop()
	sessions := sessionmgr.New(logger)
	disp := dispatcher.New(sessions, logger)
	auth, err := opsauth.NewGenerated("skylink-server", "s3cret")
	if err != nil {
		t.Fatalf("NewGenerated: %v", err)
	}
	feed := opsfeed.NewHub()

	return NewRouter(RouterConfig{
		Sessions:   sessions,
		Dispatcher: disp,
		Auth:       auth,
		Feed:       feed,
		Logger:     logger,
	}), auth
}

func TestFleetRouteRequiresAuthentication(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/fleet", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestFleetRouteAcceptsValidBearerToken(t *testing.T) {
	router, auth := newTestRouter(t)
	token, err := auth.IssueToken()
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/fleet", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestLoginRouteIsPublic(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"credential":"s3cret"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestMetricsRouteIsServed(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
