package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/server/internal/opsauth"
)

// contextKey is an unexported type for context keys defined in this package.
// Using a custom type prevents collisions with keys defined in other packages.
type contextKey int

const (
	// contextKeyClaims is the context key under which the validated
	// *opsauth.Claims are stored after successful token validation.
	contextKeyClaims contextKey = iota
)

// Authenticate is a middleware that validates the JWT Bearer token present in
// the Authorization header against a single operator credential. On success
// it stores the parsed claims in the request context. On failure it writes a
// 401 and stops the chain.
//
// Token format: "Authorization: Bearer <token>"
func Authenticate(mgr *opsauth.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				ErrUnauthorized(w)
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				ErrUnauthorized(w)
				return
			}

			claims, err := mgr.ValidateToken(parts[1])
			if err != nil {
				ErrUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger returns a Chi-compatible middleware that logs each request
// using the provided zap logger. It logs method, path, status, bytes written,
// request ID, and remote address.
// Chi's middleware.RequestID is expected to run before this middleware so
// that the request ID is available in the context.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// claimsFromCtx retrieves the claims stored by the Authenticate middleware.
// Returns nil if no claims are present (i.e. the request is unauthenticated).
func claimsFromCtx(ctx context.Context) *opsauth.Claims {
	claims, _ := ctx.Value(contextKeyClaims).(*opsauth.Claims)
	return claims
}
