package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/skylinkc2/skylink/server/internal/opsauth"
)

// AuthHandler issues operator tokens. There is no user database and no
// refresh/OIDC flow — a single shared credential gates token issuance, and
// tokens are short-lived enough that operators simply log in again.
type AuthHandler struct {
	mgr    *opsauth.Manager
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(mgr *opsauth.Manager, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		mgr:    mgr,
		logger: logger.Named("auth_handler"),
	}
}

// loginRequest is the JSON body expected by POST /api/v1/auth/login.
type loginRequest struct {
	Credential string `json:"credential"`
}

// loginResponse is the JSON body returned on successful login.
type loginResponse struct {
	Token string `json:"token"`
}

// Login handles POST /api/v1/auth/login. Authenticates against the single
// configured operator credential and returns a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.mgr.CheckCredential(req.Credential); err != nil {
		if errors.Is(err, opsauth.ErrInvalidCredentials) {
			ErrUnauthorized(w)
			return
		}
		h.logger.Error("check credential failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	token, err := h.mgr.IssueToken()
	if err != nil {
		h.logger.Error("issue token failed", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, loginResponse{Token: token})
}
