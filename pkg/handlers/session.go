package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/chemforge-inc/chemforge-engine/pkg/auth"
	"github.com/chemforge-inc/chemforge-engine/pkg/identity"
	"github.com/chemforge-inc/chemforge-engine/pkg/services"
)

// SignInRequest is the body of POST /api/session.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse carries the access token. The refresh token stays in the
// session cookie.
type SessionResponse struct {
	AccessToken string        `json:"accessToken"`
	TokenType   string        `json:"tokenType"`
	ExpiresIn   int           `json:"expiresIn"`
	User        identity.User `json:"user"`
}

// SessionHandler proxies sign-in to the identity provider.
type SessionHandler struct {
	sessionService services.SessionService
	store          *auth.SessionStore
	logger         *zap.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessionService services.SessionService, store *auth.SessionStore, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{sessionService: sessionService, store: store, logger: logger}
}

// RegisterRoutes registers the session handler's routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/session", h.SignIn)
	mux.HandleFunc("POST /api/session/refresh", h.Refresh)
	mux.HandleFunc("DELETE /api/session", h.SignOut)
}

// SignIn handles POST /api/session
func (h *SessionHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if !decodeJSONBody(w, r, &req, h.logger) {
		return
	}

	session, err := h.sessionService.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to sign in")
		return
	}
	h.respond(w, r, session)
}

// Refresh handles POST /api/session/refresh
// Uses the refresh token from the session cookie.
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, err := h.store.RefreshToken(r)
	if err != nil {
		if !errors.Is(err, auth.ErrNoRefreshToken) {
			h.logger.Debug("Unreadable session cookie", zap.Error(err))
		}
		if err := ErrorResponse(w, http.StatusUnauthorized, "No active session", ""); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	session, err := h.sessionService.Refresh(r.Context(), token)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to refresh session")
		return
	}
	h.respond(w, r, session)
}

// SignOut handles DELETE /api/session
func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(w, r); err != nil {
		h.logger.Warn("Failed to clear session cookie", zap.Error(err))
	}
	if err := SuccessResponse(w, http.StatusOK, map[string]bool{"signedOut": true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *SessionHandler) respond(w http.ResponseWriter, r *http.Request, session *identity.Session) {
	if err := h.store.SaveRefreshToken(w, r, session.RefreshToken); err != nil {
		h.logger.Error("Failed to save session cookie", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "Failed to save session", ""); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := SessionResponse{
		AccessToken: session.AccessToken,
		TokenType:   session.TokenType,
		ExpiresIn:   session.ExpiresIn,
		User:        session.User,
	}
	if err := SuccessResponse(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
