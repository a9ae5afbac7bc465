package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/meridian-goods/api/internal/domain"
	"github.com/meridian-goods/api/internal/platform/auth"
	"github.com/meridian-goods/api/internal/platform/httpx"
	"github.com/meridian-goods/api/internal/platform/requestctx"
	"github.com/meridian-goods/api/internal/services"
)

const maxSessionBodySize = 16 * 1024

// SessionHandlers exposes customer login, registration and profile endpoints.
type SessionHandlers struct {
	authn    *auth.Authenticator
	sessions services.SessionService
}

// NewSessionHandlers constructs the customer session handlers.
func NewSessionHandlers(authn *auth.Authenticator, sessions services.SessionService) *SessionHandlers {
	return &SessionHandlers{
		authn:    authn,
		sessions: sessions,
	}
}

// Routes wires the /session endpoints onto the provided router.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.WithStorefrontSession())
	}
	r.Post("/login", h.login)
	r.Post("/register", h.register)
	r.Post("/logout", h.logout)
	if h.authn != nil {
		r.With(h.authn.RequireCustomerAuth()).Get("/me", h.currentSession)
	} else {
		r.Get("/me", h.currentSession)
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Customer domain.CustomerInfo `json:"customer"`
	Password string              `json:"password"`
}

type sessionResponse struct {
	AuthToken    string `json:"authToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	CustomerID   int    `json:"customerId,omitempty"`
	Email        string `json:"email,omitempty"`
	FirstName    string `json:"firstName,omitempty"`
	LastName     string `json:"lastName,omitempty"`
}

func (h *SessionHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxSessionBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	var req loginRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	result, err := h.sessions.Login(ctx, requestctx.SessionToken(ctx), req.Username, req.Password)
	if err != nil {
		writeSessionError(ctx, w, err)
		return
	}
	writeSessionResult(w, result)
}

func (h *SessionHandlers) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxSessionBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	var req registerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	result, err := h.sessions.Register(ctx, requestctx.SessionToken(ctx), req.Customer, req.Password)
	if err != nil {
		writeSessionError(ctx, w, err)
		return
	}
	writeSessionResult(w, result)
}

// logout acknowledges the end of a customer session. Auth tokens are stateless
// and session tokens live with the storefront, so there is nothing to revoke
// server-side; clients discard their copies on receipt of the 204.
func (h *SessionHandlers) logout(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandlers) currentSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authToken := ""
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		authToken = identity.SessionToken
	}
	result, err := h.sessions.CurrentSession(ctx, requestctx.SessionToken(ctx), authToken)
	if err != nil {
		writeSessionError(ctx, w, err)
		return
	}
	writeSessionResult(w, result)
}

func writeSessionResult(w http.ResponseWriter, result services.SessionResult) {
	if result.SessionToken != "" {
		w.Header().Set(auth.SessionHeader, "Session "+result.SessionToken)
	}
	writeJSONResponse(w, http.StatusOK, sessionResponse{
		AuthToken:    result.AuthToken,
		RefreshToken: result.RefreshToken,
		CustomerID:   result.CustomerID,
		Email:        result.Email,
		FirstName:    result.FirstName,
		LastName:     result.LastName,
	})
}

func writeSessionError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSessionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrSessionAuthFailed):
		httpx.WriteError(ctx, w, httpx.NewError("authentication_failed", "the supplied credentials were rejected", http.StatusUnauthorized))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "session backend is unavailable", http.StatusBadGateway))
	}
}
