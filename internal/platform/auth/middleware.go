package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/meridian-goods/api/internal/platform/requestctx"
)

// SessionHeader carries the commerce session token between the storefront and
// this API. The value may be prefixed with "Session " by the storefront client.
const SessionHeader = "woocommerce-session"

// Authenticator wires session token verification into HTTP middleware.
type Authenticator struct {
	verifier *SessionVerifier
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(verifier *SessionVerifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

// WithStorefrontSession extracts the session token header and stores it on the
// request context. Guests carry no token; the request proceeds either way.
func (a *Authenticator) WithStorefrontSession() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractSessionToken(r.Header.Get(SessionHeader))
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithSessionToken(r.Context(), token)))
		})
	}
}

// RequireCustomerAuth verifies the Authorization bearer token and attaches the
// customer identity. Requests without a valid token are rejected.
func (a *Authenticator) RequireCustomerAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			claims, err := a.verifier.Verify(tokenStr)
			if err != nil {
				respondVerificationError(w, err)
				return
			}

			identity := &Identity{
				CustomerID:   strings.TrimSpace(claims.Data.CustomerID),
				Email:        strings.TrimSpace(claims.Data.Email),
				SessionToken: tokenStr,
			}
			if identity.IsGuest() {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "token carries no customer id")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// ExtractSessionToken strips the optional "Session " prefix from the header value.
func ExtractSessionToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(header, "Session "); ok {
		return strings.TrimSpace(rest)
	}
	return header
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}

	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   code,
		"message": message,
		"status":  status,
	})
}

func respondVerificationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		respondAuthError(w, http.StatusUnauthorized, "token_expired", "session token expired")
	default:
		respondAuthError(w, http.StatusUnauthorized, "invalid_token", "session token invalid")
	}
}
