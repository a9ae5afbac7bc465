package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/meridian-goods/api/internal/platform/requestctx"
)

const testSecret = "unit-test-secret"

func mintToken(t *testing.T, customerID, issuer string, expiresAt time.Time) string {
	t.Helper()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	claims.Data.CustomerID = customerID
	claims.Data.Email = "shopper@example.com"

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func newTestAuthenticator(t *testing.T, issuer string) *Authenticator {
	t.Helper()
	verifier, err := NewSessionVerifier(testSecret, issuer)
	if err != nil {
		t.Fatalf("NewSessionVerifier: %v", err)
	}
	return NewAuthenticator(verifier)
}

func TestRequireCustomerAuth_MissingHeader(t *testing.T) {
	authenticator := newTestAuthenticator(t, "")

	called := false
	handler := authenticator.RequireCustomerAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/me/orders", nil))

	if called {
		t.Fatal("handler should not run without authorization header")
	}
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireCustomerAuth_ValidToken(t *testing.T) {
	authenticator := newTestAuthenticator(t, "https://shop.example.com")
	token := mintToken(t, "cus_1234", "https://shop.example.com", time.Now().Add(time.Hour))

	var got *Identity
	handler := authenticator.RequireCustomerAuth()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/me/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got == nil || got.CustomerID != "cus_1234" {
		t.Fatalf("unexpected identity %+v", got)
	}
	if got.IsGuest() {
		t.Fatal("authenticated customer should not be a guest")
	}
}

func TestRequireCustomerAuth_ExpiredToken(t *testing.T) {
	authenticator := newTestAuthenticator(t, "")
	token := mintToken(t, "cus_1234", "", time.Now().Add(-time.Hour))

	handler := authenticator.RequireCustomerAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run with an expired token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/me/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireCustomerAuth_WrongIssuer(t *testing.T) {
	authenticator := newTestAuthenticator(t, "https://shop.example.com")
	token := mintToken(t, "cus_1234", "https://other.example.com", time.Now().Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/me/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	authenticator.RequireCustomerAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run for a foreign issuer")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestWithStorefrontSession(t *testing.T) {
	authenticator := newTestAuthenticator(t, "")

	var got string
	handler := authenticator.WithStorefrontSession()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = requestctx.SessionToken(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/checkout/session", nil)
	req.Header.Set(SessionHeader, "Session abc.def.ghi")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got != "abc.def.ghi" {
		t.Fatalf("expected session token to be threaded, got %q", got)
	}

	got = "sentinel"
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/checkout/session", nil))
	if got != "" {
		t.Fatalf("guest request should carry no session token, got %q", got)
	}
}
