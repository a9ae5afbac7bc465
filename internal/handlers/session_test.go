package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/meridian-goods/api/internal/domain"
	"github.com/meridian-goods/api/internal/platform/auth"
	"github.com/meridian-goods/api/internal/services"
)

type stubSessionService struct {
	loginFunc    func(ctx context.Context, sessionToken, username, password string) (services.SessionResult, error)
	registerFunc func(ctx context.Context, sessionToken string, customer domain.CustomerInfo, password string) (services.SessionResult, error)
	currentFunc  func(ctx context.Context, sessionToken, authToken string) (services.SessionResult, error)
}

func (s *stubSessionService) Login(ctx context.Context, sessionToken, username, password string) (services.SessionResult, error) {
	return s.loginFunc(ctx, sessionToken, username, password)
}

func (s *stubSessionService) Register(ctx context.Context, sessionToken string, customer domain.CustomerInfo, password string) (services.SessionResult, error) {
	return s.registerFunc(ctx, sessionToken, customer, password)
}

func (s *stubSessionService) CurrentSession(ctx context.Context, sessionToken, authToken string) (services.SessionResult, error) {
	return s.currentFunc(ctx, sessionToken, authToken)
}

func newSessionRouter(t *testing.T, sessions services.SessionService) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/session", NewSessionHandlers(testAuthenticator(t), sessions).Routes)
	return r
}

func TestLoginReturnsTokens(t *testing.T) {
	router := newSessionRouter(t, &stubSessionService{
		loginFunc: func(_ context.Context, sessionToken, username, password string) (services.SessionResult, error) {
			if username != "ava@example.com" || password != "hunter2" {
				t.Fatalf("unexpected credentials %q %q", username, password)
			}
			return services.SessionResult{
				AuthToken:    "auth-1",
				RefreshToken: "refresh-1",
				SessionToken: "sess-fresh",
				CustomerID:   314,
				Email:        "ava@example.com",
				FirstName:    "Ava",
				LastName:     "Nguyen",
			}, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/session/login", strings.NewReader(`{"username":"ava@example.com","password":"hunter2"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get(auth.SessionHeader); got != "Session sess-fresh" {
		t.Fatalf("expected session header, got %q", got)
	}

	var body sessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if body.AuthToken != "auth-1" || body.RefreshToken != "refresh-1" || body.CustomerID != 314 {
		t.Fatalf("unexpected response %#v", body)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	router := newSessionRouter(t, &stubSessionService{
		loginFunc: func(context.Context, string, string, string) (services.SessionResult, error) {
			return services.SessionResult{}, services.ErrSessionAuthFailed
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/session/login", strings.NewReader(`{"username":"ava@example.com","password":"wrong"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRegisterForwardsCustomer(t *testing.T) {
	router := newSessionRouter(t, &stubSessionService{
		registerFunc: func(_ context.Context, _ string, customer domain.CustomerInfo, password string) (services.SessionResult, error) {
			if customer.Email != "ava@example.com" || password != "hunter2" {
				t.Fatalf("unexpected registration %#v %q", customer, password)
			}
			return services.SessionResult{AuthToken: "auth-1", CustomerID: 512}, nil
		},
	})

	payload := `{"customer":{"firstName":"Ava","lastName":"Nguyen","email":"ava@example.com"},"password":"hunter2"}`
	req := httptest.NewRequest(http.MethodPost, "/session/register", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCurrentSessionRequiresAuth(t *testing.T) {
	router := newSessionRouter(t, &stubSessionService{
		currentFunc: func(context.Context, string, string) (services.SessionResult, error) {
			t.Fatal("service must not be called without auth")
			return services.SessionResult{}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/session/me", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCurrentSessionForwardsBearerToken(t *testing.T) {
	bearer := signCustomerToken(t, "314")

	router := newSessionRouter(t, &stubSessionService{
		currentFunc: func(_ context.Context, _, authToken string) (services.SessionResult, error) {
			if authToken != bearer {
				t.Fatal("expected bearer token forwarded as auth token")
			}
			return services.SessionResult{CustomerID: 314, Email: "ava@example.com"}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/session/me", nil)
	req.Header.Set("Authorization", "Bearer "+bearer)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestLogoutReturnsNoContent(t *testing.T) {
	router := newSessionRouter(t, &stubSessionService{})

	req := httptest.NewRequest(http.MethodPost, "/session/logout", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", rr.Body.String())
	}
}
