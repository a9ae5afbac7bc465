package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/meridian-goods/api/internal/commerce"
	domain "github.com/meridian-goods/api/internal/domain"
)

var (
	// ErrSessionInvalidInput indicates missing or malformed credentials.
	ErrSessionInvalidInput = errors.New("session: invalid input")
	// ErrSessionAuthFailed indicates the commerce backend rejected the credentials.
	ErrSessionAuthFailed = errors.New("session: authentication failed")
	// ErrSessionUnavailable indicates the commerce backend could not be reached.
	ErrSessionUnavailable = errors.New("session: unavailable")
)

// sessionCommerceClient abstracts the commerce client's customer surface for testing.
type sessionCommerceClient interface {
	Login(ctx context.Context, sessionToken, username, password string) (commerce.Session, error)
	Register(ctx context.Context, sessionToken string, customer domain.CustomerInfo, password string) (commerce.Session, error)
	CurrentCustomer(ctx context.Context, sessionToken, authToken string) (commerce.Customer, string, error)
}

// SessionServiceDeps wires the dependencies required by the session service.
type SessionServiceDeps struct {
	Commerce sessionCommerceClient
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type sessionService struct {
	commerce sessionCommerceClient
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewSessionService constructs a SessionService validating required dependencies.
func NewSessionService(deps SessionServiceDeps) (SessionService, error) {
	if deps.Commerce == nil {
		return nil, errors.New("session service: commerce client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &sessionService{commerce: deps.Commerce, logger: logger}, nil
}

func (s *sessionService) Login(ctx context.Context, sessionToken, username, password string) (SessionResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return SessionResult{}, fmt.Errorf("%w: username and password are required", ErrSessionInvalidInput)
	}
	session, err := s.commerce.Login(ctx, sessionToken, username, password)
	if err != nil {
		return SessionResult{}, s.translate(ctx, "session.login", err)
	}
	s.logger(ctx, "session.login.succeeded", map[string]any{"customer_id": session.Customer.DatabaseID})
	return sessionResultFrom(session), nil
}

func (s *sessionService) Register(ctx context.Context, sessionToken string, customer domain.CustomerInfo, password string) (SessionResult, error) {
	if strings.TrimSpace(customer.Email) == "" || password == "" {
		return SessionResult{}, fmt.Errorf("%w: email and password are required", ErrSessionInvalidInput)
	}
	session, err := s.commerce.Register(ctx, sessionToken, customer, password)
	if err != nil {
		return SessionResult{}, s.translate(ctx, "session.register", err)
	}
	s.logger(ctx, "session.register.succeeded", map[string]any{"customer_id": session.Customer.DatabaseID})
	return sessionResultFrom(session), nil
}

func (s *sessionService) CurrentSession(ctx context.Context, sessionToken, authToken string) (SessionResult, error) {
	customer, rotated, err := s.commerce.CurrentCustomer(ctx, sessionToken, authToken)
	if err != nil {
		return SessionResult{}, s.translate(ctx, "session.current", err)
	}
	if rotated == "" {
		rotated = sessionToken
	}
	return SessionResult{
		AuthToken:    authToken,
		SessionToken: rotated,
		CustomerID:   customer.DatabaseID,
		Email:        customer.Email,
		FirstName:    customer.FirstName,
		LastName:     customer.LastName,
	}, nil
}

func (s *sessionService) translate(ctx context.Context, event string, err error) error {
	var gqlErr *commerce.GraphQLError
	if errors.As(err, &gqlErr) {
		s.logger(ctx, event+".rejected", map[string]any{"error": err.Error()})
		return fmt.Errorf("%w: %v", ErrSessionAuthFailed, err)
	}
	s.logger(ctx, event+".failed", map[string]any{"error": err.Error()})
	return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
}

func sessionResultFrom(session commerce.Session) SessionResult {
	return SessionResult{
		AuthToken:    session.AuthToken,
		RefreshToken: session.RefreshToken,
		SessionToken: session.SessionToken,
		CustomerID:   session.Customer.DatabaseID,
		Email:        session.Customer.Email,
		FirstName:    session.Customer.FirstName,
		LastName:     session.Customer.LastName,
	}
}
