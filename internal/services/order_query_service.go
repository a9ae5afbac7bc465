package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridian-goods/api/internal/commerce"
	domain "github.com/meridian-goods/api/internal/domain"
)

var (
	// ErrOrderQueryInvalidInput indicates a malformed order lookup.
	ErrOrderQueryInvalidInput = errors.New("order query: invalid input")
	// ErrOrderQueryNotFound indicates the order does not exist or is not visible to the customer.
	ErrOrderQueryNotFound = errors.New("order query: not found")
	// ErrOrderQueryUnavailable indicates the commerce backend could not be reached.
	ErrOrderQueryUnavailable = errors.New("order query: unavailable")
)

// orderQueryCommerceClient abstracts the commerce client's order reads for testing.
type orderQueryCommerceClient interface {
	Orders(ctx context.Context, sessionToken, authToken string) ([]domain.Order, string, error)
	Order(ctx context.Context, sessionToken, authToken string, orderID int) (domain.Order, string, error)
}

// OrderQueryServiceDeps wires the dependencies required by the order query service.
type OrderQueryServiceDeps struct {
	Commerce orderQueryCommerceClient
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type orderQueryService struct {
	commerce orderQueryCommerceClient
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderQueryService constructs an OrderQueryService validating required dependencies.
func NewOrderQueryService(deps OrderQueryServiceDeps) (OrderQueryService, error) {
	if deps.Commerce == nil {
		return nil, errors.New("order query service: commerce client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderQueryService{commerce: deps.Commerce, logger: logger}, nil
}

func (s *orderQueryService) ListOrders(ctx context.Context, sessionToken, authToken string) ([]domain.Order, error) {
	orders, _, err := s.commerce.Orders(ctx, sessionToken, authToken)
	if err != nil {
		return nil, s.translate(ctx, "orders.list", err)
	}
	return orders, nil
}

func (s *orderQueryService) GetOrder(ctx context.Context, sessionToken, authToken string, orderID int) (domain.Order, error) {
	if orderID <= 0 {
		return domain.Order{}, fmt.Errorf("%w: order id must be positive", ErrOrderQueryInvalidInput)
	}
	order, _, err := s.commerce.Order(ctx, sessionToken, authToken, orderID)
	if err != nil {
		return domain.Order{}, s.translate(ctx, "orders.get", err)
	}
	return order, nil
}

func (s *orderQueryService) GetTracking(ctx context.Context, sessionToken, authToken string, orderID int) ([]domain.TrackingEvent, error) {
	order, err := s.GetOrder(ctx, sessionToken, authToken, orderID)
	if err != nil {
		return nil, err
	}
	return order.Tracking, nil
}

func (s *orderQueryService) translate(ctx context.Context, event string, err error) error {
	var gqlErr *commerce.GraphQLError
	if errors.As(err, &gqlErr) {
		s.logger(ctx, event+".not_found", map[string]any{"error": err.Error()})
		return fmt.Errorf("%w: %v", ErrOrderQueryNotFound, err)
	}
	s.logger(ctx, event+".failed", map[string]any{"error": err.Error()})
	return fmt.Errorf("%w: %v", ErrOrderQueryUnavailable, err)
}
