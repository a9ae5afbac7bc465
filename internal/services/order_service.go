package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/meridian-goods/api/internal/commerce"
	domain "github.com/meridian-goods/api/internal/domain"
	"github.com/meridian-goods/api/internal/payments"
)

var (
	// ErrOrderInvalidInput indicates the order request is missing payment identifiers or customer fields.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderUnavailable indicates the commerce backend could not be reached.
	ErrOrderUnavailable = errors.New("order: unavailable")
	// ErrOrderCreateFailed indicates the checkout mutation was rejected.
	ErrOrderCreateFailed = errors.New("order: create failed")
)

// orderCommerceClient abstracts the commerce client calls order creation needs.
type orderCommerceClient interface {
	Checkout(ctx context.Context, sessionToken, authToken string, input commerce.CheckoutInput) (commerce.CheckoutResult, string, error)
	EmptyCart(ctx context.Context, sessionToken string) (string, error)
}

// orderIntentMetadata abstracts the Stripe calls used for order dedupe and write-back.
type orderIntentMetadata interface {
	LookupIntent(ctx context.Context, intentID string) (payments.PaymentDetails, error)
	UpdateIntentMetadata(ctx context.Context, intentID string, metadata map[string]string) error
}

// OrderCreationServiceDeps wires the dependencies required by the order creation service.
type OrderCreationServiceDeps struct {
	Commerce orderCommerceClient
	Stripe   orderIntentMetadata
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type orderCreationService struct {
	commerce orderCommerceClient
	stripe   orderIntentMetadata
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderCreationService constructs an OrderCreationService validating required dependencies.
func NewOrderCreationService(deps OrderCreationServiceDeps) (OrderCreationService, error) {
	if deps.Commerce == nil {
		return nil, errors.New("order creation service: commerce client is required")
	}
	if deps.Stripe == nil {
		return nil, errors.New("order creation service: stripe provider is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderCreationService{
		commerce: deps.Commerce,
		stripe:   deps.Stripe,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateOrder submits exactly one checkout mutation for a settled payment.
// When the intent's metadata already names an order the stored id is returned
// and no mutation runs.
func (s *orderCreationService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	if s == nil || s.commerce == nil {
		return CreateOrderResult{}, ErrOrderUnavailable
	}

	paymentID := strings.TrimSpace(cmd.PaymentID)
	transactionID := strings.TrimSpace(cmd.TransactionID)
	if paymentID == "" || transactionID == "" {
		return CreateOrderResult{}, fmt.Errorf("%w: payment id and transaction id are required", ErrOrderInvalidInput)
	}
	if cmd.Customer == nil {
		return CreateOrderResult{}, fmt.Errorf("%w: customer info is required", ErrOrderInvalidInput)
	}
	customer := *cmd.Customer
	if err := validateOrderCustomer(customer); err != nil {
		return CreateOrderResult{}, err
	}

	provider := cmd.Provider
	if provider == "" {
		provider = domain.ClassifyPaymentID(paymentID)
	}
	method := cmd.MethodType
	if method == "" {
		method = domain.PaymentMethodCard
		if provider == domain.ProviderPayPal {
			method = domain.PaymentMethodPayPal
		}
	}

	// Stripe intents remember the order they already produced; a replayed
	// request returns that order instead of creating a duplicate. The same
	// lookup reports the method the payment actually used, which wins over
	// whatever the caller claimed.
	if provider == domain.ProviderStripe {
		details, err := s.stripe.LookupIntent(ctx, paymentID)
		if err != nil {
			s.logger(ctx, "orders.create.intent_lookup_failed", map[string]any{
				"payment_id": paymentID,
				"error":      err.Error(),
			})
		} else {
			if existing := strings.TrimSpace(details.Metadata["order_id"]); existing != "" {
				s.logger(ctx, "orders.create.deduplicated", map[string]any{
					"payment_id": paymentID,
					"order_id":   existing,
				})
				return CreateOrderResult{OrderID: existing, Deduplicated: true, SessionToken: cmd.WooSession}, nil
			}
			if details.MethodType != "" && details.MethodType != method {
				s.logger(ctx, "orders.create.method_overridden", map[string]any{
					"payment_id": paymentID,
					"claimed":    string(method),
					"reported":   string(details.MethodType),
				})
				method = details.MethodType
			}
		}
	}

	metadata := map[string]string{"payment_method_type": string(method)}
	if cmd.PayPal != nil {
		if cmd.PayPal.CaptureID != "" {
			metadata["paypal_capture_id"] = cmd.PayPal.CaptureID
		}
		if cmd.PayPal.PayerID != "" {
			metadata["paypal_payer_id"] = cmd.PayPal.PayerID
		}
	}

	input := commerce.CheckoutInput{
		ClientMutationID: strings.TrimSpace(cmd.UniqueID),
		Customer:         customer,
		Gateway:          domain.GatewayForMethod(method),
		TransactionID:    transactionID,
		PaymentID:        paymentID,
		IsPaid:           true,
		Note:             customer.Note,
		Metadata:         metadata,
	}
	result, sessionToken, err := s.commerce.Checkout(ctx, cmd.WooSession, cmd.AuthToken, input)
	if err != nil {
		if errors.Is(err, commerce.ErrNoOrderID) {
			return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrOrderCreateFailed, err)
		}
		var gqlErr *commerce.GraphQLError
		if errors.As(err, &gqlErr) {
			return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrOrderCreateFailed, err)
		}
		return CreateOrderResult{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}
	if sessionToken == "" {
		sessionToken = cmd.WooSession
	}
	orderID := strconv.Itoa(result.OrderID)

	// Write-back and cart empty are both best effort. The order already
	// exists; losing either follow-up must not fail the request.
	if provider == domain.ProviderStripe {
		if err := s.stripe.UpdateIntentMetadata(ctx, paymentID, map[string]string{"order_id": orderID}); err != nil {
			s.logger(ctx, "orders.create.metadata_writeback_failed", map[string]any{
				"payment_id": paymentID,
				"order_id":   orderID,
				"error":      err.Error(),
			})
		}
	}
	if sessionToken != "" {
		if rotated, err := s.commerce.EmptyCart(ctx, sessionToken); err != nil {
			s.logger(ctx, "orders.create.cart_empty_failed", map[string]any{
				"order_id": orderID,
				"error":    err.Error(),
			})
		} else if rotated != "" {
			sessionToken = rotated
		}
	}

	s.logger(ctx, "orders.created", map[string]any{
		"order_id":       orderID,
		"transaction_id": transactionID,
		"payment_id":     paymentID,
		"provider":       string(provider),
		"gateway":        input.Gateway,
	})
	return CreateOrderResult{OrderID: orderID, SessionToken: sessionToken}, nil
}

func validateOrderCustomer(customer domain.CustomerInfo) error {
	missing := make([]string, 0, 5)
	if strings.TrimSpace(customer.FirstName) == "" && strings.TrimSpace(customer.LastName) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(customer.Email) == "" {
		missing = append(missing, "email")
	}
	if strings.TrimSpace(customer.Shipping.Line1) == "" {
		missing = append(missing, "shipping.address1")
	}
	if strings.TrimSpace(customer.Shipping.City) == "" {
		missing = append(missing, "shipping.city")
	}
	if strings.TrimSpace(customer.Shipping.Postcode) == "" {
		missing = append(missing, "shipping.postcode")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrOrderInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}
