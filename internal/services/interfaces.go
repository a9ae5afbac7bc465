// Package services holds the application services bridging HTTP handlers with
// the commerce backend, the payment providers and the pending-checkout store.
package services

import (
	"context"
	"time"

	domain "github.com/meridian-goods/api/internal/domain"
)

// CheckoutService owns checkout initiation: validating the cart and shopper,
// minting the transaction id, persisting the pending record and creating the
// provider-side payment object.
type CheckoutService interface {
	InitiateCheckout(ctx context.Context, cmd InitiateCheckoutCommand) (domain.CheckoutInitiation, error)
}

// InitiateCheckoutCommand is the checkout submission payload.
type InitiateCheckoutCommand struct {
	SessionToken string
	Method       domain.PaymentMethodType
	Customer     domain.CustomerInfo
}

// ReconciliationService converts a provider return into an order exactly once.
type ReconciliationService interface {
	Reconcile(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error)
}

// ReconcileCommand carries the return-URL parameters. Field names map onto the
// query parameter contract: payment_intent, payment_method, redirect_status,
// transaction_id, unique_id, woo_session, and PayPal's token / PayerID.
type ReconcileCommand struct {
	PaymentIntentID string
	PaymentMethod   string
	RedirectStatus  string
	TransactionID   string
	UniqueID        string
	WooSession      string
	PayPalToken     string
	PayerID         string
}

// ReconcileResult reports the outcome of a reconciliation attempt.
type ReconcileResult struct {
	OrderID     string
	RedirectURL string
	// Processing marks BNPL rails that settle asynchronously; the order exists
	// but payment confirmation may still be in flight.
	Processing bool
	// Replayed is set when a completed processed marker short-circuited the
	// attempt and the stored outcome was returned.
	Replayed bool
}

// OrderCreationService submits the single order-creating mutation.
type OrderCreationService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
}

// CreateOrderCommand mirrors the order-creation request contract.
type CreateOrderCommand struct {
	PaymentID     string
	TransactionID string
	UniqueID      string
	WooSession    string
	AuthToken     string
	MethodType    domain.PaymentMethodType
	Provider      domain.PaymentProvider
	PayPal        *domain.PayPalDetails
	Customer      *domain.CustomerInfo
}

// CreateOrderResult reports the created (or deduplicated) order.
type CreateOrderResult struct {
	OrderID string
	// Deduplicated is set when the intent's metadata already carried an
	// order id and no new mutation was submitted.
	Deduplicated bool
	SessionToken string
}

// CartView pairs a cart snapshot with the session token valid after the call.
type CartView struct {
	Cart         domain.Cart
	SessionToken string
}

// CartService proxies session-scoped cart reads and mutations.
type CartService interface {
	GetCart(ctx context.Context, sessionToken string) (CartView, error)
	AddItem(ctx context.Context, sessionToken string, productID, quantity int) (CartView, error)
	UpdateQuantities(ctx context.Context, sessionToken string, quantities map[string]int) (CartView, error)
	RemoveItems(ctx context.Context, sessionToken string, keys []string) (CartView, error)
	ApplyCoupon(ctx context.Context, sessionToken, code string) (CartView, error)
	RemoveCoupons(ctx context.Context, sessionToken string, codes []string) (CartView, error)
}

// SessionResult is the outcome of an auth-changing session call.
type SessionResult struct {
	AuthToken    string
	RefreshToken string
	SessionToken string
	CustomerID   int
	Email        string
	FirstName    string
	LastName     string
}

// SessionService wraps customer login, registration and profile fetch.
type SessionService interface {
	Login(ctx context.Context, sessionToken, username, password string) (SessionResult, error)
	Register(ctx context.Context, sessionToken string, customer domain.CustomerInfo, password string) (SessionResult, error)
	CurrentSession(ctx context.Context, sessionToken, authToken string) (SessionResult, error)
}

// OrderQueryService exposes read-only order views independent of payment mechanics.
type OrderQueryService interface {
	ListOrders(ctx context.Context, sessionToken, authToken string) ([]domain.Order, error)
	GetOrder(ctx context.Context, sessionToken, authToken string, orderID int) (domain.Order, error)
	GetTracking(ctx context.Context, sessionToken, authToken string, orderID int) ([]domain.TrackingEvent, error)
}

// PendingSweeper expires abandoned pending-checkout records.
type PendingSweeper interface {
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// SystemService aggregates utility endpoints (health checks, build metadata).
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderEventMessage is the payload published after an order is created.
type OrderEventMessage struct {
	EventType     string    `json:"eventType"`
	OrderID       string    `json:"orderId"`
	TransactionID string    `json:"transactionId"`
	PaymentID     string    `json:"paymentId"`
	Provider      string    `json:"provider"`
	Gateway       string    `json:"gateway"`
	Method        string    `json:"method"`
	AmountMinor   int64     `json:"amountMinor,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
}
