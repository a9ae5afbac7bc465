package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	domain "github.com/meridian-goods/api/internal/domain"
	"github.com/meridian-goods/api/internal/payments"
	"github.com/meridian-goods/api/internal/platform/httpx"
	"github.com/meridian-goods/api/internal/platform/idempotency"
	"github.com/meridian-goods/api/internal/repositories"
)

var (
	// ErrReconcileInvalidInput indicates the return parameters do not describe any known flow.
	ErrReconcileInvalidInput = errors.New("reconcile: invalid input")
	// ErrReconcileNotFound indicates no pending checkout matches the correlation id.
	ErrReconcileNotFound = errors.New("reconcile: pending checkout not found")
	// ErrReconcileInFlight indicates another request holds the processed marker for this payment.
	ErrReconcileInFlight = errors.New("reconcile: already in flight")
	// ErrReconcileUnavailable indicates a dependency is currently unavailable.
	ErrReconcileUnavailable = errors.New("reconcile: unavailable")
)

// PaymentRejectedError reports a payment the provider did not settle. The code
// and message feed the storefront's `/checkout?error=&message=` redirect.
type PaymentRejectedError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *PaymentRejectedError) Error() string {
	return fmt.Sprintf("reconcile: payment rejected (%s): %s", e.Code, e.Message)
}

// processedMarkers abstracts idempotency.Markers for testing.
type processedMarkers interface {
	Begin(ctx context.Context, paymentID, correlationID string) (idempotency.MarkerState, idempotency.MarkerOutcome, error)
	Complete(ctx context.Context, paymentID, correlationID string, outcome idempotency.MarkerOutcome) error
	Abort(ctx context.Context, paymentID, correlationID string) error
}

// stripeIntentReader abstracts payments.StripeProvider lookups.
type stripeIntentReader interface {
	LookupIntent(ctx context.Context, intentID string) (payments.PaymentDetails, error)
}

// paypalCapturer abstracts payments.PayPalProvider captures.
type paypalCapturer interface {
	CaptureOrder(ctx context.Context, orderID string) (domain.PayPalDetails, error)
}

// ReconciliationServiceDeps wires the dependencies required by the reconciliation service.
type ReconciliationServiceDeps struct {
	Pending      repositories.PendingCheckoutRepository
	Markers      processedMarkers
	Stripe       stripeIntentReader
	PayPal       paypalCapturer
	Orders       OrderCreationService
	Events       OrderEventPublisher
	StoreBaseURL string
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type reconciliationService struct {
	pending      repositories.PendingCheckoutRepository
	markers      processedMarkers
	stripe       stripeIntentReader
	paypal       paypalCapturer
	orders       OrderCreationService
	events       OrderEventPublisher
	storeBaseURL string
	now          func() time.Time
	logger       func(ctx context.Context, event string, fields map[string]any)
}

// NewReconciliationService constructs a ReconciliationService validating required dependencies.
func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	if deps.Pending == nil {
		return nil, errors.New("reconciliation service: pending checkout repository is required")
	}
	if deps.Markers == nil {
		return nil, errors.New("reconciliation service: processed markers are required")
	}
	if deps.Stripe == nil {
		return nil, errors.New("reconciliation service: stripe provider is required")
	}
	if deps.PayPal == nil {
		return nil, errors.New("reconciliation service: paypal provider is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("reconciliation service: order creation service is required")
	}
	if strings.TrimSpace(deps.StoreBaseURL) == "" {
		return nil, errors.New("reconciliation service: store base url is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &reconciliationService{
		pending:      deps.Pending,
		markers:      deps.Markers,
		stripe:       deps.Stripe,
		paypal:       deps.PayPal,
		orders:       deps.Orders,
		events:       deps.Events,
		storeBaseURL: strings.TrimRight(strings.TrimSpace(deps.StoreBaseURL), "/"),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// reconcileFlow names the branch the return parameters selected.
type reconcileFlow int

const (
	flowUnknown reconcileFlow = iota
	flowPayPal
	flowBNPL
	flowCard
)

// classifyReturn picks the flow from the raw return parameters. PayPal wins
// when the client says paypal and a token or payer id is present; a payment
// intent routes to the BNPL branch when the claimed method is a BNPL rail,
// otherwise to the card branch.
func classifyReturn(cmd ReconcileCommand) reconcileFlow {
	method := strings.ToLower(strings.TrimSpace(cmd.PaymentMethod))
	if method == string(domain.PaymentMethodPayPal) && (cmd.PayPalToken != "" || cmd.PayerID != "") {
		return flowPayPal
	}
	if cmd.PaymentIntentID == "" {
		return flowUnknown
	}
	if method != "" && domain.ParsePaymentMethodType(method).IsBNPL() {
		return flowBNPL
	}
	return flowCard
}

// Reconcile converts a provider return into exactly one commerce order.
func (s *reconciliationService) Reconcile(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error) {
	if s == nil || s.markers == nil {
		return ReconcileResult{}, ErrReconcileUnavailable
	}

	flow := classifyReturn(cmd)
	if flow == flowUnknown {
		return ReconcileResult{}, fmt.Errorf("%w: unrecognised return parameters", ErrReconcileInvalidInput)
	}

	paymentID := strings.TrimSpace(cmd.PaymentIntentID)
	if flow == flowPayPal {
		paymentID = strings.TrimSpace(cmd.PayPalToken)
	}
	correlationID := strings.TrimSpace(cmd.TransactionID)
	if correlationID == "" {
		correlationID = strings.TrimSpace(cmd.UniqueID)
	}
	if paymentID == "" || correlationID == "" {
		return ReconcileResult{}, fmt.Errorf("%w: payment id and transaction id are required", ErrReconcileInvalidInput)
	}

	// The processed marker is reserved before any provider call so that a
	// duplicate return, refresh or retry can never produce a second order.
	state, outcome, err := s.markers.Begin(ctx, paymentID, correlationID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("%w: %v", ErrReconcileUnavailable, err)
	}
	switch state {
	case idempotency.MarkerStateReplay:
		s.logger(ctx, "reconcile.replayed", map[string]any{
			"payment_id": paymentID,
			"order_id":   outcome.OrderID,
		})
		return ReconcileResult{OrderID: outcome.OrderID, RedirectURL: outcome.RedirectURL, Replayed: true}, nil
	case idempotency.MarkerStateInFlight:
		return ReconcileResult{}, ErrReconcileInFlight
	}

	result, err := s.reconcileOwned(ctx, flow, cmd, paymentID, correlationID)
	if err != nil {
		if abortErr := s.markers.Abort(ctx, paymentID, correlationID); abortErr != nil {
			s.logger(ctx, "reconcile.marker.abort_failed", map[string]any{
				"payment_id": paymentID,
				"error":      abortErr.Error(),
			})
		}
		return ReconcileResult{}, err
	}

	if err := s.markers.Complete(ctx, paymentID, correlationID, idempotency.MarkerOutcome{
		OrderID:     result.OrderID,
		RedirectURL: result.RedirectURL,
	}); err != nil {
		s.logger(ctx, "reconcile.marker.complete_failed", map[string]any{
			"payment_id": paymentID,
			"order_id":   result.OrderID,
			"error":      err.Error(),
		})
	}
	return result, nil
}

// reconcileOwned runs with the marker reserved by this request.
func (s *reconciliationService) reconcileOwned(ctx context.Context, flow reconcileFlow, cmd ReconcileCommand, paymentID, correlationID string) (ReconcileResult, error) {
	pending, err := s.pending.Get(ctx, correlationID)
	if err != nil {
		if isRepoNotFound(err) {
			return ReconcileResult{}, fmt.Errorf("%w: %s", ErrReconcileNotFound, correlationID)
		}
		return ReconcileResult{}, fmt.Errorf("%w: %v", ErrReconcileUnavailable, err)
	}

	wooSession := strings.TrimSpace(cmd.WooSession)
	if wooSession == "" {
		wooSession = pending.WooSession
	}

	orderCmd := CreateOrderCommand{
		PaymentID:     paymentID,
		TransactionID: pending.CorrelationID(),
		UniqueID:      pending.UniqueMutationID,
		WooSession:    wooSession,
		Customer:      &pending.Customer,
	}
	processing := false

	switch flow {
	case flowPayPal:
		details, err := s.paypal.CaptureOrder(ctx, paymentID)
		if err != nil {
			if errors.Is(err, payments.ErrPayPalDeclined) {
				return ReconcileResult{}, &PaymentRejectedError{Code: "paypal_declined", Message: "PayPal did not approve the payment."}
			}
			return ReconcileResult{}, fmt.Errorf("%w: %v", ErrReconcileUnavailable, err)
		}
		if details.PayerID == "" {
			details.PayerID = strings.TrimSpace(cmd.PayerID)
		}
		orderCmd.Provider = domain.ProviderPayPal
		orderCmd.MethodType = domain.PaymentMethodPayPal
		orderCmd.PayPal = &details
		s.logger(ctx, "reconcile.paypal.captured", map[string]any{
			"payment_id": paymentID,
			"capture_id": details.CaptureID,
		})

	case flowCard:
		details, err := s.stripe.LookupIntent(ctx, paymentID)
		if err != nil {
			return ReconcileResult{}, fmt.Errorf("%w: %v", ErrReconcileUnavailable, err)
		}
		if !payments.IntentStatusAcceptable(details.Status) {
			return ReconcileResult{}, &PaymentRejectedError{
				Code:    "payment_not_settled",
				Message: fmt.Sprintf("Payment is in state %q and cannot complete checkout.", details.Status),
			}
		}
		// The provider's reported method wins over whatever the client
		// echoed through the return URL.
		orderCmd.Provider = domain.ProviderStripe
		orderCmd.MethodType = details.MethodType
		processing = strings.EqualFold(details.Status, "processing")

	case flowBNPL:
		// BNPL rails land here already confirmed by the redirect; the
		// intent was settled (or is settling) on the provider side. The
		// claimed method is provisional: order creation looks the intent
		// up and takes the method the provider reports.
		orderCmd.Provider = domain.ProviderStripe
		orderCmd.MethodType = domain.ParsePaymentMethodType(cmd.PaymentMethod)
		processing = strings.EqualFold(strings.TrimSpace(cmd.RedirectStatus), "processing")
	}

	if err := s.pending.UpdateStatus(ctx, pending.TransactionID, domain.PendingStatusCaptured, paymentID, s.now()); err != nil {
		s.logger(ctx, "reconcile.pending.update_failed", map[string]any{
			"transaction_id": pending.TransactionID,
			"error":          err.Error(),
		})
	}

	created, err := s.orders.CreateOrder(ctx, orderCmd)
	if err != nil {
		switch {
		case errors.Is(err, ErrOrderInvalidInput):
			return ReconcileResult{}, fmt.Errorf("%w: %v", ErrReconcileInvalidInput, err)
		case errors.Is(err, ErrOrderCreateFailed):
			return ReconcileResult{}, &PaymentRejectedError{Code: "order_create_failed", Message: "The order could not be created for a settled payment."}
		default:
			return ReconcileResult{}, fmt.Errorf("%w: %v", ErrReconcileUnavailable, err)
		}
	}

	if err := s.pending.Delete(ctx, pending.TransactionID); err != nil {
		s.logger(ctx, "reconcile.pending.delete_failed", map[string]any{
			"transaction_id": pending.TransactionID,
			"error":          err.Error(),
		})
	}
	s.publishOrderEvent(ctx, pending, orderCmd, created.OrderID)

	redirect := httpx.OrderConfirmationURL(s.storeBaseURL, created.OrderID, url.Values{
		"transaction_id": {pending.TransactionID},
		"payment_id":     {paymentID},
	})
	s.logger(ctx, "reconcile.completed", map[string]any{
		"order_id":       created.OrderID,
		"transaction_id": pending.TransactionID,
		"payment_id":     paymentID,
		"provider":       string(orderCmd.Provider),
		"processing":     processing,
		"deduplicated":   created.Deduplicated,
	})
	return ReconcileResult{OrderID: created.OrderID, RedirectURL: redirect, Processing: processing}, nil
}

func (s *reconciliationService) publishOrderEvent(ctx context.Context, pending domain.PendingCheckout, orderCmd CreateOrderCommand, orderID string) {
	if s.events == nil {
		return
	}
	message := OrderEventMessage{
		EventType:     "order.created",
		OrderID:       orderID,
		TransactionID: pending.TransactionID,
		PaymentID:     orderCmd.PaymentID,
		Provider:      string(orderCmd.Provider),
		Gateway:       domain.GatewayForMethod(orderCmd.MethodType),
		Method:        string(orderCmd.MethodType),
		AmountMinor:   pending.AmountMinor,
		Currency:      pending.Currency,
		OccurredAt:    s.now(),
	}
	if _, err := s.events.PublishOrderEvent(ctx, message); err != nil {
		s.logger(ctx, "reconcile.event.publish_failed", map[string]any{
			"order_id": orderID,
			"error":    err.Error(),
		})
	}
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
