package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/meridian-goods/api/internal/domain"
	"github.com/meridian-goods/api/internal/payments"
	"github.com/meridian-goods/api/internal/repositories"
)

const (
	defaultPendingCheckoutTTL = 24 * time.Hour
	transactionRandomLength   = 10
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid customer or payment data.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutCartNotReady indicates the cart is empty or carries a non-positive total.
	ErrCheckoutCartNotReady = errors.New("checkout: cart not ready")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutPaymentFailed indicates the provider-side payment object could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
)

// checkoutCartFetcher abstracts the commerce client's cart read for testing.
type checkoutCartFetcher interface {
	Cart(ctx context.Context, sessionToken string) (domain.Cart, string, error)
}

// stripeIntentCreator abstracts payments.StripeProvider.
type stripeIntentCreator interface {
	CreateIntent(ctx context.Context, req payments.IntentRequest) (payments.Intent, error)
}

// paypalOrderCreator abstracts payments.PayPalProvider.
type paypalOrderCreator interface {
	CreateOrder(ctx context.Context, req payments.PayPalOrderRequest) (payments.PayPalOrder, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Commerce checkoutCartFetcher
	Pending  repositories.PendingCheckoutRepository
	Stripe   stripeIntentCreator
	PayPal   paypalOrderCreator
	// ReturnURLBase is this service's public origin; the provider redirects
	// shoppers back to {ReturnURLBase}{ReturnPath} after payment.
	ReturnURLBase    string
	PayPalReturnPath string
	// StoreBaseURL is the storefront origin used for cancel redirects.
	StoreBaseURL string
	PendingTTL   time.Duration
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
	// RandomID overrides transaction id randomness in tests.
	RandomID func() string
}

type checkoutService struct {
	commerce         checkoutCartFetcher
	pending          repositories.PendingCheckoutRepository
	stripe           stripeIntentCreator
	paypal           paypalOrderCreator
	returnURLBase    string
	paypalReturnPath string
	storeBaseURL     string
	pendingTTL       time.Duration
	now              func() time.Time
	logger           func(ctx context.Context, event string, fields map[string]any)
	randomID         func() string
	validate         *validator.Validate
	sanitizer        *bluemonday.Policy
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Commerce == nil {
		return nil, errors.New("checkout service: commerce client is required")
	}
	if deps.Pending == nil {
		return nil, errors.New("checkout service: pending checkout repository is required")
	}
	if deps.Stripe == nil {
		return nil, errors.New("checkout service: stripe provider is required")
	}
	if deps.PayPal == nil {
		return nil, errors.New("checkout service: paypal provider is required")
	}
	if strings.TrimSpace(deps.ReturnURLBase) == "" {
		return nil, errors.New("checkout service: return url base is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ttl := deps.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingCheckoutTTL
	}
	randomID := deps.RandomID
	if randomID == nil {
		randomID = func() string {
			id := ulid.MustNew(ulid.Now(), rand.Reader).String()
			return strings.ToLower(id[len(id)-transactionRandomLength:])
		}
	}
	paypalReturnPath := strings.TrimSpace(deps.PayPalReturnPath)
	if paypalReturnPath == "" {
		paypalReturnPath = "/checkout/paypal-return"
	}
	storeBase := strings.TrimSpace(deps.StoreBaseURL)
	if storeBase == "" {
		storeBase = strings.TrimRight(strings.TrimSpace(deps.ReturnURLBase), "/")
	}

	return &checkoutService{
		commerce:         deps.Commerce,
		pending:          deps.Pending,
		stripe:           deps.Stripe,
		paypal:           deps.PayPal,
		returnURLBase:    strings.TrimRight(strings.TrimSpace(deps.ReturnURLBase), "/"),
		paypalReturnPath: paypalReturnPath,
		storeBaseURL:     strings.TrimRight(storeBase, "/"),
		pendingTTL:       ttl,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:    logger,
		randomID:  randomID,
		validate:  validator.New(),
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

// NewTransactionID mints the correlation key threaded through the whole flow:
// the payment method, the submission epoch in milliseconds, and a random tail.
func NewTransactionID(method domain.PaymentMethodType, now time.Time, random string) string {
	return fmt.Sprintf("%s-%d-%s", method, now.UnixMilli(), random)
}

// InitiateCheckout validates the cart and shopper, persists the pending record
// and creates the provider-side payment object.
func (s *checkoutService) InitiateCheckout(ctx context.Context, cmd InitiateCheckoutCommand) (domain.CheckoutInitiation, error) {
	if s == nil || s.commerce == nil {
		return domain.CheckoutInitiation{}, ErrCheckoutUnavailable
	}

	sessionToken := strings.TrimSpace(cmd.SessionToken)
	if sessionToken == "" {
		return domain.CheckoutInitiation{}, ErrCheckoutInvalidInput
	}
	method := domain.ParsePaymentMethodType(string(cmd.Method))
	customer := s.sanitizeCustomer(cmd.Customer)
	if err := s.validateCustomer(customer); err != nil {
		return domain.CheckoutInitiation{}, err
	}

	cart, rotatedSession, err := s.commerce.Cart(ctx, sessionToken)
	if err != nil {
		s.logger(ctx, "checkout.cart.fetch_failed", map[string]any{"error": err.Error()})
		return domain.CheckoutInitiation{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	if rotatedSession != "" {
		sessionToken = rotatedSession
	}
	if cart.IsEmpty || len(cart.Items) == 0 || cart.Total <= 0 {
		return domain.CheckoutInitiation{}, ErrCheckoutCartNotReady
	}

	now := s.now()
	transactionID := NewTransactionID(method, now, s.randomID())
	uniqueMutationID := ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()

	pending := domain.PendingCheckout{
		TransactionID:    transactionID,
		UniqueMutationID: uniqueMutationID,
		Customer:         customer,
		Method:           method,
		Provider:         providerForMethod(method),
		WooSession:       sessionToken,
		Status:           domain.PendingStatusCreated,
		AmountMinor:      cart.Total,
		Currency:         cart.Currency,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(s.pendingTTL),
	}
	if err := s.pending.Put(ctx, pending); err != nil {
		s.logger(ctx, "checkout.pending.persist_failed", map[string]any{
			"transaction_id": transactionID,
			"error":          err.Error(),
		})
		return domain.CheckoutInitiation{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	initiation := domain.CheckoutInitiation{
		TransactionID: transactionID,
		Provider:      pending.Provider,
		Method:        method,
		ExpiresAt:     pending.ExpiresAt,
	}

	switch pending.Provider {
	case domain.ProviderPayPal:
		order, err := s.createPayPalOrder(ctx, pending)
		if err != nil {
			s.failPending(ctx, transactionID)
			return domain.CheckoutInitiation{}, err
		}
		initiation.PaymentID = order.OrderID
		initiation.ApprovalURL = order.ApprovalURL
		initiation.CancelURL = s.storeBaseURL + "/checkout"
		if err := s.pending.UpdateStatus(ctx, transactionID, domain.PendingStatusIntentCreated, order.OrderID, s.now()); err != nil {
			s.logger(ctx, "checkout.pending.update_failed", map[string]any{
				"transaction_id": transactionID,
				"error":          err.Error(),
			})
		}
	default:
		intent, err := s.createStripeIntent(ctx, pending)
		if err != nil {
			s.failPending(ctx, transactionID)
			return domain.CheckoutInitiation{}, err
		}
		initiation.PaymentID = intent.ID
		initiation.ClientSecret = intent.ClientSecret
		if err := s.pending.UpdateStatus(ctx, transactionID, domain.PendingStatusIntentCreated, intent.ID, s.now()); err != nil {
			s.logger(ctx, "checkout.pending.update_failed", map[string]any{
				"transaction_id": transactionID,
				"error":          err.Error(),
			})
		}
	}

	s.logger(ctx, "checkout.initiated", map[string]any{
		"transaction_id": transactionID,
		"provider":       string(pending.Provider),
		"method":         string(method),
		"amount_minor":   pending.AmountMinor,
		"currency":       pending.Currency,
	})
	return initiation, nil
}

func (s *checkoutService) createStripeIntent(ctx context.Context, pending domain.PendingCheckout) (payments.Intent, error) {
	intent, err := s.stripe.CreateIntent(ctx, payments.IntentRequest{
		AmountMinor:  pending.AmountMinor,
		Currency:     pending.Currency,
		Method:       pending.Method,
		ReceiptEmail: pending.Customer.Email,
		Metadata: map[string]string{
			"transaction_id": pending.TransactionID,
			"unique_id":      pending.UniqueMutationID,
		},
		IdempotencyKey: pending.TransactionID,
	})
	if err != nil {
		s.logger(ctx, "checkout.stripe.intent_failed", map[string]any{
			"transaction_id": pending.TransactionID,
			"error":          err.Error(),
		})
		return payments.Intent{}, fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
	}
	return intent, nil
}

func (s *checkoutService) createPayPalOrder(ctx context.Context, pending domain.PendingCheckout) (payments.PayPalOrder, error) {
	params := url.Values{
		"transaction_id": {pending.TransactionID},
		"unique_id":      {pending.UniqueMutationID},
		"timestamp":      {strconv.FormatInt(s.now().UnixMilli(), 10)},
	}
	if pending.WooSession != "" {
		params.Set("woo_session", pending.WooSession)
	}
	returnURL := s.returnURLBase + s.paypalReturnPath + "?" + params.Encode()
	order, err := s.paypal.CreateOrder(ctx, payments.PayPalOrderRequest{
		AmountMinor: pending.AmountMinor,
		Currency:    pending.Currency,
		ReferenceID: pending.TransactionID,
		ReturnURL:   returnURL,
		CancelURL:   s.storeBaseURL + "/checkout",
	})
	if err != nil {
		s.logger(ctx, "checkout.paypal.order_failed", map[string]any{
			"transaction_id": pending.TransactionID,
			"error":          err.Error(),
		})
		return payments.PayPalOrder{}, fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
	}
	return order, nil
}

func (s *checkoutService) failPending(ctx context.Context, transactionID string) {
	if err := s.pending.UpdateStatus(ctx, transactionID, domain.PendingStatusFailed, "", s.now()); err != nil {
		s.logger(ctx, "checkout.pending.fail_mark_failed", map[string]any{
			"transaction_id": transactionID,
			"error":          err.Error(),
		})
	}
}

func (s *checkoutService) sanitizeCustomer(customer domain.CustomerInfo) domain.CustomerInfo {
	clean := func(v string) string {
		return strings.TrimSpace(s.sanitizer.Sanitize(v))
	}
	customer.FirstName = clean(customer.FirstName)
	customer.LastName = clean(customer.LastName)
	customer.Email = strings.TrimSpace(customer.Email)
	customer.Phone = clean(customer.Phone)
	customer.Note = clean(customer.Note)
	customer.Shipping = sanitizeAddress(clean, customer.Shipping)
	if customer.Billing != nil {
		billing := sanitizeAddress(clean, *customer.Billing)
		customer.Billing = &billing
	}
	return customer
}

func sanitizeAddress(clean func(string) string, addr domain.Address) domain.Address {
	addr.FirstName = clean(addr.FirstName)
	addr.LastName = clean(addr.LastName)
	addr.Line1 = clean(addr.Line1)
	addr.Line2 = clean(addr.Line2)
	addr.City = clean(addr.City)
	addr.State = clean(addr.State)
	addr.Postcode = clean(addr.Postcode)
	addr.Country = clean(addr.Country)
	return addr
}

// checkoutCustomerInput mirrors the fields required before any provider call.
type checkoutCustomerInput struct {
	FirstName string `validate:"required"`
	LastName  string `validate:"required"`
	Email     string `validate:"required,email"`
	Line1     string `validate:"required"`
	City      string `validate:"required"`
	State     string `validate:"required"`
	Postcode  string `validate:"required"`
	Country   string `validate:"required"`
}

func (s *checkoutService) validateCustomer(customer domain.CustomerInfo) error {
	input := checkoutCustomerInput{
		FirstName: customer.FirstName,
		LastName:  customer.LastName,
		Email:     customer.Email,
		Line1:     customer.Shipping.Line1,
		City:      customer.Shipping.City,
		State:     customer.Shipping.State,
		Postcode:  customer.Shipping.Postcode,
		Country:   customer.Shipping.Country,
	}
	if err := s.validate.Struct(input); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	if customer.BillingDifferent {
		if customer.Billing == nil {
			return fmt.Errorf("%w: billing address required", ErrCheckoutInvalidInput)
		}
		b := customer.Billing
		if b.Line1 == "" || b.City == "" || b.State == "" || b.Postcode == "" || b.Country == "" {
			return fmt.Errorf("%w: billing address incomplete", ErrCheckoutInvalidInput)
		}
	}
	return nil
}

func providerForMethod(method domain.PaymentMethodType) domain.PaymentProvider {
	if method == domain.PaymentMethodPayPal {
		return domain.ProviderPayPal
	}
	return domain.ProviderStripe
}
