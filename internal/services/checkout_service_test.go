package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	domain "github.com/meridian-goods/api/internal/domain"
	"github.com/meridian-goods/api/internal/payments"
)

type stubCartFetcher struct {
	cartFunc func(ctx context.Context, sessionToken string) (domain.Cart, string, error)
}

func (s *stubCartFetcher) Cart(ctx context.Context, sessionToken string) (domain.Cart, string, error) {
	return s.cartFunc(ctx, sessionToken)
}

type stubStripeCreator struct {
	createFunc func(ctx context.Context, req payments.IntentRequest) (payments.Intent, error)
}

func (s *stubStripeCreator) CreateIntent(ctx context.Context, req payments.IntentRequest) (payments.Intent, error) {
	if s.createFunc == nil {
		return payments.Intent{}, errors.New("unexpected CreateIntent call")
	}
	return s.createFunc(ctx, req)
}

type stubPayPalCreator struct {
	createFunc func(ctx context.Context, req payments.PayPalOrderRequest) (payments.PayPalOrder, error)
}

func (s *stubPayPalCreator) CreateOrder(ctx context.Context, req payments.PayPalOrderRequest) (payments.PayPalOrder, error) {
	if s.createFunc == nil {
		return payments.PayPalOrder{}, errors.New("unexpected CreateOrder call")
	}
	return s.createFunc(ctx, req)
}

type stubPendingRepository struct {
	putFunc           func(ctx context.Context, pending domain.PendingCheckout) error
	updateStatusFunc  func(ctx context.Context, transactionID string, status domain.PendingCheckoutStatus, paymentID string, now time.Time) error
	getFunc           func(ctx context.Context, transactionID string) (domain.PendingCheckout, error)
	deleteFunc        func(ctx context.Context, transactionID string) error
	deleteExpiredFunc func(ctx context.Context, now time.Time, limit int) (int, error)
}

func (s *stubPendingRepository) Put(ctx context.Context, pending domain.PendingCheckout) error {
	if s.putFunc == nil {
		return nil
	}
	return s.putFunc(ctx, pending)
}

func (s *stubPendingRepository) UpdateStatus(ctx context.Context, transactionID string, status domain.PendingCheckoutStatus, paymentID string, now time.Time) error {
	if s.updateStatusFunc == nil {
		return nil
	}
	return s.updateStatusFunc(ctx, transactionID, status, paymentID, now)
}

func (s *stubPendingRepository) Get(ctx context.Context, transactionID string) (domain.PendingCheckout, error) {
	if s.getFunc == nil {
		return domain.PendingCheckout{}, errors.New("unexpected Get call")
	}
	return s.getFunc(ctx, transactionID)
}

func (s *stubPendingRepository) Delete(ctx context.Context, transactionID string) error {
	if s.deleteFunc == nil {
		return nil
	}
	return s.deleteFunc(ctx, transactionID)
}

func (s *stubPendingRepository) DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if s.deleteExpiredFunc == nil {
		return 0, nil
	}
	return s.deleteExpiredFunc(ctx, now, limit)
}

func testCheckoutCustomer() domain.CustomerInfo {
	return domain.CustomerInfo{
		FirstName: "Ava",
		LastName:  "Nguyen",
		Email:     "ava@example.com",
		Shipping: domain.Address{
			Line1:    "1 High Street",
			City:     "Melbourne",
			State:    "VIC",
			Postcode: "3000",
			Country:  "AU",
		},
	}
}

func testReadyCart() domain.Cart {
	return domain.Cart{
		Items: []domain.CartItem{
			{Key: "abc", ProductID: 11, Name: "Canvas Tote", Quantity: 1, UnitPrice: 4850, Subtotal: 4850, Total: 4850},
		},
		Subtotal: 4850,
		Total:    4850,
		Currency: "AUD",
	}
}

func TestCheckoutServiceInitiateStripe(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 6, 8, 0, 0, 0, time.UTC)
	wantTransactionID := fmt.Sprintf("card-%d-x9abc", now.UnixMilli())

	var savedPending domain.PendingCheckout
	pending := &stubPendingRepository{
		putFunc: func(_ context.Context, p domain.PendingCheckout) error {
			savedPending = p
			return nil
		},
		updateStatusFunc: func(_ context.Context, transactionID string, status domain.PendingCheckoutStatus, paymentID string, _ time.Time) error {
			if transactionID != wantTransactionID {
				t.Fatalf("unexpected transaction id %s", transactionID)
			}
			if status != domain.PendingStatusIntentCreated || paymentID != "pi_3Test" {
				t.Fatalf("unexpected status update %s / %s", status, paymentID)
			}
			return nil
		},
	}

	var intentReq payments.IntentRequest
	stripe := &stubStripeCreator{
		createFunc: func(_ context.Context, req payments.IntentRequest) (payments.Intent, error) {
			intentReq = req
			return payments.Intent{ID: "pi_3Test", ClientSecret: "pi_3Test_secret", Status: "requires_payment_method"}, nil
		},
	}

	service, err := NewCheckoutService(CheckoutServiceDeps{
		Commerce: &stubCartFetcher{
			cartFunc: func(_ context.Context, sessionToken string) (domain.Cart, string, error) {
				if sessionToken != "sess-1" {
					t.Fatalf("unexpected session token %s", sessionToken)
				}
				return testReadyCart(), "", nil
			},
		},
		Pending:       pending,
		Stripe:        stripe,
		PayPal:        &stubPayPalCreator{},
		ReturnURLBase: "https://api.example.com",
		StoreBaseURL:  "https://shop.example.com",
		PendingTTL:    24 * time.Hour,
		Clock:         func() time.Time { return now },
		RandomID:      func() string { return "x9abc" },
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	initiation, err := service.InitiateCheckout(ctx, InitiateCheckoutCommand{
		SessionToken: "sess-1",
		Method:       domain.PaymentMethodCard,
		Customer:     testCheckoutCustomer(),
	})
	if err != nil {
		t.Fatalf("InitiateCheckout: %v", err)
	}

	if initiation.TransactionID != wantTransactionID {
		t.Fatalf("expected transaction id %s, got %s", wantTransactionID, initiation.TransactionID)
	}
	if initiation.Provider != domain.ProviderStripe || initiation.ClientSecret != "pi_3Test_secret" {
		t.Fatalf("unexpected initiation %#v", initiation)
	}
	if initiation.PaymentID != "pi_3Test" {
		t.Fatalf("expected payment id pi_3Test, got %s", initiation.PaymentID)
	}

	if savedPending.Status != domain.PendingStatusCreated {
		t.Fatalf("expected pending status created, got %s", savedPending.Status)
	}
	if savedPending.AmountMinor != 4850 || savedPending.Currency != "AUD" {
		t.Fatalf("unexpected pending amount %d %s", savedPending.AmountMinor, savedPending.Currency)
	}
	if !savedPending.ExpiresAt.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("unexpected pending expiry %v", savedPending.ExpiresAt)
	}
	if savedPending.UniqueMutationID == "" {
		t.Fatal("expected a unique mutation id")
	}

	if intentReq.AmountMinor != 4850 || intentReq.Currency != "AUD" {
		t.Fatalf("unexpected intent request %#v", intentReq)
	}
	if intentReq.Metadata["transaction_id"] != wantTransactionID {
		t.Fatalf("expected transaction metadata, got %#v", intentReq.Metadata)
	}
	if intentReq.IdempotencyKey != wantTransactionID {
		t.Fatalf("expected idempotency key %s, got %s", wantTransactionID, intentReq.IdempotencyKey)
	}
}

func TestCheckoutServiceInitiatePayPal(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 6, 8, 0, 0, 0, time.UTC)

	var orderReq payments.PayPalOrderRequest
	paypal := &stubPayPalCreator{
		createFunc: func(_ context.Context, req payments.PayPalOrderRequest) (payments.PayPalOrder, error) {
			orderReq = req
			return payments.PayPalOrder{OrderID: "EC-ABC123", Status: "CREATED", ApprovalURL: "https://paypal.example/approve/EC-ABC123"}, nil
		},
	}

	service, err := NewCheckoutService(CheckoutServiceDeps{
		Commerce: &stubCartFetcher{
			cartFunc: func(context.Context, string) (domain.Cart, string, error) {
				return testReadyCart(), "", nil
			},
		},
		Pending:       &stubPendingRepository{},
		Stripe:        &stubStripeCreator{},
		PayPal:        paypal,
		ReturnURLBase: "https://api.example.com",
		StoreBaseURL:  "https://shop.example.com",
		Clock:         func() time.Time { return now },
		RandomID:      func() string { return "k2m4p" },
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	initiation, err := service.InitiateCheckout(ctx, InitiateCheckoutCommand{
		SessionToken: "sess-1",
		Method:       domain.PaymentMethodPayPal,
		Customer:     testCheckoutCustomer(),
	})
	if err != nil {
		t.Fatalf("InitiateCheckout: %v", err)
	}

	if initiation.Provider != domain.ProviderPayPal || initiation.ApprovalURL != "https://paypal.example/approve/EC-ABC123" {
		t.Fatalf("unexpected initiation %#v", initiation)
	}
	if initiation.CancelURL != "https://shop.example.com/checkout" {
		t.Fatalf("unexpected cancel url %s", initiation.CancelURL)
	}

	returnURL, err := url.Parse(orderReq.ReturnURL)
	if err != nil {
		t.Fatalf("parse return url: %v", err)
	}
	if returnURL.Path != "/checkout/paypal-return" {
		t.Fatalf("unexpected return path %s", returnURL.Path)
	}
	query := returnURL.Query()
	if query.Get("transaction_id") != initiation.TransactionID {
		t.Fatalf("return url missing transaction id: %s", orderReq.ReturnURL)
	}
	if query.Get("unique_id") == "" {
		t.Fatalf("return url missing unique id: %s", orderReq.ReturnURL)
	}
	if query.Get("timestamp") != strconv.FormatInt(now.UnixMilli(), 10) {
		t.Fatalf("return url missing timestamp: %s", orderReq.ReturnURL)
	}
	if query.Get("woo_session") != "sess-1" {
		t.Fatalf("return url missing session token: %s", orderReq.ReturnURL)
	}
	if !strings.HasPrefix(initiation.TransactionID, "paypal-") {
		t.Fatalf("unexpected transaction id %s", initiation.TransactionID)
	}
}

func TestCheckoutServiceRejectsEmptyCart(t *testing.T) {
	cases := []struct {
		name string
		cart domain.Cart
	}{
		{name: "empty flag", cart: domain.Cart{IsEmpty: true}},
		{name: "no items", cart: domain.Cart{Total: 1000}},
		{name: "zero total", cart: domain.Cart{Items: []domain.CartItem{{Key: "a", Quantity: 1}}, Total: 0}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service, err := NewCheckoutService(CheckoutServiceDeps{
				Commerce: &stubCartFetcher{
					cartFunc: func(context.Context, string) (domain.Cart, string, error) {
						return tc.cart, "", nil
					},
				},
				Pending: &stubPendingRepository{
					putFunc: func(context.Context, domain.PendingCheckout) error {
						t.Fatal("pending record should not be persisted")
						return nil
					},
				},
				Stripe:        &stubStripeCreator{},
				PayPal:        &stubPayPalCreator{},
				ReturnURLBase: "https://api.example.com",
			})
			if err != nil {
				t.Fatalf("NewCheckoutService: %v", err)
			}

			_, err = service.InitiateCheckout(context.Background(), InitiateCheckoutCommand{
				SessionToken: "sess-1",
				Method:       domain.PaymentMethodCard,
				Customer:     testCheckoutCustomer(),
			})
			if !errors.Is(err, ErrCheckoutCartNotReady) {
				t.Fatalf("expected ErrCheckoutCartNotReady, got %v", err)
			}
		})
	}
}

func TestCheckoutServiceValidatesCustomer(t *testing.T) {
	missingEmail := testCheckoutCustomer()
	missingEmail.Email = ""

	badEmail := testCheckoutCustomerWithEmail("not-an-email")

	incompleteBilling := testCheckoutCustomer()
	incompleteBilling.BillingDifferent = true
	incompleteBilling.Billing = &domain.Address{Line1: "2 Other Street", City: "Sydney"}

	cases := []struct {
		name     string
		customer domain.CustomerInfo
	}{
		{name: "missing email", customer: missingEmail},
		{name: "malformed email", customer: badEmail},
		{name: "incomplete billing", customer: incompleteBilling},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service, err := NewCheckoutService(CheckoutServiceDeps{
				Commerce: &stubCartFetcher{
					cartFunc: func(context.Context, string) (domain.Cart, string, error) {
						t.Fatal("cart should not be fetched for invalid customers")
						return domain.Cart{}, "", nil
					},
				},
				Pending:       &stubPendingRepository{},
				Stripe:        &stubStripeCreator{},
				PayPal:        &stubPayPalCreator{},
				ReturnURLBase: "https://api.example.com",
			})
			if err != nil {
				t.Fatalf("NewCheckoutService: %v", err)
			}

			_, err = service.InitiateCheckout(context.Background(), InitiateCheckoutCommand{
				SessionToken: "sess-1",
				Method:       domain.PaymentMethodCard,
				Customer:     tc.customer,
			})
			if !errors.Is(err, ErrCheckoutInvalidInput) {
				t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
			}
		})
	}
}

func testCheckoutCustomerWithEmail(email string) domain.CustomerInfo {
	customer := testCheckoutCustomer()
	customer.Email = email
	return customer
}

func TestCheckoutServiceMarksPendingFailedOnProviderError(t *testing.T) {
	now := time.Date(2025, 5, 6, 8, 0, 0, 0, time.UTC)

	var failedStatus domain.PendingCheckoutStatus
	pending := &stubPendingRepository{
		updateStatusFunc: func(_ context.Context, _ string, status domain.PendingCheckoutStatus, _ string, _ time.Time) error {
			failedStatus = status
			return nil
		},
	}

	service, err := NewCheckoutService(CheckoutServiceDeps{
		Commerce: &stubCartFetcher{
			cartFunc: func(context.Context, string) (domain.Cart, string, error) {
				return testReadyCart(), "", nil
			},
		},
		Pending: pending,
		Stripe: &stubStripeCreator{
			createFunc: func(context.Context, payments.IntentRequest) (payments.Intent, error) {
				return payments.Intent{}, errors.New("stripe is down")
			},
		},
		PayPal:        &stubPayPalCreator{},
		ReturnURLBase: "https://api.example.com",
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}

	_, err = service.InitiateCheckout(context.Background(), InitiateCheckoutCommand{
		SessionToken: "sess-1",
		Method:       domain.PaymentMethodCard,
		Customer:     testCheckoutCustomer(),
	})
	if !errors.Is(err, ErrCheckoutPaymentFailed) {
		t.Fatalf("expected ErrCheckoutPaymentFailed, got %v", err)
	}
	if failedStatus != domain.PendingStatusFailed {
		t.Fatalf("expected pending marked failed, got %s", failedStatus)
	}
}
