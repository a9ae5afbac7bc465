package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	domain "github.com/meridian-goods/api/internal/domain"
	"github.com/meridian-goods/api/internal/payments"
	"github.com/meridian-goods/api/internal/platform/idempotency"
)

type stubMarkers struct {
	beginFunc    func(ctx context.Context, paymentID, correlationID string) (idempotency.MarkerState, idempotency.MarkerOutcome, error)
	completeFunc func(ctx context.Context, paymentID, correlationID string, outcome idempotency.MarkerOutcome) error
	abortFunc    func(ctx context.Context, paymentID, correlationID string) error
}

func (s *stubMarkers) Begin(ctx context.Context, paymentID, correlationID string) (idempotency.MarkerState, idempotency.MarkerOutcome, error) {
	if s.beginFunc == nil {
		return idempotency.MarkerStateNew, idempotency.MarkerOutcome{}, nil
	}
	return s.beginFunc(ctx, paymentID, correlationID)
}

func (s *stubMarkers) Complete(ctx context.Context, paymentID, correlationID string, outcome idempotency.MarkerOutcome) error {
	if s.completeFunc == nil {
		return nil
	}
	return s.completeFunc(ctx, paymentID, correlationID, outcome)
}

func (s *stubMarkers) Abort(ctx context.Context, paymentID, correlationID string) error {
	if s.abortFunc == nil {
		return nil
	}
	return s.abortFunc(ctx, paymentID, correlationID)
}

type stubIntentReader struct {
	lookupFunc func(ctx context.Context, intentID string) (payments.PaymentDetails, error)
}

func (s *stubIntentReader) LookupIntent(ctx context.Context, intentID string) (payments.PaymentDetails, error) {
	if s.lookupFunc == nil {
		return payments.PaymentDetails{}, errors.New("unexpected LookupIntent call")
	}
	return s.lookupFunc(ctx, intentID)
}

type stubCapturer struct {
	captureFunc func(ctx context.Context, orderID string) (domain.PayPalDetails, error)
}

func (s *stubCapturer) CaptureOrder(ctx context.Context, orderID string) (domain.PayPalDetails, error) {
	if s.captureFunc == nil {
		return domain.PayPalDetails{}, errors.New("unexpected CaptureOrder call")
	}
	return s.captureFunc(ctx, orderID)
}

type stubOrderCreator struct {
	createFunc func(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
}

func (s *stubOrderCreator) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	if s.createFunc == nil {
		return CreateOrderResult{}, errors.New("unexpected CreateOrder call")
	}
	return s.createFunc(ctx, cmd)
}

type stubEventPublisher struct {
	published []OrderEventMessage
	err       error
}

func (s *stubEventPublisher) PublishOrderEvent(_ context.Context, message OrderEventMessage) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.published = append(s.published, message)
	return "msg-1", nil
}

func testPendingRecord(transactionID string) domain.PendingCheckout {
	return domain.PendingCheckout{
		TransactionID:    transactionID,
		UniqueMutationID: "01J0UNIQUE",
		Customer:         testCheckoutCustomer(),
		Method:           domain.PaymentMethodCard,
		Provider:         domain.ProviderStripe,
		WooSession:       "sess-stored",
		Status:           domain.PendingStatusIntentCreated,
		AmountMinor:      12900,
		Currency:         "AUD",
	}
}

func newReconcileService(t *testing.T, deps ReconciliationServiceDeps) ReconciliationService {
	t.Helper()
	if deps.Pending == nil {
		deps.Pending = &stubPendingRepository{}
	}
	if deps.Markers == nil {
		deps.Markers = &stubMarkers{}
	}
	if deps.Stripe == nil {
		deps.Stripe = &stubIntentReader{}
	}
	if deps.PayPal == nil {
		deps.PayPal = &stubCapturer{}
	}
	if deps.Orders == nil {
		deps.Orders = &stubOrderCreator{}
	}
	if deps.StoreBaseURL == "" {
		deps.StoreBaseURL = "https://shop.example.com"
	}
	service, err := NewReconciliationService(deps)
	if err != nil {
		t.Fatalf("NewReconciliationService: %v", err)
	}
	return service
}

func TestReconcileCardFlowCreatesOrder(t *testing.T) {
	ctx := context.Background()
	transactionID := "card-1746522000000-x9abc"

	var completed *idempotency.MarkerOutcome
	markers := &stubMarkers{
		beginFunc: func(_ context.Context, paymentID, correlationID string) (idempotency.MarkerState, idempotency.MarkerOutcome, error) {
			if paymentID != "pi_3Test" || correlationID != transactionID {
				t.Fatalf("unexpected marker key parts %s / %s", paymentID, correlationID)
			}
			return idempotency.MarkerStateNew, idempotency.MarkerOutcome{}, nil
		},
		completeFunc: func(_ context.Context, _, _ string, outcome idempotency.MarkerOutcome) error {
			completed = &outcome
			return nil
		},
	}

	var deleted string
	pending := &stubPendingRepository{
		getFunc: func(_ context.Context, id string) (domain.PendingCheckout, error) {
			return testPendingRecord(id), nil
		},
		deleteFunc: func(_ context.Context, id string) error {
			deleted = id
			return nil
		},
	}

	var orderCmd CreateOrderCommand
	orders := &stubOrderCreator{
		createFunc: func(_ context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
			orderCmd = cmd
			return CreateOrderResult{OrderID: "4567"}, nil
		},
	}

	events := &stubEventPublisher{}
	service := newReconcileService(t, ReconciliationServiceDeps{
		Pending: pending,
		Markers: markers,
		Stripe: &stubIntentReader{
			lookupFunc: func(_ context.Context, intentID string) (payments.PaymentDetails, error) {
				return payments.PaymentDetails{
					Provider:   domain.ProviderStripe,
					ID:         intentID,
					Status:     "succeeded",
					MethodType: domain.PaymentMethodCard,
				}, nil
			},
		},
		Orders: orders,
		Events: events,
	})

	result, err := service.Reconcile(ctx, ReconcileCommand{
		PaymentIntentID: "pi_3Test",
		PaymentMethod:   "card",
		RedirectStatus:  "succeeded",
		TransactionID:   transactionID,
		WooSession:      "sess-live",
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if result.OrderID != "4567" || result.Replayed || result.Processing {
		t.Fatalf("unexpected result %#v", result)
	}
	if !strings.HasPrefix(result.RedirectURL, "https://shop.example.com/order-confirmation/4567?") {
		t.Fatalf("unexpected redirect %s", result.RedirectURL)
	}
	if !strings.Contains(result.RedirectURL, "transaction_id="+transactionID) {
		t.Fatalf("redirect missing transaction id: %s", result.RedirectURL)
	}

	if orderCmd.PaymentID != "pi_3Test" || orderCmd.TransactionID != transactionID {
		t.Fatalf("unexpected order command %#v", orderCmd)
	}
	if orderCmd.WooSession != "sess-live" {
		t.Fatalf("expected live session to win, got %s", orderCmd.WooSession)
	}
	if orderCmd.Customer == nil || orderCmd.Customer.Email != "ava@example.com" {
		t.Fatalf("expected stored customer info, got %#v", orderCmd.Customer)
	}

	if deleted != transactionID {
		t.Fatalf("expected pending record deleted, got %q", deleted)
	}
	if completed == nil || completed.OrderID != "4567" {
		t.Fatalf("expected marker completed with order id, got %#v", completed)
	}
	if len(events.published) != 1 || events.published[0].EventType != "order.created" {
		t.Fatalf("expected one order.created event, got %#v", events.published)
	}
	if events.published[0].AmountMinor != 12900 || events.published[0].Gateway != domain.GatewayStripe {
		t.Fatalf("unexpected event payload %#v", events.published[0])
	}
}

func TestReconcileReplaysCompletedMarker(t *testing.T) {
	service := newReconcileService(t, ReconciliationServiceDeps{
		Markers: &stubMarkers{
			beginFunc: func(context.Context, string, string) (idempotency.MarkerState, idempotency.MarkerOutcome, error) {
				return idempotency.MarkerStateReplay, idempotency.MarkerOutcome{
					OrderID:     "4567",
					RedirectURL: "https://shop.example.com/order-confirmation/4567",
				}, nil
			},
		},
		Pending: &stubPendingRepository{
			getFunc: func(context.Context, string) (domain.PendingCheckout, error) {
				t.Fatal("pending store should not be touched on replay")
				return domain.PendingCheckout{}, nil
			},
		},
	})

	result, err := service.Reconcile(context.Background(), ReconcileCommand{
		PaymentIntentID: "pi_3Test",
		PaymentMethod:   "card",
		TransactionID:   "card-1746522000000-x9abc",
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !result.Replayed || result.OrderID != "4567" {
		t.Fatalf("expected replayed outcome, got %#v", result)
	}
}

func TestReconcileInFlight(t *testing.T) {
	service := newReconcileService(t, ReconciliationServiceDeps{
		Markers: &stubMarkers{
			beginFunc: func(context.Context, string, string) (idempotency.MarkerState, idempotency.MarkerOutcome, error) {
				return idempotency.MarkerStateInFlight, idempotency.MarkerOutcome{}, nil
			},
		},
	})

	_, err := service.Reconcile(context.Background(), ReconcileCommand{
		PaymentIntentID: "pi_3Test",
		PaymentMethod:   "card",
		TransactionID:   "card-1746522000000-x9abc",
	})
	if !errors.Is(err, ErrReconcileInFlight) {
		t.Fatalf("expected ErrReconcileInFlight, got %v", err)
	}
}

func TestReconcileProviderMethodWins(t *testing.T) {
	var orderCmd CreateOrderCommand
	service := newReconcileService(t, ReconciliationServiceDeps{
		Pending: &stubPendingRepository{
			getFunc: func(_ context.Context, id string) (domain.PendingCheckout, error) {
				return testPendingRecord(id), nil
			},
		},
		Stripe: &stubIntentReader{
			lookupFunc: func(context.Context, string) (payments.PaymentDetails, error) {
				return payments.PaymentDetails{
					Provider:   domain.ProviderStripe,
					Status:     "succeeded",
					MethodType: domain.PaymentMethodZip,
				}, nil
			},
		},
		Orders: &stubOrderCreator{
			createFunc: func(_ context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
				orderCmd = cmd
				return CreateOrderResult{OrderID: "88"}, nil
			},
		},
	})

	_, err := service.Reconcile(context.Background(), ReconcileCommand{
		PaymentIntentID: "pi_3Test",
		PaymentMethod:   "card",
		TransactionID:   "card-1746522000000-x9abc",
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if orderCmd.MethodType != domain.PaymentMethodZip {
		t.Fatalf("expected provider-reported method to win, got %s", orderCmd.MethodType)
	}
}

func TestReconcileRejectsUnsettledIntent(t *testing.T) {
	aborted := false
	service := newReconcileService(t, ReconciliationServiceDeps{
		Markers: &stubMarkers{
			abortFunc: func(context.Context, string, string) error {
				aborted = true
				return nil
			},
		},
		Pending: &stubPendingRepository{
			getFunc: func(_ context.Context, id string) (domain.PendingCheckout, error) {
				return testPendingRecord(id), nil
			},
		},
		Stripe: &stubIntentReader{
			lookupFunc: func(context.Context, string) (payments.PaymentDetails, error) {
				return payments.PaymentDetails{Status: "requires_payment_method"}, nil
			},
		},
	})

	_, err := service.Reconcile(context.Background(), ReconcileCommand{
		PaymentIntentID: "pi_3Test",
		PaymentMethod:   "card",
		TransactionID:   "card-1746522000000-x9abc",
	})
	var rejected *PaymentRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected PaymentRejectedError, got %v", err)
	}
	if !aborted {
		t.Fatal("expected marker to be aborted so retries can proceed")
	}
}

func TestReconcilePayPalFlow(t *testing.T) {
	transactionID := "paypal-1746522000000-k2m4p"

	var orderCmd CreateOrderCommand
	service := newReconcileService(t, ReconciliationServiceDeps{
		Pending: &stubPendingRepository{
			getFunc: func(_ context.Context, id string) (domain.PendingCheckout, error) {
				record := testPendingRecord(id)
				record.Method = domain.PaymentMethodPayPal
				record.Provider = domain.ProviderPayPal
				return record, nil
			},
		},
		PayPal: &stubCapturer{
			captureFunc: func(_ context.Context, orderID string) (domain.PayPalDetails, error) {
				if orderID != "EC-ABC123" {
					t.Fatalf("unexpected paypal order id %s", orderID)
				}
				return domain.PayPalDetails{OrderID: orderID, CaptureID: "CAP-XYZ", Status: "COMPLETED"}, nil
			},
		},
		Orders: &stubOrderCreator{
			createFunc: func(_ context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
				orderCmd = cmd
				return CreateOrderResult{OrderID: "99"}, nil
			},
		},
	})

	result, err := service.Reconcile(context.Background(), ReconcileCommand{
		PaymentMethod: "paypal",
		PayPalToken:   "EC-ABC123",
		PayerID:       "PAYER77",
		TransactionID: transactionID,
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.OrderID != "99" {
		t.Fatalf("unexpected result %#v", result)
	}
	if orderCmd.Provider != domain.ProviderPayPal || orderCmd.MethodType != domain.PaymentMethodPayPal {
		t.Fatalf("unexpected provider tagging %#v", orderCmd)
	}
	if orderCmd.PayPal == nil || orderCmd.PayPal.CaptureID != "CAP-XYZ" {
		t.Fatalf("expected capture details, got %#v", orderCmd.PayPal)
	}
	if orderCmd.PayPal.PayerID != "PAYER77" {
		t.Fatalf("expected payer id from return params, got %s", orderCmd.PayPal.PayerID)
	}
}

func TestReconcileClassification(t *testing.T) {
	cases := []struct {
		name string
		cmd  ReconcileCommand
		want reconcileFlow
	}{
		{
			name: "paypal token",
			cmd:  ReconcileCommand{PaymentMethod: "paypal", PayPalToken: "EC-1"},
			want: flowPayPal,
		},
		{
			name: "paypal payer id only",
			cmd:  ReconcileCommand{PaymentMethod: "paypal", PayerID: "P1"},
			want: flowPayPal,
		},
		{
			name: "bnpl intent",
			cmd:  ReconcileCommand{PaymentMethod: "afterpay_clearpay", PaymentIntentID: "pi_1"},
			want: flowBNPL,
		},
		{
			name: "zip intent",
			cmd:  ReconcileCommand{PaymentMethod: "zip", PaymentIntentID: "pi_1"},
			want: flowBNPL,
		},
		{
			name: "card intent",
			cmd:  ReconcileCommand{PaymentMethod: "card", PaymentIntentID: "pi_1"},
			want: flowCard,
		},
		{
			name: "intent without method",
			cmd:  ReconcileCommand{PaymentIntentID: "pi_1"},
			want: flowCard,
		},
		{
			name: "paypal without token",
			cmd:  ReconcileCommand{PaymentMethod: "paypal"},
			want: flowUnknown,
		},
		{
			name: "nothing",
			cmd:  ReconcileCommand{},
			want: flowUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyReturn(tc.cmd); got != tc.want {
				t.Fatalf("expected flow %d, got %d", tc.want, got)
			}
		})
	}
}

func TestReconcileUnknownParams(t *testing.T) {
	service := newReconcileService(t, ReconciliationServiceDeps{})
	_, err := service.Reconcile(context.Background(), ReconcileCommand{PaymentMethod: "paypal"})
	if !errors.Is(err, ErrReconcileInvalidInput) {
		t.Fatalf("expected ErrReconcileInvalidInput, got %v", err)
	}
}

func TestReconcileMissingPending(t *testing.T) {
	aborted := false
	service := newReconcileService(t, ReconciliationServiceDeps{
		Markers: &stubMarkers{
			abortFunc: func(context.Context, string, string) error {
				aborted = true
				return nil
			},
		},
		Pending: &stubPendingRepository{
			getFunc: func(context.Context, string) (domain.PendingCheckout, error) {
				return domain.PendingCheckout{}, notFoundRepoError{}
			},
		},
	})

	_, err := service.Reconcile(context.Background(), ReconcileCommand{
		PaymentIntentID: "pi_3Test",
		PaymentMethod:   "card",
		TransactionID:   "card-1746522000000-x9abc",
	})
	if !errors.Is(err, ErrReconcileNotFound) {
		t.Fatalf("expected ErrReconcileNotFound, got %v", err)
	}
	if !aborted {
		t.Fatal("expected marker aborted when pending record is missing")
	}
}

type notFoundRepoError struct{}

func (notFoundRepoError) Error() string        { return "not found" }
func (notFoundRepoError) IsNotFound() bool     { return true }
func (notFoundRepoError) IsConflict() bool     { return false }
func (notFoundRepoError) IsUnavailable() bool  { return false }
