package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type paypalStub struct {
	tokenCalls   int
	captureCalls int
	captureBody  string
}

func newPayPalStub(t *testing.T) (*PayPalProvider, *paypalStub) {
	t.Helper()
	stub := &paypalStub{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v1/oauth2/token":
			stub.tokenCalls++
			user, pass, ok := r.BasicAuth()
			if !ok || user != "client-id" || pass != "client-secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":3600}`))
		case r.URL.Path == "/v2/checkout/orders" && r.Method == http.MethodPost:
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["intent"] != "CAPTURE" {
				t.Errorf("expected CAPTURE intent, got %v", body["intent"])
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"EC-ABC","status":"CREATED","links":[
				{"href":"https://paypal.test/self","rel":"self"},
				{"href":"https://paypal.test/approve?token=EC-ABC","rel":"approve"}]}`))
		case r.URL.Path == "/v2/checkout/orders/EC-ABC/capture":
			stub.captureCalls++
			if stub.captureBody == "" {
				stub.captureBody = `{"id":"EC-ABC","status":"COMPLETED","payer":{"payer_id":"XYZ"},
					"purchase_units":[{"payments":{"captures":[{"id":"CAP-1","status":"COMPLETED"}]}}]}`
			}
			_, _ = w.Write([]byte(stub.captureBody))
		case r.URL.Path == "/v2/checkout/orders/EC-ABC":
			_, _ = w.Write([]byte(`{"id":"EC-ABC","status":"COMPLETED","payer":{"payer_id":"XYZ"},
				"purchase_units":[{"payments":{"captures":[{"id":"CAP-1","status":"COMPLETED"}]}}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	provider, err := NewPayPalProvider(PayPalProviderConfig{
		ClientID: "client-id",
		Secret:   "client-secret",
		BaseURL:  server.URL,
	})
	if err != nil {
		t.Fatalf("NewPayPalProvider: %v", err)
	}
	return provider, stub
}

func TestPayPalCreateOrderReturnsApprovalURL(t *testing.T) {
	provider, stub := newPayPalStub(t)

	order, err := provider.CreateOrder(context.Background(), PayPalOrderRequest{
		AmountMinor: 4850,
		Currency:    "AUD",
		ReferenceID: "paypal-1700000000000-x1",
		ReturnURL:   "https://shop.example.com/checkout/paypal-return",
		CancelURL:   "https://shop.example.com/checkout",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.OrderID != "EC-ABC" {
		t.Fatalf("unexpected order id %q", order.OrderID)
	}
	if order.ApprovalURL != "https://paypal.test/approve?token=EC-ABC" {
		t.Fatalf("unexpected approval url %q", order.ApprovalURL)
	}
	if stub.tokenCalls != 1 {
		t.Fatalf("expected one token fetch, got %d", stub.tokenCalls)
	}
}

func TestPayPalTokenIsCached(t *testing.T) {
	provider, stub := newPayPalStub(t)
	ctx := context.Background()

	req := PayPalOrderRequest{AmountMinor: 100, Currency: "AUD", ReturnURL: "https://r", CancelURL: "https://c"}
	if _, err := provider.CreateOrder(ctx, req); err != nil {
		t.Fatalf("first CreateOrder: %v", err)
	}
	if _, err := provider.CreateOrder(ctx, req); err != nil {
		t.Fatalf("second CreateOrder: %v", err)
	}
	if stub.tokenCalls != 1 {
		t.Fatalf("expected cached token to be reused, saw %d fetches", stub.tokenCalls)
	}
}

func TestPayPalCaptureOrder(t *testing.T) {
	provider, stub := newPayPalStub(t)

	details, err := provider.CaptureOrder(context.Background(), "EC-ABC")
	if err != nil {
		t.Fatalf("CaptureOrder: %v", err)
	}
	if details.CaptureID != "CAP-1" || details.PayerID != "XYZ" || details.Status != "COMPLETED" {
		t.Fatalf("unexpected details %+v", details)
	}
	if stub.captureCalls != 1 {
		t.Fatalf("expected one capture call, got %d", stub.captureCalls)
	}
}

func TestFormatMinor(t *testing.T) {
	cases := map[int64]string{
		4850:   "48.50",
		100:    "1.00",
		5:      "0.05",
		0:      "0.00",
		129995: "1299.95",
	}
	for amount, want := range cases {
		if got := formatMinor(amount); got != want {
			t.Errorf("formatMinor(%d) = %q, want %q", amount, got, want)
		}
	}
}
