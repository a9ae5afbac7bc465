package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/meridian-goods/api/internal/domain"
)

const (
	paypalSandboxBase = "https://api-m.sandbox.paypal.com"
	paypalLiveBase    = "https://api-m.paypal.com"

	paypalTimeout = 20 * time.Second
	// Tokens are refreshed a minute before PayPal's reported expiry.
	paypalTokenSlack = time.Minute
)

// ErrPayPalDeclined indicates PayPal rejected the operation for this order.
var ErrPayPalDeclined = errors.New("paypal: request declined")

// PayPalLogger defines the logging contract for PayPal provider operations.
type PayPalLogger func(ctx context.Context, event string, fields map[string]any)

// PayPalProviderConfig configures the PayPalProvider.
type PayPalProviderConfig struct {
	ClientID    string
	Secret      string
	Environment string // "sandbox" or "live"
	BaseURL     string // overrides Environment when set, for tests
	HTTPClient  *http.Client
	Logger      PayPalLogger
	Clock       func() time.Time
}

// PayPalProvider drives the PayPal Orders v2 API: create an order for the
// hosted approval flow, then capture it when the shopper returns.
type PayPalProvider struct {
	clientID string
	secret   string
	base     string
	http     *http.Client
	logger   PayPalLogger
	clock    func() time.Time

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// PayPalOrderRequest describes the order to create ahead of the approval redirect.
type PayPalOrderRequest struct {
	AmountMinor int64
	Currency    string
	ReferenceID string
	ReturnURL   string
	CancelURL   string
}

// PayPalOrder is the created order plus the approval URL to redirect the shopper to.
type PayPalOrder struct {
	OrderID     string
	Status      string
	ApprovalURL string
}

// NewPayPalProvider constructs a PayPal provider using the given configuration.
func NewPayPalProvider(cfg PayPalProviderConfig) (*PayPalProvider, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	secret := strings.TrimSpace(cfg.Secret)
	if clientID == "" || secret == "" {
		return nil, errors.New("paypal: client id and secret are required")
	}

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		if strings.EqualFold(strings.TrimSpace(cfg.Environment), "live") {
			base = paypalLiveBase
		} else {
			base = paypalSandboxBase
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: paypalTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &PayPalProvider{
		clientID: clientID,
		secret:   secret,
		base:     base,
		http:     httpClient,
		logger:   logger,
		clock:    clock,
	}, nil
}

// CreateOrder creates a CAPTURE-intent order and returns the approval URL.
func (p *PayPalProvider) CreateOrder(ctx context.Context, req PayPalOrderRequest) (PayPalOrder, error) {
	if p == nil {
		return PayPalOrder{}, errors.New("paypal: provider is nil")
	}
	if req.AmountMinor <= 0 {
		return PayPalOrder{}, errors.New("paypal: order amount must be positive")
	}

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.ReferenceID,
			"amount": map[string]string{
				"currency_code": strings.ToUpper(req.Currency),
				"value":         formatMinor(req.AmountMinor),
			},
		}},
		"application_context": map[string]string{
			"return_url":          req.ReturnURL,
			"cancel_url":          req.CancelURL,
			"user_action":         "PAY_NOW",
			"shipping_preference": "NO_SHIPPING",
		},
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Links  []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := p.call(ctx, http.MethodPost, "/v2/checkout/orders", body, &resp); err != nil {
		return PayPalOrder{}, fmt.Errorf("paypal: create order: %w", err)
	}

	order := PayPalOrder{OrderID: resp.ID, Status: resp.Status}
	for _, link := range resp.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			order.ApprovalURL = link.Href
			break
		}
	}
	if order.OrderID == "" || order.ApprovalURL == "" {
		return PayPalOrder{}, errors.New("paypal: create order returned no approval link")
	}

	p.logger(ctx, "payments.paypal.order.created", map[string]any{
		"orderId":   order.OrderID,
		"reference": req.ReferenceID,
	})
	return order, nil
}

// CaptureOrder captures an approved order exactly once. Capturing an already
// captured order maps PayPal's ORDER_ALREADY_CAPTURED response onto a lookup
// so replays still see the capture id.
func (p *PayPalProvider) CaptureOrder(ctx context.Context, orderID string) (domain.PayPalDetails, error) {
	if p == nil {
		return domain.PayPalDetails{}, errors.New("paypal: provider is nil")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.PayPalDetails{}, errors.New("paypal: order id is required")
	}

	var resp paypalOrderPayload
	err := p.call(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", map[string]any{}, &resp)
	if err != nil {
		var apiErr *paypalAPIError
		if errors.As(err, &apiErr) && apiErr.hasIssue("ORDER_ALREADY_CAPTURED") {
			return p.GetOrder(ctx, orderID)
		}
		return domain.PayPalDetails{}, fmt.Errorf("paypal: capture order: %w", err)
	}

	details := resp.toDetails(orderID)
	if details.CaptureID == "" {
		return details, ErrPayPalDeclined
	}

	p.logger(ctx, "payments.paypal.order.captured", map[string]any{
		"orderId":   details.OrderID,
		"captureId": details.CaptureID,
		"status":    details.Status,
	})
	return details, nil
}

// GetOrder fetches the current order state, including any existing capture.
func (p *PayPalProvider) GetOrder(ctx context.Context, orderID string) (domain.PayPalDetails, error) {
	if p == nil {
		return domain.PayPalDetails{}, errors.New("paypal: provider is nil")
	}

	var resp paypalOrderPayload
	if err := p.call(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil, &resp); err != nil {
		return domain.PayPalDetails{}, fmt.Errorf("paypal: get order: %w", err)
	}
	return resp.toDetails(orderID), nil
}

type paypalOrderPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Payer  struct {
		PayerID string `json:"payer_id"`
	} `json:"payer"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (r paypalOrderPayload) toDetails(fallbackID string) domain.PayPalDetails {
	details := domain.PayPalDetails{
		OrderID: r.ID,
		Status:  r.Status,
		PayerID: r.Payer.PayerID,
	}
	if details.OrderID == "" {
		details.OrderID = fallbackID
	}
	for _, unit := range r.PurchaseUnits {
		for _, capture := range unit.Payments.Captures {
			if capture.ID != "" {
				details.CaptureID = capture.ID
				if capture.Status != "" {
					details.Status = capture.Status
				}
				return details
			}
		}
	}
	return details
}

type paypalAPIError struct {
	Status  int
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue string `json:"issue"`
	} `json:"details"`
}

func (e *paypalAPIError) Error() string {
	if e == nil {
		return "paypal: api error"
	}
	return fmt.Sprintf("paypal: %s (%d): %s", e.Name, e.Status, e.Message)
}

func (e *paypalAPIError) hasIssue(issue string) bool {
	if e == nil {
		return false
	}
	for _, detail := range e.Details {
		if detail.Issue == issue {
			return true
		}
	}
	return false
}

func (p *PayPalProvider) call(ctx context.Context, method, path string, body, out any) error {
	token, err := p.accessToken(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &paypalAPIError{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Name == "" {
			apiErr.Name = "API_ERROR"
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// accessToken returns a cached client-credentials token, fetching a fresh one
// when the cache is empty or near expiry.
func (p *PayPalProvider) accessToken(ctx context.Context) (string, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()

	if p.token != "" && p.clock().Before(p.tokenExpiry) {
		return p.token, nil
	}

	form := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+"/v1/oauth2/token", form)
	if err != nil {
		return "", fmt.Errorf("paypal: build token request: %w", err)
	}
	req.SetBasicAuth(p.clientID, p.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal: token request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("paypal: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal: token endpoint returned status %d", resp.StatusCode)
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &token); err != nil {
		return "", fmt.Errorf("paypal: decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return "", errors.New("paypal: token response carried no access token")
	}

	p.token = token.AccessToken
	p.tokenExpiry = p.clock().Add(time.Duration(token.ExpiresIn)*time.Second - paypalTokenSlack)
	return p.token, nil
}

func formatMinor(amount int64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}
	value := fmt.Sprintf("%d.%02d", amount/100, amount%100)
	if negative {
		return "-" + value
	}
	return value
}
