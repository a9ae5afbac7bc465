// Package payments wraps the payment service providers: Stripe for card and
// BNPL rails, PayPal for its hosted checkout. Providers normalise PSP payloads
// into the small set of fields reconciliation needs.
package payments

import (
	"strings"
	"time"

	"github.com/meridian-goods/api/internal/domain"
)

// Intent statuses a reconciliation attempt accepts as payment-in-good-standing.
// processing covers BNPL rails that settle asynchronously; requires_capture
// covers manual-capture configurations.
var acceptableIntentStatuses = map[string]bool{
	"succeeded":        true,
	"processing":       true,
	"requires_capture": true,
}

// IntentStatusAcceptable reports whether an intent status permits order creation.
func IntentStatusAcceptable(status string) bool {
	return acceptableIntentStatuses[strings.ToLower(strings.TrimSpace(status))]
}

// IntentRequest is the payload for creating a Stripe PaymentIntent.
type IntentRequest struct {
	AmountMinor    int64
	Currency       string
	Method         domain.PaymentMethodType
	ReceiptEmail   string
	Metadata       map[string]string
	IdempotencyKey string
}

// Intent is the created PaymentIntent handed back to the storefront.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
}

// PaymentDetails normalises a provider's view of a payment for reconciliation.
type PaymentDetails struct {
	Provider domain.PaymentProvider
	ID       string
	// Status is the provider's own status string, not a normalised enum;
	// reconciliation matches on the provider's vocabulary.
	Status      string
	AmountMinor int64
	Currency    string
	// MethodType is the payment method the provider reports was actually used.
	// It always wins over whatever the client echoed through the return URL.
	MethodType domain.PaymentMethodType
	Metadata   map[string]string
	CreatedAt  time.Time
}
