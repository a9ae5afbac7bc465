package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/meridian-goods/api/internal/domain"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Update(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	Clock    func() time.Time
	Clients  *stripeClients
}

// StripeProvider creates and inspects PaymentIntents for the card and BNPL rails.
type StripeProvider struct {
	api    stripeClients
	clock  func() time.Time
	logger StripeLogger
}

// NewStripeProvider constructs a Stripe provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{intents: sc.PaymentIntents}
	}
	if clients.intents == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api: clients,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateIntent creates a PaymentIntent and returns its client secret. Automatic
// payment methods are enabled so one intent serves card and the BNPL rails; the
// shopper's choice happens in the payment element, and the provider's own record
// of what was used is read back during reconciliation.
func (p *StripeProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: provider is nil")
	}
	if req.AmountMinor <= 0 {
		return Intent{}, errors.New("stripe: intent amount must be positive")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if email := strings.TrimSpace(req.ReceiptEmail); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
		"currency":      intent.Currency,
		"method":        string(req.Method),
	})

	return Intent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       string(intent.Status),
	}, nil
}

// LookupIntent retrieves a PaymentIntent with its payment method expanded so
// callers see the method the shopper actually paid with.
func (p *StripeProvider) LookupIntent(ctx context.Context, intentID string) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("payment_method")

	intent, err := p.api.intents.Get(intentID, params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	return stripePaymentDetails(intent), nil
}

// UpdateIntentMetadata merges the given entries into the intent's metadata.
// Used for the post-order order_id write-back; callers treat failures as
// best-effort.
func (p *StripeProvider) UpdateIntentMetadata(ctx context.Context, intentID string, metadata map[string]string) error {
	if p == nil {
		return errors.New("stripe: provider is nil")
	}
	if len(metadata) == 0 {
		return nil
	}

	params := &stripe.PaymentIntentParams{
		Metadata: make(map[string]string, len(metadata)),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.Metadata[k] = v
	}

	if _, err := p.api.intents.Update(intentID, params); err != nil {
		return fmt.Errorf("stripe: update intent metadata: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.metadata_updated", map[string]any{
		"paymentIntent": intentID,
	})
	return nil
}

func stripePaymentDetails(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{}
	}

	details := PaymentDetails{
		Provider:    domain.ProviderStripe,
		ID:          intent.ID,
		Status:      string(intent.Status),
		AmountMinor: intent.Amount,
		Currency:    strings.ToUpper(string(intent.Currency)),
		CreatedAt:   time.Unix(intent.Created, 0).UTC(),
	}

	if len(intent.Metadata) > 0 {
		details.Metadata = make(map[string]string, len(intent.Metadata))
		for k, v := range intent.Metadata {
			details.Metadata[k] = v
		}
	}

	if intent.PaymentMethod != nil {
		details.MethodType = domain.ParsePaymentMethodType(string(intent.PaymentMethod.Type))
	} else {
		details.MethodType = domain.PaymentMethodCard
	}

	return details
}
