package domain

import (
	"strings"
	"time"
)

// PaymentMethodType identifies the rail the shopper paid with.
type PaymentMethodType string

const (
	PaymentMethodCard     PaymentMethodType = "card"
	PaymentMethodAfterpay PaymentMethodType = "afterpay_clearpay"
	PaymentMethodZip      PaymentMethodType = "zip"
	PaymentMethodPayPal   PaymentMethodType = "paypal"
)

// BNPLMethods lists the Stripe payment methods that settle through an external redirect.
var BNPLMethods = map[PaymentMethodType]bool{
	PaymentMethodAfterpay: true,
	PaymentMethodZip:      true,
}

// ParsePaymentMethodType normalises a client or provider supplied method string.
// Unknown values fall back to card so that orders are never dropped on the floor
// for a method Stripe added after this code shipped.
func ParsePaymentMethodType(raw string) PaymentMethodType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(PaymentMethodAfterpay), "afterpay", "clearpay":
		return PaymentMethodAfterpay
	case string(PaymentMethodZip):
		return PaymentMethodZip
	case string(PaymentMethodPayPal):
		return PaymentMethodPayPal
	default:
		return PaymentMethodCard
	}
}

// IsBNPL reports whether the method requires an external redirect before settling.
func (t PaymentMethodType) IsBNPL() bool {
	return BNPLMethods[t]
}

// PaymentProvider tags which PSP owns a payment identifier. The tag is stamped
// when the intent or order is created and threaded through unchanged.
type PaymentProvider string

const (
	ProviderStripe PaymentProvider = "stripe"
	ProviderPayPal PaymentProvider = "paypal"
)

// ClassifyPaymentID is the legacy fallback for records that predate the
// explicit provider tag: PayPal identifiers carry well-known substrings.
func ClassifyPaymentID(paymentID string) PaymentProvider {
	id := strings.TrimSpace(paymentID)
	if strings.Contains(id, "PAY-") || strings.Contains(id, "PAYID-") || strings.Contains(id, "EC-") {
		return ProviderPayPal
	}
	return ProviderStripe
}

// Gateway identifiers expected by the commerce backend's checkout mutation.
const (
	GatewayStripe = "stripe"
	GatewayPayPal = "ppcp-gateway"
)

// GatewayForMethod maps a payment method type onto the commerce gateway id.
func GatewayForMethod(method PaymentMethodType) string {
	if method == PaymentMethodPayPal {
		return GatewayPayPal
	}
	return GatewayStripe
}

// Address is a postal address as accepted by the commerce backend.
type Address struct {
	FirstName string `json:"firstName" firestore:"firstName"`
	LastName  string `json:"lastName" firestore:"lastName"`
	Line1     string `json:"address1" firestore:"address1"`
	Line2     string `json:"address2,omitempty" firestore:"address2,omitempty"`
	City      string `json:"city" firestore:"city"`
	State     string `json:"state" firestore:"state"`
	Postcode  string `json:"postcode" firestore:"postcode"`
	Country   string `json:"country" firestore:"country"`
}

// IsZero reports whether no field of the address has been populated.
func (a Address) IsZero() bool {
	return a == Address{}
}

// CustomerInfo is the billing/shipping snapshot captured by the checkout form.
type CustomerInfo struct {
	FirstName        string   `json:"firstName" firestore:"firstName"`
	LastName         string   `json:"lastName" firestore:"lastName"`
	Email            string   `json:"email" firestore:"email"`
	Phone            string   `json:"phone,omitempty" firestore:"phone,omitempty"`
	Shipping         Address  `json:"shipping" firestore:"shipping"`
	Billing          *Address `json:"billing,omitempty" firestore:"billing,omitempty"`
	BillingDifferent bool     `json:"billingDifferent" firestore:"billingDifferent"`
	Note             string   `json:"note,omitempty" firestore:"note,omitempty"`
}

// EffectiveBilling returns the billing address, falling back to shipping when
// the shopper did not supply a separate one.
func (c CustomerInfo) EffectiveBilling() Address {
	if c.BillingDifferent && c.Billing != nil && !c.Billing.IsZero() {
		return *c.Billing
	}
	return c.Shipping
}

// PendingCheckoutStatus tracks the checkout session through its lifecycle.
type PendingCheckoutStatus string

const (
	PendingStatusCreated       PendingCheckoutStatus = "created"
	PendingStatusIntentCreated PendingCheckoutStatus = "intent_created"
	PendingStatusRedirected    PendingCheckoutStatus = "provider_redirected"
	PendingStatusCaptured      PendingCheckoutStatus = "captured"
	PendingStatusOrderCreated  PendingCheckoutStatus = "order_created"
	PendingStatusFailed        PendingCheckoutStatus = "failed"
	PendingStatusAbandoned     PendingCheckoutStatus = "abandoned"
)

// PendingCheckout is the authoritative server-side record bridging checkout
// submission and payment reconciliation. The transaction id is the sole
// correlation key and must survive every hop unchanged.
type PendingCheckout struct {
	TransactionID    string                `json:"transactionId" firestore:"transactionId"`
	UniqueMutationID string                `json:"uniqueMutationId" firestore:"uniqueMutationId"`
	Customer         CustomerInfo          `json:"customerInfo" firestore:"customerInfo"`
	Method           PaymentMethodType     `json:"paymentMethodType" firestore:"paymentMethodType"`
	Provider         PaymentProvider       `json:"provider" firestore:"provider"`
	PaymentID        string                `json:"paymentId,omitempty" firestore:"paymentId,omitempty"`
	WooSession       string                `json:"wooSession,omitempty" firestore:"wooSession,omitempty"`
	Status           PendingCheckoutStatus `json:"status" firestore:"status"`
	AmountMinor      int64                 `json:"amountMinor" firestore:"amountMinor"`
	Currency         string                `json:"currency" firestore:"currency"`
	CreatedAt        time.Time             `json:"createdAt" firestore:"createdAt"`
	UpdatedAt        time.Time             `json:"updatedAt" firestore:"updatedAt"`
	ExpiresAt        time.Time             `json:"expiresAt" firestore:"expiresAt"`
}

// CorrelationID returns the transaction id, falling back to the unique
// mutation id when only the latter was echoed back by the provider.
func (p PendingCheckout) CorrelationID() string {
	if id := strings.TrimSpace(p.TransactionID); id != "" {
		return id
	}
	return strings.TrimSpace(p.UniqueMutationID)
}

// CartItem is a line in the shopper's cart as reported by the commerce backend.
type CartItem struct {
	Key       string `json:"key"`
	ProductID int    `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	// Amounts are minor units; the commerce backend reports formatted strings
	// which the client normalises on decode.
	UnitPrice int64  `json:"unitPrice"`
	Subtotal  int64  `json:"subtotal"`
	Total     int64  `json:"total"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

// AppliedCoupon records a coupon attached to the cart.
type AppliedCoupon struct {
	Code           string `json:"code"`
	DiscountAmount int64  `json:"discountAmount"`
}

// Cart is the snapshot cached per session and re-fetched after invalidating actions.
type Cart struct {
	Items    []CartItem      `json:"items"`
	Coupons  []AppliedCoupon `json:"coupons,omitempty"`
	Subtotal int64           `json:"subtotal"`
	Discount int64           `json:"discount"`
	Shipping int64           `json:"shipping"`
	Tax      int64           `json:"tax"`
	Total    int64           `json:"total"`
	Currency string          `json:"currency"`
	IsEmpty  bool            `json:"isEmpty"`
}

// PayPalDetails carries the capture result into order creation.
type PayPalDetails struct {
	OrderID   string `json:"orderId"`
	CaptureID string `json:"captureId"`
	PayerID   string `json:"payerId,omitempty"`
	Status    string `json:"status,omitempty"`
}

// OrderStatus mirrors the commerce backend's order states.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusOnHold     OrderStatus = "on-hold"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
	OrderStatusFailed     OrderStatus = "failed"
)

// OrderLineItem is a purchased line on a created order.
type OrderLineItem struct {
	ProductID int    `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Total     int64  `json:"total"`
}

// Order is the read model for confirmation/tracking/detail views. The commerce
// backend owns the order; this system never mutates one after creation.
type Order struct {
	ID            string          `json:"id"`
	DatabaseID    int             `json:"databaseId"`
	OrderNumber   string          `json:"orderNumber"`
	Status        OrderStatus     `json:"status"`
	Currency      string          `json:"currency"`
	Total         int64           `json:"total"`
	Subtotal      int64           `json:"subtotal"`
	ShippingTotal int64           `json:"shippingTotal"`
	TaxTotal      int64           `json:"taxTotal"`
	DiscountTotal int64           `json:"discountTotal"`
	PaymentMethod string          `json:"paymentMethod"`
	TransactionID string          `json:"transactionId,omitempty"`
	Customer      CustomerInfo    `json:"customer"`
	LineItems     []OrderLineItem `json:"lineItems"`
	Tracking      []TrackingEvent `json:"tracking,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// TrackingEvent is a fulfilment milestone surfaced on the tracking view.
type TrackingEvent struct {
	Status      string    `json:"status"`
	Description string    `json:"description,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// CheckoutInitiation is what checkout initiation hands back to the client:
// a Stripe client secret, or a PayPal approval redirect.
type CheckoutInitiation struct {
	TransactionID string            `json:"transactionId"`
	Provider      PaymentProvider   `json:"provider"`
	Method        PaymentMethodType `json:"paymentMethodType"`
	PaymentID     string            `json:"paymentId"`
	ClientSecret  string            `json:"clientSecret,omitempty"`
	ApprovalURL   string            `json:"approvalUrl,omitempty"`
	CancelURL     string            `json:"cancelUrl,omitempty"`
	ExpiresAt     time.Time         `json:"expiresAt"`
}
