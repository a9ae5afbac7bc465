package commerce

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/meridian-goods/api/internal/domain"
	"github.com/meridian-goods/api/internal/platform/textutil"
)

// ErrNoOrderID indicates the checkout mutation succeeded without returning an
// order id the caller can redirect to.
var ErrNoOrderID = errors.New("commerce: checkout returned no order id")

// CheckoutInput is the payload for the single order-creating mutation.
type CheckoutInput struct {
	ClientMutationID string
	Customer         domain.CustomerInfo
	Gateway          string
	TransactionID    string
	PaymentID        string
	IsPaid           bool
	Note             string
	Metadata         map[string]string
}

// CheckoutResult is the mutation outcome.
type CheckoutResult struct {
	OrderID     int
	OrderKey    string
	Result      string
	RedirectURL string
}

const checkoutMutation = `mutation Checkout($input: CheckoutInput!) {
  checkout(input: $input) {
    clientMutationId
    result
    redirect
    order {
      databaseId
      orderKey
    }
  }
}`

// Checkout submits the order-creating mutation. This is the only call in the
// system that creates an order; callers are responsible for invoking it at most
// once per transaction id.
func (c *Client) Checkout(ctx context.Context, sessionToken, authToken string, input CheckoutInput) (CheckoutResult, string, error) {
	if strings.TrimSpace(input.Gateway) == "" {
		return CheckoutResult{}, sessionToken, errors.New("commerce: checkout gateway is required")
	}

	billing := input.Customer.EffectiveBilling()
	vars := map[string]any{
		"clientMutationId": input.ClientMutationID,
		"paymentMethod":    input.Gateway,
		"isPaid":           input.IsPaid,
		"billing":          addressInput(billing, input.Customer),
		"shipping":         addressInput(input.Customer.Shipping, input.Customer),
		"shipToDifferentAddress": input.Customer.BillingDifferent ||
			billing != input.Customer.Shipping,
	}
	if note := strings.TrimSpace(input.Note); note != "" {
		vars["customerNote"] = note
	}

	meta := make([]map[string]string, 0, len(input.Metadata)+2)
	if id := strings.TrimSpace(input.TransactionID); id != "" {
		meta = append(meta, map[string]string{"key": "transaction_id", "value": id})
	}
	if id := strings.TrimSpace(input.PaymentID); id != "" {
		meta = append(meta, map[string]string{"key": "payment_id", "value": id})
	}
	for key, value := range textutil.NormalizeStringMap(input.Metadata) {
		meta = append(meta, map[string]string{"key": key, "value": value})
	}
	if len(meta) > 0 {
		vars["metaData"] = meta
	}

	var data struct {
		Checkout struct {
			Result   string `json:"result"`
			Redirect string `json:"redirect"`
			Order    *struct {
				DatabaseID int    `json:"databaseId"`
				OrderKey   string `json:"orderKey"`
			} `json:"order"`
		} `json:"checkout"`
	}
	session, err := c.do(ctx, callOptions{sessionToken: sessionToken, authToken: authToken}, "checkout", checkoutMutation, map[string]any{"input": vars}, &data)
	if err != nil {
		return CheckoutResult{}, session, fmt.Errorf("checkout mutation: %w", err)
	}

	result := CheckoutResult{
		Result:      data.Checkout.Result,
		RedirectURL: data.Checkout.Redirect,
	}
	if data.Checkout.Order != nil {
		result.OrderID = data.Checkout.Order.DatabaseID
		result.OrderKey = data.Checkout.Order.OrderKey
	}
	if result.OrderID == 0 {
		return result, session, ErrNoOrderID
	}
	return result, session, nil
}

func addressInput(addr domain.Address, customer domain.CustomerInfo) map[string]any {
	firstName := addr.FirstName
	lastName := addr.LastName
	if firstName == "" {
		firstName = customer.FirstName
	}
	if lastName == "" {
		lastName = customer.LastName
	}

	input := map[string]any{
		"firstName": firstName,
		"lastName":  lastName,
		"address1":  addr.Line1,
		"city":      addr.City,
		"state":     addr.State,
		"postcode":  addr.Postcode,
		"country":   addr.Country,
		"email":     customer.Email,
	}
	if addr.Line2 != "" {
		input["address2"] = addr.Line2
	}
	if customer.Phone != "" {
		input["phone"] = customer.Phone
	}
	return input
}
