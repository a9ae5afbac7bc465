package commerce

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/meridian-goods/api/internal/domain"
)

const orderFields = `
  id
  databaseId
  orderNumber
  status
  currency
  date
  total(format: RAW)
  subtotal(format: RAW)
  shippingTotal(format: RAW)
  totalTax(format: RAW)
  discountTotal(format: RAW)
  paymentMethod
  transactionId
  billing { firstName lastName email phone }
  shipping { firstName lastName address1 address2 city state postcode country }
  lineItems {
    nodes {
      quantity
      total(format: RAW)
      product { node { databaseId name } }
    }
  }
  metaData(keysIn: ["tracking_events"]) { key value }`

type orderPayload struct {
	ID            string `json:"id"`
	DatabaseID    int    `json:"databaseId"`
	OrderNumber   string `json:"orderNumber"`
	Status        string `json:"status"`
	Currency      string `json:"currency"`
	Date          string `json:"date"`
	Total         string `json:"total"`
	Subtotal      string `json:"subtotal"`
	ShippingTotal string `json:"shippingTotal"`
	TotalTax      string `json:"totalTax"`
	DiscountTotal string `json:"discountTotal"`
	PaymentMethod string `json:"paymentMethod"`
	TransactionID string `json:"transactionId"`
	Billing       struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
		Phone     string `json:"phone"`
	} `json:"billing"`
	Shipping  domain.Address `json:"shipping"`
	LineItems struct {
		Nodes []struct {
			Quantity int    `json:"quantity"`
			Total    string `json:"total"`
			Product  struct {
				Node struct {
					DatabaseID int    `json:"databaseId"`
					Name       string `json:"name"`
				} `json:"node"`
			} `json:"product"`
		} `json:"nodes"`
	} `json:"lineItems"`
	MetaData []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"metaData"`
}

func (p orderPayload) toDomain() domain.Order {
	order := domain.Order{
		ID:            p.ID,
		DatabaseID:    p.DatabaseID,
		OrderNumber:   p.OrderNumber,
		Status:        domain.OrderStatus(strings.ToLower(p.Status)),
		Currency:      p.Currency,
		Total:         parseAmountMinor(p.Total),
		Subtotal:      parseAmountMinor(p.Subtotal),
		ShippingTotal: parseAmountMinor(p.ShippingTotal),
		TaxTotal:      parseAmountMinor(p.TotalTax),
		DiscountTotal: parseAmountMinor(p.DiscountTotal),
		PaymentMethod: p.PaymentMethod,
		TransactionID: p.TransactionID,
		Customer: domain.CustomerInfo{
			FirstName: p.Billing.FirstName,
			LastName:  p.Billing.LastName,
			Email:     p.Billing.Email,
			Phone:     p.Billing.Phone,
			Shipping:  p.Shipping,
		},
	}
	if ts, err := time.Parse(time.RFC3339, p.Date); err == nil {
		order.CreatedAt = ts.UTC()
	} else if ts, err := time.Parse("2006-01-02T15:04:05", p.Date); err == nil {
		order.CreatedAt = ts.UTC()
	}
	for _, node := range p.LineItems.Nodes {
		order.LineItems = append(order.LineItems, domain.OrderLineItem{
			ProductID: node.Product.Node.DatabaseID,
			Name:      node.Product.Node.Name,
			Quantity:  node.Quantity,
			Total:     parseAmountMinor(node.Total),
		})
	}
	for _, meta := range p.MetaData {
		if meta.Key != "tracking_events" {
			continue
		}
		var events []domain.TrackingEvent
		if err := json.Unmarshal([]byte(meta.Value), &events); err == nil {
			order.Tracking = append(order.Tracking, events...)
		}
	}
	return order
}

// Orders lists the signed-in customer's orders, newest first.
func (c *Client) Orders(ctx context.Context, sessionToken, authToken string) ([]domain.Order, string, error) {
	const query = `query CustomerOrders {
  customer {
    orders(first: 50, where: {orderby: {field: DATE, order: DESC}}) {
      nodes {` + orderFields + ` }
    }
  }
}`
	var data struct {
		Customer struct {
			Orders struct {
				Nodes []orderPayload `json:"nodes"`
			} `json:"orders"`
		} `json:"customer"`
	}
	session, err := c.do(ctx, callOptions{sessionToken: sessionToken, authToken: authToken}, "customerOrders", query, nil, &data)
	if err != nil {
		return nil, session, fmt.Errorf("list orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(data.Customer.Orders.Nodes))
	for _, node := range data.Customer.Orders.Nodes {
		orders = append(orders, node.toDomain())
	}
	return orders, session, nil
}

// Order fetches a single order by its database id.
func (c *Client) Order(ctx context.Context, sessionToken, authToken string, orderID int) (domain.Order, string, error) {
	const query = `query Order($id: ID!) {
  order(id: $id, idType: DATABASE_ID) {` + orderFields + ` }
}`
	var data struct {
		Order *orderPayload `json:"order"`
	}
	variables := map[string]any{"id": orderID}
	session, err := c.do(ctx, callOptions{sessionToken: sessionToken, authToken: authToken}, "order", query, variables, &data)
	if err != nil {
		return domain.Order{}, session, fmt.Errorf("fetch order: %w", err)
	}
	if data.Order == nil {
		return domain.Order{}, session, &GraphQLError{Messages: []string{"order not found"}}
	}
	return data.Order.toDomain(), session, nil
}
