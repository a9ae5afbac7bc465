package commerce

import (
	"context"
	"fmt"

	"github.com/meridian-goods/api/internal/domain"
)

const cartFields = `
  contents {
    nodes {
      key
      quantity
      subtotal(format: RAW)
      total(format: RAW)
      product {
        node {
          databaseId
          name
          image { sourceUrl }
        }
      }
    }
  }
  appliedCoupons { code discountAmount(format: RAW) }
  subtotal(format: RAW)
  shippingTotal(format: RAW)
  totalTax(format: RAW)
  discountTotal(format: RAW)
  total(format: RAW)
  isEmpty`

const cartQuery = `query Cart { cart {` + cartFields + ` } }`

type cartPayload struct {
	Contents struct {
		Nodes []struct {
			Key      string `json:"key"`
			Quantity int    `json:"quantity"`
			Subtotal string `json:"subtotal"`
			Total    string `json:"total"`
			Product  struct {
				Node struct {
					DatabaseID int    `json:"databaseId"`
					Name       string `json:"name"`
					Image      struct {
						SourceURL string `json:"sourceUrl"`
					} `json:"image"`
				} `json:"node"`
			} `json:"product"`
		} `json:"nodes"`
	} `json:"contents"`
	AppliedCoupons []struct {
		Code           string `json:"code"`
		DiscountAmount string `json:"discountAmount"`
	} `json:"appliedCoupons"`
	Subtotal      string `json:"subtotal"`
	ShippingTotal string `json:"shippingTotal"`
	TotalTax      string `json:"totalTax"`
	DiscountTotal string `json:"discountTotal"`
	Total         string `json:"total"`
	IsEmpty       bool   `json:"isEmpty"`
}

func (p cartPayload) toDomain(currency string) domain.Cart {
	cart := domain.Cart{
		Subtotal: parseAmountMinor(p.Subtotal),
		Discount: parseAmountMinor(p.DiscountTotal),
		Shipping: parseAmountMinor(p.ShippingTotal),
		Tax:      parseAmountMinor(p.TotalTax),
		Total:    parseAmountMinor(p.Total),
		Currency: currency,
		IsEmpty:  p.IsEmpty,
	}
	for _, node := range p.Contents.Nodes {
		item := domain.CartItem{
			Key:       node.Key,
			ProductID: node.Product.Node.DatabaseID,
			Name:      node.Product.Node.Name,
			Quantity:  node.Quantity,
			Subtotal:  parseAmountMinor(node.Subtotal),
			Total:     parseAmountMinor(node.Total),
			ImageURL:  node.Product.Node.Image.SourceURL,
		}
		if node.Quantity > 0 {
			item.UnitPrice = item.Subtotal / int64(node.Quantity)
		}
		cart.Items = append(cart.Items, item)
	}
	for _, coupon := range p.AppliedCoupons {
		cart.Coupons = append(cart.Coupons, domain.AppliedCoupon{
			Code:           coupon.Code,
			DiscountAmount: parseAmountMinor(coupon.DiscountAmount),
		})
	}
	if len(cart.Items) == 0 {
		cart.IsEmpty = true
	}
	return cart
}

// Cart fetches the session's cart snapshot.
func (c *Client) Cart(ctx context.Context, sessionToken string) (domain.Cart, string, error) {
	var data struct {
		Cart cartPayload `json:"cart"`
	}
	session, err := c.do(ctx, callOptions{sessionToken: sessionToken}, "cart", cartQuery, nil, &data)
	if err != nil {
		return domain.Cart{}, session, err
	}
	return data.Cart.toDomain(""), session, nil
}

// AddToCart adds a product to the session's cart and returns the new snapshot.
func (c *Client) AddToCart(ctx context.Context, sessionToken string, productID, quantity int) (domain.Cart, string, error) {
	const mutation = `mutation AddToCart($input: AddToCartInput!) {
  addToCart(input: $input) { cart {` + cartFields + ` } }
}`
	if quantity <= 0 {
		quantity = 1
	}
	var data struct {
		AddToCart struct {
			Cart cartPayload `json:"cart"`
		} `json:"addToCart"`
	}
	variables := map[string]any{
		"input": map[string]any{"productId": productID, "quantity": quantity},
	}
	session, err := c.do(ctx, callOptions{sessionToken: sessionToken}, "addToCart", mutation, variables, &data)
	if err != nil {
		return domain.Cart{}, session, err
	}
	return data.AddToCart.Cart.toDomain(""), session, nil
}

// UpdateItemQuantities adjusts item quantities by cart item key.
func (c *Client) UpdateItemQuantities(ctx context.Context, sessionToken string, quantities map[string]int) (domain.Cart, string, error) {
	const mutation = `mutation UpdateItemQuantities($input: UpdateItemQuantitiesInput!) {
  updateItemQuantities(input: $input) { cart {` + cartFields + ` } }
}`
	items := make([]map[string]any, 0, len(quantities))
	for key, quantity := range quantities {
		items = append(items, map[string]any{"key": key, "quantity": quantity})
	}
	var data struct {
		UpdateItemQuantities struct {
			Cart cartPayload `json:"cart"`
		} `json:"updateItemQuantities"`
	}
	variables := map[string]any{"input": map[string]any{"items": items}}
	session, err := c.do(ctx, callOptions{sessionToken: sessionToken}, "updateItemQuantities", mutation, variables, &data)
	if err != nil {
		return domain.Cart{}, session, err
	}
	return data.UpdateItemQuantities.Cart.toDomain(""), session, nil
}

// RemoveItems removes cart lines by key.
func (c *Client) RemoveItems(ctx context.Context, sessionToken string, keys []string) (domain.Cart, string, error) {
	const mutation = `mutation RemoveItemsFromCart($input: RemoveItemsFromCartInput!) {
  removeItemsFromCart(input: $input) { cart {` + cartFields + ` } }
}`
	var data struct {
		RemoveItemsFromCart struct {
			Cart cartPayload `json:"cart"`
		} `json:"removeItemsFromCart"`
	}
	variables := map[string]any{"input": map[string]any{"keys": keys}}
	session, err := c.do(ctx, callOptions{sessionToken: sessionToken}, "removeItemsFromCart", mutation, variables, &data)
	if err != nil {
		return domain.Cart{}, session, err
	}
	return data.RemoveItemsFromCart.Cart.toDomain(""), session, nil
}

// ApplyCoupon attaches a coupon code to the cart.
func (c *Client) ApplyCoupon(ctx context.Context, sessionToken, code string) (domain.Cart, string, error) {
	const mutation = `mutation ApplyCoupon($input: ApplyCouponInput!) {
  applyCoupon(input: $input) { cart {` + cartFields + ` } }
}`
	var data struct {
		ApplyCoupon struct {
			Cart cartPayload `json:"cart"`
		} `json:"applyCoupon"`
	}
	variables := map[string]any{"input": map[string]any{"code": code}}
	session, err := c.do(ctx, callOptions{sessionToken: sessionToken}, "applyCoupon", mutation, variables, &data)
	if err != nil {
		return domain.Cart{}, session, err
	}
	return data.ApplyCoupon.Cart.toDomain(""), session, nil
}

// RemoveCoupons detaches coupon codes from the cart.
func (c *Client) RemoveCoupons(ctx context.Context, sessionToken string, codes []string) (domain.Cart, string, error) {
	const mutation = `mutation RemoveCoupons($input: RemoveCouponsInput!) {
  removeCoupons(input: $input) { cart {` + cartFields + ` } }
}`
	var data struct {
		RemoveCoupons struct {
			Cart cartPayload `json:"cart"`
		} `json:"removeCoupons"`
	}
	variables := map[string]any{"input": map[string]any{"codes": codes}}
	session, err := c.do(ctx, callOptions{sessionToken: sessionToken}, "removeCoupons", mutation, variables, &data)
	if err != nil {
		return domain.Cart{}, session, err
	}
	return data.RemoveCoupons.Cart.toDomain(""), session, nil
}

// EmptyCart clears every line from the session's cart.
func (c *Client) EmptyCart(ctx context.Context, sessionToken string) (string, error) {
	const mutation = `mutation EmptyCart($input: EmptyCartInput!) {
  emptyCart(input: $input) { clientMutationId }
}`
	variables := map[string]any{"input": map[string]any{"clearPersistentCart": true}}
	session, err := c.do(ctx, callOptions{sessionToken: sessionToken}, "emptyCart", mutation, variables, nil)
	if err != nil {
		return session, fmt.Errorf("empty cart: %w", err)
	}
	return session, nil
}
