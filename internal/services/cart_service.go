package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/meridian-goods/api/internal/commerce"
	domain "github.com/meridian-goods/api/internal/domain"
)

var (
	// ErrCartInvalidInput indicates a malformed cart mutation.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartRejected indicates the commerce backend refused the mutation,
	// e.g. an unknown product or an invalid coupon code.
	ErrCartRejected = errors.New("cart: rejected")
	// ErrCartUnavailable indicates the commerce backend could not be reached.
	ErrCartUnavailable = errors.New("cart: unavailable")
)

// cartCommerceClient abstracts the commerce client's cart surface for testing.
type cartCommerceClient interface {
	Cart(ctx context.Context, sessionToken string) (domain.Cart, string, error)
	AddToCart(ctx context.Context, sessionToken string, productID, quantity int) (domain.Cart, string, error)
	UpdateItemQuantities(ctx context.Context, sessionToken string, quantities map[string]int) (domain.Cart, string, error)
	RemoveItems(ctx context.Context, sessionToken string, keys []string) (domain.Cart, string, error)
	ApplyCoupon(ctx context.Context, sessionToken, code string) (domain.Cart, string, error)
	RemoveCoupons(ctx context.Context, sessionToken string, codes []string) (domain.Cart, string, error)
}

// CartServiceDeps wires the dependencies required by the cart service.
type CartServiceDeps struct {
	Commerce cartCommerceClient
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	commerce cartCommerceClient
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewCartService constructs a CartService validating required dependencies.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Commerce == nil {
		return nil, errors.New("cart service: commerce client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartService{commerce: deps.Commerce, logger: logger}, nil
}

func (s *cartService) GetCart(ctx context.Context, sessionToken string) (CartView, error) {
	cart, rotated, err := s.commerce.Cart(ctx, sessionToken)
	return s.view(ctx, "cart.fetch", sessionToken, cart, rotated, err)
}

func (s *cartService) AddItem(ctx context.Context, sessionToken string, productID, quantity int) (CartView, error) {
	if productID <= 0 || quantity <= 0 {
		return CartView{}, fmt.Errorf("%w: product id and quantity must be positive", ErrCartInvalidInput)
	}
	cart, rotated, err := s.commerce.AddToCart(ctx, sessionToken, productID, quantity)
	return s.view(ctx, "cart.add", sessionToken, cart, rotated, err)
}

func (s *cartService) UpdateQuantities(ctx context.Context, sessionToken string, quantities map[string]int) (CartView, error) {
	if len(quantities) == 0 {
		return CartView{}, fmt.Errorf("%w: no items supplied", ErrCartInvalidInput)
	}
	for key, quantity := range quantities {
		if strings.TrimSpace(key) == "" || quantity < 0 {
			return CartView{}, fmt.Errorf("%w: item key and quantity must be valid", ErrCartInvalidInput)
		}
	}
	cart, rotated, err := s.commerce.UpdateItemQuantities(ctx, sessionToken, quantities)
	return s.view(ctx, "cart.update", sessionToken, cart, rotated, err)
}

func (s *cartService) RemoveItems(ctx context.Context, sessionToken string, keys []string) (CartView, error) {
	if len(keys) == 0 {
		return CartView{}, fmt.Errorf("%w: no item keys supplied", ErrCartInvalidInput)
	}
	cart, rotated, err := s.commerce.RemoveItems(ctx, sessionToken, keys)
	return s.view(ctx, "cart.remove", sessionToken, cart, rotated, err)
}

func (s *cartService) ApplyCoupon(ctx context.Context, sessionToken, code string) (CartView, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return CartView{}, fmt.Errorf("%w: coupon code is required", ErrCartInvalidInput)
	}
	cart, rotated, err := s.commerce.ApplyCoupon(ctx, sessionToken, code)
	return s.view(ctx, "cart.coupon.apply", sessionToken, cart, rotated, err)
}

func (s *cartService) RemoveCoupons(ctx context.Context, sessionToken string, codes []string) (CartView, error) {
	if len(codes) == 0 {
		return CartView{}, fmt.Errorf("%w: no coupon codes supplied", ErrCartInvalidInput)
	}
	cart, rotated, err := s.commerce.RemoveCoupons(ctx, sessionToken, codes)
	return s.view(ctx, "cart.coupon.remove", sessionToken, cart, rotated, err)
}

// view normalises the (cart, rotated session, error) triple every commerce
// cart call returns into a CartView or a service sentinel.
func (s *cartService) view(ctx context.Context, event, sessionToken string, cart domain.Cart, rotated string, err error) (CartView, error) {
	if err != nil {
		var gqlErr *commerce.GraphQLError
		if errors.As(err, &gqlErr) {
			s.logger(ctx, event+".rejected", map[string]any{"error": err.Error()})
			return CartView{}, fmt.Errorf("%w: %v", ErrCartRejected, err)
		}
		s.logger(ctx, event+".failed", map[string]any{"error": err.Error()})
		return CartView{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	if rotated == "" {
		rotated = sessionToken
	}
	return CartView{Cart: cart, SessionToken: rotated}, nil
}
