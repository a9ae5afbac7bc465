package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-goods/api/internal/platform/auth"
	"github.com/meridian-goods/api/internal/platform/httpx"
	"github.com/meridian-goods/api/internal/platform/requestctx"
	"github.com/meridian-goods/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes the session-scoped cart endpoints.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers threading the storefront session before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.WithStorefrontSession())
	}
	r.Get("/", h.getCart)
	r.Post("/items", h.addItem)
	r.Patch("/items", h.updateItems)
	r.Delete("/items", h.removeItems)
	r.Post("/coupons", h.applyCoupon)
	r.Delete("/coupons", h.removeCoupons)
}

type addItemRequest struct {
	ProductID int `json:"productId"`
	Quantity  int `json:"quantity"`
}

type updateItemsRequest struct {
	Items map[string]int `json:"items"`
}

type removeItemsRequest struct {
	Keys []string `json:"keys"`
}

type applyCouponRequest struct {
	Code string `json:"code"`
}

type removeCouponsRequest struct {
	Codes []string `json:"codes"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.carts.GetCart(ctx, requestctx.SessionToken(ctx))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartView(w, view)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req addItemRequest
	if !decodeCartBody(ctx, w, r, &req) {
		return
	}
	view, err := h.carts.AddItem(ctx, requestctx.SessionToken(ctx), req.ProductID, req.Quantity)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartView(w, view)
}

func (h *CartHandlers) updateItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req updateItemsRequest
	if !decodeCartBody(ctx, w, r, &req) {
		return
	}
	view, err := h.carts.UpdateQuantities(ctx, requestctx.SessionToken(ctx), req.Items)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartView(w, view)
}

func (h *CartHandlers) removeItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req removeItemsRequest
	if !decodeCartBody(ctx, w, r, &req) {
		return
	}
	view, err := h.carts.RemoveItems(ctx, requestctx.SessionToken(ctx), req.Keys)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartView(w, view)
}

func (h *CartHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req applyCouponRequest
	if !decodeCartBody(ctx, w, r, &req) {
		return
	}
	view, err := h.carts.ApplyCoupon(ctx, requestctx.SessionToken(ctx), req.Code)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartView(w, view)
}

func (h *CartHandlers) removeCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req removeCouponsRequest
	if !decodeCartBody(ctx, w, r, &req) {
		return
	}
	view, err := h.carts.RemoveCoupons(ctx, requestctx.SessionToken(ctx), req.Codes)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartView(w, view)
}

func decodeCartBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) bool {
	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return false
	}
	return true
}

func writeCartView(w http.ResponseWriter, view services.CartView) {
	if view.SessionToken != "" {
		w.Header().Set(auth.SessionHeader, "Session "+view.SessionToken)
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"cart": view.Cart})
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartRejected):
		httpx.WriteError(ctx, w, httpx.NewError("cart_rejected", err.Error(), http.StatusUnprocessableEntity))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart backend is unavailable", http.StatusBadGateway))
	}
}
