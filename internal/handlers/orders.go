package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	domain "github.com/meridian-goods/api/internal/domain"
	"github.com/meridian-goods/api/internal/platform/auth"
	"github.com/meridian-goods/api/internal/platform/httpx"
	"github.com/meridian-goods/api/internal/platform/pagination"
	"github.com/meridian-goods/api/internal/platform/requestctx"
	"github.com/meridian-goods/api/internal/services"
)

const maxOrderBodySize = 32 * 1024

// OrderHandlers exposes order creation plus the read-only order views.
type OrderHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderCreationService
	queries services.OrderQueryService
}

// NewOrderHandlers constructs the order handlers.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderCreationService, queries services.OrderQueryService) *OrderHandlers {
	return &OrderHandlers{
		authn:   authn,
		orders:  orders,
		queries: queries,
	}
}

// Routes wires the /orders endpoints onto the provided router. Creation runs
// off payment identifiers and needs no customer login; the history views do.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.WithStorefrontSession())
	}
	r.Post("/", h.createOrder)
	if h.authn != nil {
		r.Group(func(authed chi.Router) {
			authed.Use(h.authn.RequireCustomerAuth())
			authed.Get("/", h.listOrders)
			authed.Get("/{orderID}", h.getOrder)
			authed.Get("/{orderID}/tracking", h.getTracking)
		})
	} else {
		r.Get("/", h.listOrders)
		r.Get("/{orderID}", h.getOrder)
		r.Get("/{orderID}/tracking", h.getTracking)
	}
}

type createOrderRequest struct {
	PaymentIntentID   string                `json:"paymentIntentId"`
	TransactionID     string                `json:"transactionId"`
	UniqueID          string                `json:"uniqueId"`
	WooSession        string                `json:"wooSession"`
	AuthToken         string                `json:"authToken"`
	PaymentMethodType string                `json:"paymentMethodType"`
	Provider          string                `json:"provider"`
	PayPalDetails     *domain.PayPalDetails `json:"paypalDetails"`
	CheckoutData      *domain.CustomerInfo  `json:"checkoutData"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	wooSession := req.WooSession
	if wooSession == "" {
		wooSession = requestctx.SessionToken(ctx)
	}

	result, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		PaymentID:     req.PaymentIntentID,
		TransactionID: req.TransactionID,
		UniqueID:      req.UniqueID,
		WooSession:    wooSession,
		AuthToken:     req.AuthToken,
		MethodType:    domain.PaymentMethodType(req.PaymentMethodType),
		Provider:      domain.PaymentProvider(req.Provider),
		PayPal:        req.PayPalDetails,
		Customer:      req.CheckoutData,
	})
	if err != nil {
		writeOrderCreateError(w, err)
		return
	}

	databaseID, _ := strconv.Atoi(result.OrderID)
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"orderId": result.OrderID,
		"checkout": map[string]any{
			"order": map[string]any{"databaseId": databaseID},
		},
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: pagination.DefaultPageSize,
		MaxPageSize:     pagination.DefaultMaxPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	sessionToken, authToken := h.customerTokens(ctx)
	orders, err := h.queries.ListOrders(ctx, sessionToken, authToken)
	if err != nil {
		writeOrderQueryError(ctx, w, err)
		return
	}
	// The commerce backend returns the customer's full history; page it here
	// with the order id of the previous page's last entry as the anchor.
	if anchor := cursorAnchorID(params.Cursor); anchor != 0 {
		for i, order := range orders {
			if order.DatabaseID == anchor {
				orders = orders[i+1:]
				break
			}
		}
	}
	nextToken := ""
	if params.PageSize > 0 && len(orders) > params.PageSize {
		orders = orders[:params.PageSize]
		token, err := pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{orders[len(orders)-1].DatabaseID},
		})
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("pagination_failed", "could not build the next page token", http.StatusInternalServerError))
			return
		}
		nextToken = token
	}

	response := map[string]any{"orders": orders}
	if nextToken != "" {
		response["nextPageToken"] = nextToken
	}
	writeJSONResponse(w, http.StatusOK, response)
}

// cursorAnchorID extracts the order id a page token was anchored on. Decoded
// JSON numbers arrive as float64.
func cursorAnchorID(cursor pagination.Cursor) int {
	if len(cursor.StartAfter) == 0 {
		return 0
	}
	switch v := cursor.StartAfter[0].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		id, _ := strconv.Atoi(v)
		return id
	}
	return 0
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := parseOrderID(ctx, w, r)
	if !ok {
		return
	}
	sessionToken, authToken := h.customerTokens(ctx)

	order, err := h.queries.GetOrder(ctx, sessionToken, authToken, orderID)
	if err != nil {
		writeOrderQueryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"order": order})
}

func (h *OrderHandlers) getTracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := parseOrderID(ctx, w, r)
	if !ok {
		return
	}
	sessionToken, authToken := h.customerTokens(ctx)

	tracking, err := h.queries.GetTracking(ctx, sessionToken, authToken, orderID)
	if err != nil {
		writeOrderQueryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"tracking": tracking})
}

func (h *OrderHandlers) customerTokens(ctx context.Context) (sessionToken, authToken string) {
	sessionToken = requestctx.SessionToken(ctx)
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		authToken = identity.SessionToken
	}
	return sessionToken, authToken
}

func parseOrderID(ctx context.Context, w http.ResponseWriter, r *http.Request) (int, bool) {
	orderID, err := strconv.Atoi(chi.URLParam(r, "orderID"))
	if err != nil || orderID <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id must be a positive integer", http.StatusBadRequest))
		return 0, false
	}
	return orderID, true
}

func writeOrderCreateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		writeJSONResponse(w, http.StatusBadRequest, map[string]any{
			"error":   "invalid_request",
			"details": err.Error(),
		})
	case errors.Is(err, services.ErrOrderCreateFailed):
		writeJSONResponse(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "order_create_failed",
			"details": err.Error(),
		})
	default:
		writeJSONResponse(w, http.StatusBadGateway, map[string]any{
			"error":   "order_backend_unavailable",
			"details": "the commerce backend could not be reached",
		})
	}
}

func writeOrderQueryError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderQueryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderQueryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "the order does not exist or is not visible to this customer", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("orders_unavailable", "order backend is unavailable", http.StatusBadGateway))
	}
}
