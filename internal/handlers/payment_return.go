package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-goods/api/internal/platform/httpx"
	"github.com/meridian-goods/api/internal/services"
)

// ReturnHandlers terminates the provider return URLs. These endpoints are
// browser-facing: a settled payment redirects to the order confirmation page,
// a rejected payment redirects to the checkout page with an error message, and
// infrastructure failures answer with a payload offering a manual retry so the
// shopper is never bounced automatically while their payment state is unclear.
type ReturnHandlers struct {
	reconcile    services.ReconciliationService
	storeBaseURL string
}

// NewReturnHandlers constructs the payment return handlers.
func NewReturnHandlers(reconcile services.ReconciliationService, storeBaseURL string) *ReturnHandlers {
	return &ReturnHandlers{
		reconcile:    reconcile,
		storeBaseURL: storeBaseURL,
	}
}

// Routes wires the return endpoints onto the router root; payment providers
// redirect shoppers to these exact paths.
func (h *ReturnHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/checkout/return", h.paymentReturn)
	r.Get("/checkout/paypal-return", h.paypalReturn)
}

func (h *ReturnHandlers) paymentReturn(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	cmd := services.ReconcileCommand{
		PaymentIntentID: query.Get("payment_intent"),
		PaymentMethod:   query.Get("payment_method"),
		RedirectStatus:  query.Get("redirect_status"),
		TransactionID:   query.Get("transaction_id"),
		UniqueID:        query.Get("unique_id"),
		WooSession:      query.Get("woo_session"),
	}
	h.handle(w, r, cmd)
}

func (h *ReturnHandlers) paypalReturn(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	cmd := services.ReconcileCommand{
		PaymentMethod: "paypal",
		PayPalToken:   query.Get("token"),
		PayerID:       query.Get("PayerID"),
		TransactionID: query.Get("transaction_id"),
		UniqueID:      query.Get("unique_id"),
		WooSession:    query.Get("woo_session"),
	}
	h.handle(w, r, cmd)
}

func (h *ReturnHandlers) handle(w http.ResponseWriter, r *http.Request, cmd services.ReconcileCommand) {
	result, err := h.reconcile.Reconcile(r.Context(), cmd)
	if err != nil {
		h.writeReturnError(w, r, err)
		return
	}

	httpx.Redirect(w, r, result.RedirectURL)
}

func (h *ReturnHandlers) writeReturnError(w http.ResponseWriter, r *http.Request, err error) {
	checkoutURL := h.storeBaseURL + "/checkout"

	var rejected *services.PaymentRejectedError
	switch {
	case errors.As(err, &rejected):
		httpx.Redirect(w, r, httpx.CheckoutErrorURL(h.storeBaseURL, rejected.Code, rejected.Message))
	case errors.Is(err, services.ErrReconcileInvalidInput):
		writeJSONResponse(w, http.StatusBadRequest, map[string]any{
			"error":       "invalid_return",
			"message":     "the payment return parameters are incomplete",
			"checkoutUrl": checkoutURL,
		})
	case errors.Is(err, services.ErrReconcileNotFound):
		writeJSONResponse(w, http.StatusNotFound, map[string]any{
			"error":       "checkout_not_found",
			"message":     "no pending checkout matches this payment; it may have expired",
			"checkoutUrl": checkoutURL,
		})
	case errors.Is(err, services.ErrReconcileInFlight):
		writeJSONResponse(w, http.StatusConflict, map[string]any{
			"error":       "reconciliation_in_flight",
			"message":     "this payment is already being processed",
			"tryAgainUrl": r.URL.String(),
		})
	default:
		writeJSONResponse(w, http.StatusBadGateway, map[string]any{
			"error":       "reconciliation_failed",
			"message":     "the payment could not be verified right now; your card has not been charged twice",
			"tryAgainUrl": r.URL.String(),
			"checkoutUrl": checkoutURL,
		})
	}
}
