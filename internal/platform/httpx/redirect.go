package httpx

import (
	"net/http"
	"net/url"
	"strings"
)

// CheckoutErrorURL builds the checkout error redirect target. The parameter
// names are part of the contract with the storefront pages and must stay
// `error` and `message` exactly.
func CheckoutErrorURL(baseURL, code, message string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	values := url.Values{}
	values.Set("error", sanitize(code, 80))
	values.Set("message", sanitize(message, 512))
	return base + "/checkout?" + values.Encode()
}

// OrderConfirmationURL builds the success redirect target carrying the payment
// identifiers the confirmation page echoes back to the shopper.
func OrderConfirmationURL(baseURL, orderID string, params url.Values) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	target := base + "/order-confirmation/" + url.PathEscape(strings.TrimSpace(orderID))
	if len(params) == 0 {
		return target
	}
	return target + "?" + params.Encode()
}

// Redirect issues a 303 See Other so that a POST-initiated flow lands on a GET.
func Redirect(w http.ResponseWriter, r *http.Request, target string) {
	http.Redirect(w, r, target, http.StatusSeeOther)
}
