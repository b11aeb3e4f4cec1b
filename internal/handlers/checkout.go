package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storefront-commerce/api/internal/platform/httpx"
	"github.com/storefront-commerce/api/internal/platform/idempotency"
	"github.com/storefront-commerce/api/internal/services"
)

const maxCheckoutBodySize = 16 * 1024

// CheckoutHandlers turns the caller's cart into a paid order.
type CheckoutHandlers struct {
	checkout    services.CheckoutService
	idempotency func(http.Handler) http.Handler
}

// NewCheckoutHandlers constructs checkout handlers. The idempotency middleware, when provided,
// wraps order placement so retried requests replay the stored response.
func NewCheckoutHandlers(checkout services.CheckoutService, idempotency func(http.Handler) http.Handler) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout, idempotency: idempotency}
}

// Routes wires POST /checkout/orders.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(RequireCustomer)
	if h.idempotency != nil {
		r.With(h.idempotency).Post("/orders", h.placeOrder)
		return
	}
	r.Post("/orders", h.placeOrder)
}

type placeOrderRequest struct {
	ShippingAddress  addressPayload `json:"shippingAddress"`
	ShippingOptionID string         `json:"shippingOptionId"`
	PaymentProvider  string         `json:"paymentProvider"`
	PaymentMethod    string         `json:"paymentMethod"`
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req placeOrderRequest
	if err := httpx.DecodeJSON(r, maxCheckoutBodySize, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.DecodeError(err))
		return
	}

	key := cartKeyFrom(r)
	order, err := h.checkout.PlaceOrder(ctx, services.PlaceOrderCommand{
		TenantID:         key.TenantID,
		CustomerID:       key.CustomerID,
		ShippingAddress:  req.ShippingAddress.toDomain(),
		ShippingOptionID: req.ShippingOptionID,
		PaymentProvider:  req.PaymentProvider,
		PaymentMethod:    req.PaymentMethod,
		IdempotencyKey:   idempotency.KeyFromContext(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, newOrderPayload(order))
}
