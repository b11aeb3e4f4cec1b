package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storefront-commerce/api/internal/domain"
	"github.com/storefront-commerce/api/internal/platform/httpx"
	"github.com/storefront-commerce/api/internal/platform/pagination"
	"github.com/storefront-commerce/api/internal/services"
)

// OrderHandlers exposes the caller's orders.
type OrderHandlers struct {
	orders services.CheckoutService
}

// NewOrderHandlers constructs order read handlers.
func NewOrderHandlers(orders services.CheckoutService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes wires GET /orders and GET /orders/{orderId}.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(RequireCustomer)
	r.Get("/", h.listOrders)
	r.Get("/{orderId}", h.getOrder)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	params, err := pagination.FromRequest(r, pagination.Options{DefaultPageSize: 20})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	key := cartKeyFrom(r)
	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		TenantID:   key.TenantID,
		CustomerID: key.CustomerID,
		Pagination: domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	out := pagePayload[orderPayload]{Items: make([]orderPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, order := range page.Items {
		out.Items = append(out.Items, newOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// getOrder hides orders owned by other customers behind a 404.
func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	key := cartKeyFrom(r)
	order, err := h.orders.GetOrder(ctx, key.TenantID, chi.URLParam(r, "orderId"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if order.CustomerID != key.CustomerID {
		writeServiceError(ctx, w, services.ErrOrderNotFound)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newOrderPayload(order))
}
