package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/storefront-commerce/api/internal/domain"
	"github.com/storefront-commerce/api/internal/platform/httpx"
	"github.com/storefront-commerce/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes the calling customer's cart.
type CartHandlers struct {
	carts services.CartService
}

// NewCartHandlers constructs cart handlers backed by the cart service.
func NewCartHandlers(carts services.CartService) *CartHandlers {
	return &CartHandlers{carts: carts}
}

// Routes wires the /cart endpoints. Every route acts on a customer's cart.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(RequireCustomer)
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{lineKey}", h.updateItem)
	r.Delete("/items/{lineKey}", h.removeItem)
	r.Put("/currency", h.setCurrency)
	r.Put("/wholesale", h.setWholesale)
	r.Put("/promotion", h.applyPromotion)
	r.Delete("/promotion", h.clearPromotion)
	r.Post("/wishlist", h.addToWishlist)
	r.Post("/quote", h.quote)
}

func (h *CartHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.carts == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	cart, err := h.carts.GetCart(r.Context(), cartKeyFrom(r))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	if err := h.carts.Clear(r.Context(), cartKeyFrom(r)); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	var req cartLinePayload
	if err := httpx.DecodeJSON(r, maxCartBodySize, &req); err != nil {
		httpx.WriteError(r.Context(), w, httpx.DecodeError(err))
		return
	}
	cart, err := h.carts.AddLine(r.Context(), services.AddCartLineCommand{Key: cartKeyFrom(r), Line: req.toDomain()})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

type updateItemRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	var req updateItemRequest
	if err := httpx.DecodeJSON(r, maxCartBodySize, &req); err != nil {
		httpx.WriteError(r.Context(), w, httpx.DecodeError(err))
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(r.Context(), w, httpx.BadRequest("quantity is required"))
		return
	}
	cart, err := h.carts.UpdateQuantity(r.Context(), services.UpdateCartLineCommand{
		Key:      cartKeyFrom(r),
		LineKey:  chi.URLParam(r, "lineKey"),
		Quantity: *req.Quantity,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	cart, err := h.carts.RemoveLine(r.Context(), cartKeyFrom(r), chi.URLParam(r, "lineKey"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

type setCurrencyRequest struct {
	Currency string `json:"currency"`
}

func (h *CartHandlers) setCurrency(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	var req setCurrencyRequest
	if err := httpx.DecodeJSON(r, maxCartBodySize, &req); err != nil {
		httpx.WriteError(r.Context(), w, httpx.DecodeError(err))
		return
	}
	cart, err := h.carts.SetCurrency(r.Context(), cartKeyFrom(r), req.Currency)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

type setWholesaleRequest struct {
	Wholesale bool `json:"wholesale"`
}

func (h *CartHandlers) setWholesale(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	var req setWholesaleRequest
	if err := httpx.DecodeJSON(r, maxCartBodySize, &req); err != nil {
		httpx.WriteError(r.Context(), w, httpx.DecodeError(err))
		return
	}
	cart, err := h.carts.SetWholesale(r.Context(), cartKeyFrom(r), req.Wholesale)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

type applyPromotionRequest struct {
	Code string `json:"code"`
}

type applyPromotionResponse struct {
	Cart      cartPayload            `json:"cart"`
	Promotion promotionResultPayload `json:"promotion"`
}

// applyPromotion stores the code only when it is eligible. An ineligible code is not an error:
// the response carries the rejection reason and leaves the cart unchanged.
func (h *CartHandlers) applyPromotion(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	var req applyPromotionRequest
	if err := httpx.DecodeJSON(r, maxCartBodySize, &req); err != nil {
		httpx.WriteError(r.Context(), w, httpx.DecodeError(err))
		return
	}
	cart, result, err := h.carts.ApplyPromotion(r.Context(), cartKeyFrom(r), req.Code)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	status := http.StatusOK
	if !result.Eligible {
		status = http.StatusUnprocessableEntity
	}
	setCartHeaders(w, cart)
	httpx.WriteJSON(w, status, applyPromotionResponse{
		Cart:      newCartPayload(cart),
		Promotion: newPromotionResultPayload(result),
	})
}

func (h *CartHandlers) clearPromotion(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	cart, err := h.carts.ClearPromotion(r.Context(), cartKeyFrom(r))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

type wishlistRequest struct {
	ProductID string `json:"productId"`
}

func (h *CartHandlers) addToWishlist(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	var req wishlistRequest
	if err := httpx.DecodeJSON(r, maxCartBodySize, &req); err != nil {
		httpx.WriteError(r.Context(), w, httpx.DecodeError(err))
		return
	}
	cart, err := h.carts.AddToWishlist(r.Context(), cartKeyFrom(r), req.ProductID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

type cartQuoteRequest struct {
	Destination      string `json:"destination"`
	ShippingOptionID string `json:"shippingOptionId"`
}

func (h *CartHandlers) quote(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	var req cartQuoteRequest
	if err := httpx.DecodeJSON(r, maxCartBodySize, &req); err != nil && !errors.Is(err, httpx.ErrEmptyBody) {
		httpx.WriteError(r.Context(), w, httpx.DecodeError(err))
		return
	}
	quote, err := h.carts.Quote(r.Context(), services.QuoteCommand{
		Key:              cartKeyFrom(r),
		Destination:      strings.TrimSpace(req.Destination),
		ShippingOptionID: strings.TrimSpace(req.ShippingOptionID),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newQuotePayload(quote))
}

func writeCart(w http.ResponseWriter, status int, cart domain.CartState) {
	setCartHeaders(w, cart)
	httpx.WriteJSON(w, status, newCartPayload(cart))
}

func setCartHeaders(w http.ResponseWriter, cart domain.CartState) {
	w.Header().Set("Cache-Control", "no-store")
	if cart.UpdatedAt.IsZero() {
		return
	}
	w.Header().Set("ETag", cartETag(cart))
	w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
}

func cartETag(cart domain.CartState) string {
	sum := sha256.Sum256([]byte(cart.UpdatedAt.UTC().Format(time.RFC3339Nano)))
	return `W/"` + hex.EncodeToString(sum[:8]) + `"`
}
