package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/storefront-commerce/api/internal/platform/httpx"
	"github.com/storefront-commerce/api/internal/services"
)

// PricingHandlers prices ad-hoc carts and lists shipping options. Neither endpoint touches stored state.
type PricingHandlers struct {
	pricing  services.PricingService
	shipping services.ShippingQuoter
}

// NewPricingHandlers constructs the quote and shipping handlers.
func NewPricingHandlers(pricing services.PricingService, shipping services.ShippingQuoter) *PricingHandlers {
	return &PricingHandlers{pricing: pricing, shipping: shipping}
}

// Routes wires POST /pricing/quote.
func (h *PricingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/quote", h.quote)
}

// ShippingRoutes wires GET /shipping/options.
func (h *PricingHandlers) ShippingRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/options", h.shippingOptions)
}

type quoteRequest struct {
	Lines            []cartLinePayload `json:"lines"`
	Currency         string            `json:"currency"`
	Destination      string            `json:"destination"`
	PromotionCode    string            `json:"promotionCode"`
	ShippingCost     *decimal.Decimal  `json:"shippingCost"`
	ShippingOptionID string            `json:"shippingOptionId"`
	Wholesale        bool              `json:"wholesale"`
}

func (h *PricingHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_service_unavailable", "pricing service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req quoteRequest
	if err := httpx.DecodeJSON(r, httpx.DefaultMaxBody, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.DecodeError(err))
		return
	}

	quote, err := h.pricing.QuoteLines(ctx, services.QuoteLinesCommand{
		TenantID:         tenantFrom(r),
		Lines:            cartLinesToDomain(req.Lines),
		Currency:         req.Currency,
		Destination:      req.Destination,
		PromotionCode:    req.PromotionCode,
		ShippingCost:     req.ShippingCost,
		ShippingOptionID: req.ShippingOptionID,
		Wholesale:        req.Wholesale,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newQuotePayload(quote))
}

func (h *PricingHandlers) shippingOptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipping == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipping_service_unavailable", "shipping service is unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	country := strings.TrimSpace(query.Get("country"))
	currency := strings.TrimSpace(query.Get("currency"))
	if country == "" || currency == "" {
		httpx.WriteError(ctx, w, httpx.BadRequest("country and currency query parameters are required"))
		return
	}

	options, err := h.shipping.Options(ctx, country, currency)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]shippingOptionPayload, 0, len(options))
	for _, option := range options {
		items = append(items, newShippingOptionPayload(option))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}
