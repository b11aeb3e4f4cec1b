package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/storefront-commerce/api/internal/domain"
	"github.com/storefront-commerce/api/internal/platform/httpx"
	"github.com/storefront-commerce/api/internal/platform/pagination"
	"github.com/storefront-commerce/api/internal/platform/requestctx"
	"github.com/storefront-commerce/api/internal/services"
)

const (
	defaultValidateRateLimit  = 30
	defaultValidateRateWindow = time.Minute
	maxPromotionBodySize      = 32 * 1024
)

// PromotionHandlers serves public code validation and the admin promotion endpoints.
type PromotionHandlers struct {
	promotions services.PromotionService
	limiter    rateLimiter
	clock      func() time.Time
}

// PromotionHandlersOption customises PromotionHandlers.
type PromotionHandlersOption func(*PromotionHandlers)

// WithPromotionClock overrides the clock used by the validation rate limiter.
func WithPromotionClock(clock func() time.Time) PromotionHandlersOption {
	return func(h *PromotionHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithPromotionValidateRateLimit caps validation calls per tenant and customer. A non-positive
// limit disables throttling.
func WithPromotionValidateRateLimit(limit int, window time.Duration) PromotionHandlersOption {
	return func(h *PromotionHandlers) {
		h.limiter = newWindowLimiter(limit, window, func() time.Time { return h.clock() })
	}
}

// NewPromotionHandlers constructs promotion handlers.
func NewPromotionHandlers(promotions services.PromotionService, opts ...PromotionHandlersOption) *PromotionHandlers {
	h := &PromotionHandlers{promotions: promotions, clock: time.Now}
	h.limiter = newWindowLimiter(defaultValidateRateLimit, defaultValidateRateWindow, func() time.Time { return h.clock() })
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires POST /promotions/validate.
func (h *PromotionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/validate", h.validate)
}

// AdminRoutes wires the /admin/promotions endpoints.
func (h *PromotionHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{promotionId}", h.get)
	r.Put("/{promotionId}", h.update)
	r.Delete("/{promotionId}", h.delete)
}

func (h *PromotionHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.promotions == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("promotion_service_unavailable", "promotion service is unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

type validatePromotionRequest struct {
	Code      string            `json:"code"`
	Lines     []cartLinePayload `json:"lines"`
	Currency  string            `json:"currency"`
	Wholesale bool              `json:"wholesale"`
}

func (h *PromotionHandlers) validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	if h.limiter != nil {
		caller, _ := requestctx.CallerFrom(ctx)
		if !h.limiter.Allow(caller.TenantID + "/" + caller.CustomerID) {
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many promotion checks; retry later", http.StatusTooManyRequests))
			return
		}
	}

	var req validatePromotionRequest
	if err := httpx.DecodeJSON(r, httpx.DefaultMaxBody, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.DecodeError(err))
		return
	}
	result, err := h.promotions.ValidatePromotion(ctx, services.ValidatePromotionCommand{
		TenantID:  tenantFrom(r),
		Code:      req.Code,
		Lines:     cartLinesToDomain(req.Lines),
		Currency:  req.Currency,
		Wholesale: req.Wholesale,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newPromotionResultPayload(result))
}

func (h *PromotionHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	page, err := h.promotions.ListPromotions(ctx, services.PromotionListFilter{
		TenantID:   tenantFrom(r),
		ActiveOnly: strings.EqualFold(r.URL.Query().Get("active"), "true"),
		Pagination: domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	out := pagePayload[promotionPayload]{Items: make([]promotionPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, promo := range page.Items {
		out.Items = append(out.Items, newPromotionPayload(promo))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *PromotionHandlers) get(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	promo, err := h.promotions.GetPromotion(r.Context(), tenantFrom(r), chi.URLParam(r, "promotionId"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newPromotionPayload(promo))
}

func (h *PromotionHandlers) create(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	cmd, ok := h.decodeUpsert(w, r, "")
	if !ok {
		return
	}
	promo, err := h.promotions.CreatePromotion(r.Context(), cmd)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/admin/promotions/"+promo.ID)
	httpx.WriteJSON(w, http.StatusCreated, newPromotionPayload(promo))
}

func (h *PromotionHandlers) update(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	cmd, ok := h.decodeUpsert(w, r, chi.URLParam(r, "promotionId"))
	if !ok {
		return
	}
	promo, err := h.promotions.UpdatePromotion(r.Context(), cmd)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newPromotionPayload(promo))
}

func (h *PromotionHandlers) delete(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	if err := h.promotions.DeletePromotion(r.Context(), tenantFrom(r), chi.URLParam(r, "promotionId")); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PromotionHandlers) decodeUpsert(w http.ResponseWriter, r *http.Request, id string) (services.UpsertPromotionCommand, bool) {
	var req promotionRequest
	if err := httpx.DecodeJSON(r, maxPromotionBodySize, &req); err != nil {
		httpx.WriteError(r.Context(), w, httpx.DecodeError(err))
		return services.UpsertPromotionCommand{}, false
	}
	promo, err := req.toDomain(id)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.BadRequest(err.Error()))
		return services.UpsertPromotionCommand{}, false
	}
	caller, _ := requestctx.CallerFrom(r.Context())
	return services.UpsertPromotionCommand{
		TenantID:  caller.TenantID,
		Promotion: promo,
		ActorID:   caller.CustomerID,
	}, true
}
