package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/storefront-commerce/api/internal/platform/httpx"
	"github.com/storefront-commerce/api/internal/platform/pagination"
	"github.com/storefront-commerce/api/internal/platform/requestctx"
	"github.com/storefront-commerce/api/internal/services"
)

// writeServiceError maps service sentinels to the error envelope. Messages of invalid-input
// errors are safe to show; everything else gets a fixed message.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	httpx.WriteError(ctx, w, serviceError(ctx, err))
}

func serviceError(ctx context.Context, err error) httpx.Error {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput),
		errors.Is(err, services.ErrPricingInvalidInput),
		errors.Is(err, services.ErrPromotionInvalidInput),
		errors.Is(err, services.ErrPromotionInvalidCode),
		errors.Is(err, services.ErrShippingInvalidInput),
		errors.Is(err, services.ErrCheckoutInvalidInput),
		errors.Is(err, pagination.ErrInvalidPageSize),
		errors.Is(err, pagination.ErrInvalidPageToken):
		return httpx.BadRequest(err.Error())
	case errors.Is(err, services.ErrShippingOptionNotFound):
		return httpx.NewError("shipping_option_not_found", err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrShippingUnavailable):
		return httpx.NewError("shipping_unavailable", "no shipping options for destination", http.StatusUnprocessableEntity)
	case errors.Is(err, services.ErrCartNotFound):
		return httpx.NewError("cart_line_not_found", "cart line not found", http.StatusNotFound)
	case errors.Is(err, services.ErrPromotionNotFound):
		return httpx.NewError("promotion_not_found", "promotion not found", http.StatusNotFound)
	case errors.Is(err, services.ErrOrderNotFound):
		return httpx.NewError("order_not_found", "order not found", http.StatusNotFound)
	case errors.Is(err, services.ErrCheckoutCartNotReady):
		return httpx.NewError("cart_not_ready", "cart is empty", http.StatusConflict)
	case errors.Is(err, services.ErrCheckoutConflict):
		return httpx.NewError("checkout_conflict", "cart or promotion changed; refresh and retry", http.StatusConflict)
	case errors.Is(err, services.ErrCartConflict),
		errors.Is(err, services.ErrPromotionConflict):
		return httpx.NewError("conflict", "resource was modified concurrently", http.StatusConflict)
	case errors.Is(err, services.ErrPromotionUsageExhausted):
		return httpx.NewError("promotion_exhausted", "promotion usage limit reached", http.StatusConflict)
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		return httpx.NewError("payment_failed", "payment could not be completed", http.StatusPaymentRequired)
	case errors.Is(err, services.ErrCartUnavailable),
		errors.Is(err, services.ErrPricingUnavailable),
		errors.Is(err, services.ErrPromotionUnavailable),
		errors.Is(err, services.ErrCheckoutUnavailable):
		requestctx.Logger(ctx).Warn("service unavailable", zap.Error(err))
		return httpx.NewError("service_unavailable", "service temporarily unavailable", http.StatusServiceUnavailable)
	default:
		requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
		return httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError)
	}
}
