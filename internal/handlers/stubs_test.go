package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/storefront-commerce/api/internal/domain"
	"github.com/storefront-commerce/api/internal/services"
)

type stubCartService struct {
	getFunc       func(ctx context.Context, key services.CartKey) (services.CartState, error)
	addFunc       func(ctx context.Context, cmd services.AddCartLineCommand) (services.CartState, error)
	updateFunc    func(ctx context.Context, cmd services.UpdateCartLineCommand) (services.CartState, error)
	removeFunc    func(ctx context.Context, key services.CartKey, lineKey string) (services.CartState, error)
	applyFunc     func(ctx context.Context, key services.CartKey, code string) (services.CartState, services.PromotionValidationResult, error)
	quoteFunc     func(ctx context.Context, cmd services.QuoteCommand) (services.Quote, error)
	clearFunc     func(ctx context.Context, key services.CartKey) error
	currencyCalls []string
}

func (s *stubCartService) GetCart(ctx context.Context, key services.CartKey) (services.CartState, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, key)
	}
	return services.CartState{}, nil
}

func (s *stubCartService) AddLine(ctx context.Context, cmd services.AddCartLineCommand) (services.CartState, error) {
	if s.addFunc != nil {
		return s.addFunc(ctx, cmd)
	}
	return services.CartState{}, nil
}

func (s *stubCartService) UpdateQuantity(ctx context.Context, cmd services.UpdateCartLineCommand) (services.CartState, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, cmd)
	}
	return services.CartState{}, nil
}

func (s *stubCartService) RemoveLine(ctx context.Context, key services.CartKey, lineKey string) (services.CartState, error) {
	if s.removeFunc != nil {
		return s.removeFunc(ctx, key, lineKey)
	}
	return services.CartState{}, nil
}

func (s *stubCartService) SetCurrency(_ context.Context, _ services.CartKey, currency string) (services.CartState, error) {
	s.currencyCalls = append(s.currencyCalls, currency)
	return services.CartState{Currency: currency}, nil
}

func (s *stubCartService) SetWholesale(_ context.Context, _ services.CartKey, wholesale bool) (services.CartState, error) {
	return services.CartState{Wholesale: wholesale}, nil
}

func (s *stubCartService) ApplyPromotion(ctx context.Context, key services.CartKey, code string) (services.CartState, services.PromotionValidationResult, error) {
	if s.applyFunc != nil {
		return s.applyFunc(ctx, key, code)
	}
	return services.CartState{}, services.PromotionValidationResult{}, nil
}

func (s *stubCartService) ClearPromotion(context.Context, services.CartKey) (services.CartState, error) {
	return services.CartState{}, nil
}

func (s *stubCartService) AddToWishlist(_ context.Context, _ services.CartKey, productID string) (services.CartState, error) {
	return services.CartState{Wishlist: []string{productID}}, nil
}

func (s *stubCartService) Clear(ctx context.Context, key services.CartKey) error {
	if s.clearFunc != nil {
		return s.clearFunc(ctx, key)
	}
	return nil
}

func (s *stubCartService) Quote(ctx context.Context, cmd services.QuoteCommand) (services.Quote, error) {
	if s.quoteFunc != nil {
		return s.quoteFunc(ctx, cmd)
	}
	return services.Quote{}, nil
}

type stubPricingService struct {
	quoteFunc func(ctx context.Context, cmd services.QuoteLinesCommand) (services.Quote, error)
}

func (s *stubPricingService) QuoteLines(ctx context.Context, cmd services.QuoteLinesCommand) (services.Quote, error) {
	return s.quoteFunc(ctx, cmd)
}

type stubShippingQuoter struct {
	options []services.ShippingOption
	err     error
}

func (s *stubShippingQuoter) Options(context.Context, string, string) ([]services.ShippingOption, error) {
	return s.options, s.err
}

func (s *stubShippingQuoter) Option(_ context.Context, _, _, id string) (services.ShippingOption, error) {
	for _, option := range s.options {
		if option.ID == id {
			return option, nil
		}
	}
	return services.ShippingOption{}, services.ErrShippingOptionNotFound
}

type stubPromotionService struct {
	validateFunc func(ctx context.Context, cmd services.ValidatePromotionCommand) (services.PromotionValidationResult, error)
	listFunc     func(ctx context.Context, filter services.PromotionListFilter) (domain.CursorPage[services.Promotion], error)
	createFunc   func(ctx context.Context, cmd services.UpsertPromotionCommand) (services.Promotion, error)
	updateFunc   func(ctx context.Context, cmd services.UpsertPromotionCommand) (services.Promotion, error)
	deleteErr    error
	getErr       error
}

func (s *stubPromotionService) ValidatePromotion(ctx context.Context, cmd services.ValidatePromotionCommand) (services.PromotionValidationResult, error) {
	if s.validateFunc != nil {
		return s.validateFunc(ctx, cmd)
	}
	return services.PromotionValidationResult{Code: cmd.Code}, nil
}

func (s *stubPromotionService) GetPromotion(_ context.Context, tenantID, promotionID string) (services.Promotion, error) {
	if s.getErr != nil {
		return services.Promotion{}, s.getErr
	}
	return services.Promotion{ID: promotionID, TenantID: tenantID}, nil
}

func (s *stubPromotionService) ListPromotions(ctx context.Context, filter services.PromotionListFilter) (domain.CursorPage[services.Promotion], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.CursorPage[services.Promotion]{}, nil
}

func (s *stubPromotionService) CreatePromotion(ctx context.Context, cmd services.UpsertPromotionCommand) (services.Promotion, error) {
	return s.createFunc(ctx, cmd)
}

func (s *stubPromotionService) UpdatePromotion(ctx context.Context, cmd services.UpsertPromotionCommand) (services.Promotion, error) {
	return s.updateFunc(ctx, cmd)
}

func (s *stubPromotionService) DeletePromotion(context.Context, string, string) error {
	return s.deleteErr
}

func (s *stubPromotionService) RecordUsage(context.Context, string, string) (services.Promotion, error) {
	return services.Promotion{}, nil
}

type stubCheckoutService struct {
	placeFunc func(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error)
	orders    map[string]services.Order
	listed    []services.OrderListFilter
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
	return s.placeFunc(ctx, cmd)
}

func (s *stubCheckoutService) GetOrder(_ context.Context, tenantID, orderID string) (services.Order, error) {
	order, ok := s.orders[tenantID+"/"+orderID]
	if !ok {
		return services.Order{}, services.ErrOrderNotFound
	}
	return order, nil
}

func (s *stubCheckoutService) ListOrders(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	s.listed = append(s.listed, filter)
	page := domain.CursorPage[services.Order]{}
	for _, order := range s.orders {
		if order.TenantID == filter.TenantID && order.CustomerID == filter.CustomerID {
			page.Items = append(page.Items, order)
		}
	}
	return page, nil
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

// callerRequest builds a request carrying the tenant and customer headers.
func callerRequest(method, target, body, tenantID, customerID string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if tenantID != "" {
		req.Header.Set(TenantHeader, tenantID)
	}
	if customerID != "" {
		req.Header.Set(CustomerHeader, customerID)
	}
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["error"] != code {
		t.Fatalf("expected error %q, got %v", code, body["error"])
	}
}
