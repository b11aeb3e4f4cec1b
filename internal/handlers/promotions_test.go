package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront-commerce/api/internal/domain"
	"github.com/storefront-commerce/api/internal/services"
)

func newPromotionRouter(h *PromotionHandlers) http.Handler {
	return NewRouter(WithPromotionRoutes(h.Routes), WithAdminRoutes(h.AdminRoutes))
}

func TestPromotionHandlers_Validate(t *testing.T) {
	var got services.ValidatePromotionCommand
	svc := &stubPromotionService{validateFunc: func(_ context.Context, cmd services.ValidatePromotionCommand) (services.PromotionValidationResult, error) {
		got = cmd
		return services.PromotionValidationResult{
			Code:    cmd.Code,
			Reason:  domain.PromotionRejectionCategory,
			Message: "code only applies to prints",
		}, nil
	}}
	body := `{"code":"PRINTS20","lines":[{"productId":"mug","prices":{"GBP":"10"},"quantity":1}],"currency":"GBP"}`

	rr := httptest.NewRecorder()
	newPromotionRouter(NewPromotionHandlers(svc)).ServeHTTP(rr, callerRequest(http.MethodPost, "/api/v1/promotions/validate", body, "t1", "c1"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.TenantID != "t1" || got.Code != "PRINTS20" || len(got.Lines) != 1 {
		t.Fatalf("unexpected command %+v", got)
	}
	resp := decodeBody(t, rr)
	if resp["eligible"] != false || resp["reason"] != "category_restricted" {
		t.Fatalf("unexpected result %v", resp)
	}
}

func TestPromotionHandlers_ValidateRateLimited(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	h := NewPromotionHandlers(&stubPromotionService{},
		WithPromotionClock(func() time.Time { return now }),
		WithPromotionValidateRateLimit(2, time.Minute),
	)
	router := newPromotionRouter(h)
	call := func(customer string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, callerRequest(http.MethodPost, "/api/v1/promotions/validate", `{"code":"X"}`, "t1", customer))
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := call("c1"); rr.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i, rr.Code)
		}
	}
	assertErrorCode(t, call("c1"), http.StatusTooManyRequests, "rate_limited")
	if rr := call("c2"); rr.Code != http.StatusOK {
		t.Fatalf("expected other customer unaffected, got %d", rr.Code)
	}

	now = now.Add(61 * time.Second)
	if rr := call("c1"); rr.Code != http.StatusOK {
		t.Fatalf("expected window reset, got %d", rr.Code)
	}
}

func TestPromotionHandlers_AdminCreate(t *testing.T) {
	var got services.UpsertPromotionCommand
	svc := &stubPromotionService{createFunc: func(_ context.Context, cmd services.UpsertPromotionCommand) (services.Promotion, error) {
		got = cmd
		promo := cmd.Promotion
		promo.ID = "promo_1"
		promo.TenantID = cmd.TenantID
		return promo, nil
	}}
	body := `{"code":"TENOFF","kind":"fixed_amount_off","value":"10","minSpend":"50","maxUsage":100,"active":true}`

	rr := httptest.NewRecorder()
	newPromotionRouter(NewPromotionHandlers(svc)).ServeHTTP(rr, callerRequest(http.MethodPost, "/api/v1/admin/promotions", body, "t1", "ops"))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Location") != "/api/v1/admin/promotions/promo_1" {
		t.Fatalf("unexpected location %q", rr.Header().Get("Location"))
	}
	if got.TenantID != "t1" || got.ActorID != "ops" {
		t.Fatalf("unexpected command %+v", got)
	}
	if got.Promotion.Discount.Kind() != domain.DiscountKindFixedAmountOff || !got.Promotion.Discount.Value().Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected discount %+v", got.Promotion.Discount)
	}
	if got.Promotion.MinSpend == nil || got.Promotion.MinSpend.String() != "50" {
		t.Fatalf("unexpected min spend %v", got.Promotion.MinSpend)
	}
	resp := decodeBody(t, rr)
	if resp["id"] != "promo_1" || resp["kind"] != "fixed_amount_off" || resp["value"] != "10" {
		t.Fatalf("unexpected response %v", resp)
	}
}

func TestPromotionHandlers_AdminCreateUnknownKind(t *testing.T) {
	rr := httptest.NewRecorder()
	newPromotionRouter(NewPromotionHandlers(&stubPromotionService{})).ServeHTTP(rr,
		callerRequest(http.MethodPost, "/api/v1/admin/promotions", `{"code":"X","kind":"bogo","value":"1"}`, "t1", ""))
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")
}

func TestPromotionHandlers_AdminUpdateAndDelete(t *testing.T) {
	svc := &stubPromotionService{updateFunc: func(_ context.Context, cmd services.UpsertPromotionCommand) (services.Promotion, error) {
		if cmd.Promotion.ID != "promo_9" {
			t.Fatalf("expected path id, got %q", cmd.Promotion.ID)
		}
		return services.Promotion{}, services.ErrPromotionConflict
	}}
	router := newPromotionRouter(NewPromotionHandlers(svc))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, callerRequest(http.MethodPut, "/api/v1/admin/promotions/promo_9", `{"code":"SALE","kind":"free_shipping"}`, "t1", ""))
	assertErrorCode(t, rr, http.StatusConflict, "conflict")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, callerRequest(http.MethodDelete, "/api/v1/admin/promotions/promo_9", "", "t1", ""))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}

	svc.deleteErr = services.ErrPromotionNotFound
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, callerRequest(http.MethodDelete, "/api/v1/admin/promotions/promo_9", "", "t1", ""))
	assertErrorCode(t, rr, http.StatusNotFound, "promotion_not_found")
}

func TestPromotionHandlers_AdminList(t *testing.T) {
	var got services.PromotionListFilter
	svc := &stubPromotionService{listFunc: func(_ context.Context, filter services.PromotionListFilter) (domain.CursorPage[services.Promotion], error) {
		got = filter
		return domain.CursorPage[services.Promotion]{
			Items:         []services.Promotion{{ID: "promo_1", Code: "A", Discount: domain.FreeShipping{}}},
			NextPageToken: "next",
		}, nil
	}}
	router := newPromotionRouter(NewPromotionHandlers(svc))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, callerRequest(http.MethodGet, "/api/v1/admin/promotions?pageSize=5&active=true", "", "t1", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.Pagination.PageSize != 5 || !got.ActiveOnly || got.TenantID != "t1" {
		t.Fatalf("unexpected filter %+v", got)
	}
	resp := decodeBody(t, rr)
	if resp["nextPageToken"] != "next" || len(resp["items"].([]any)) != 1 {
		t.Fatalf("unexpected page %v", resp)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, callerRequest(http.MethodGet, "/api/v1/admin/promotions?pageSize=abc", "", "t1", ""))
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_request")
}
