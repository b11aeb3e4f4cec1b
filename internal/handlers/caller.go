package handlers

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/storefront-commerce/api/internal/domain"
	"github.com/storefront-commerce/api/internal/platform/httpx"
	"github.com/storefront-commerce/api/internal/platform/requestctx"
)

const (
	TenantHeader   = "X-Tenant-ID"
	CustomerHeader = "X-Customer-ID"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

// ResolveCaller reads the tenant and customer forwarded by the edge and stores them on the
// request context. Every /api/v1 route needs a tenant; the customer is optional here and
// enforced by the routes that act on a customer's cart or orders.
func ResolveCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID := strings.TrimSpace(r.Header.Get(TenantHeader))
		if tenantID == "" {
			httpx.WriteError(ctx, w, httpx.NewError("tenant_required", TenantHeader+" header is required", http.StatusBadRequest))
			return
		}
		if !identifierPattern.MatchString(tenantID) {
			httpx.WriteError(ctx, w, httpx.BadRequest(TenantHeader+" is malformed"))
			return
		}
		customerID := strings.TrimSpace(r.Header.Get(CustomerHeader))
		if customerID != "" && !identifierPattern.MatchString(customerID) {
			httpx.WriteError(ctx, w, httpx.BadRequest(CustomerHeader+" is malformed"))
			return
		}
		ctx = requestctx.WithCaller(ctx, requestctx.Caller{TenantID: tenantID, CustomerID: customerID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireCustomer rejects requests that do not name a customer.
func RequireCustomer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := requestctx.CallerFrom(r.Context())
		if !ok || caller.CustomerID == "" {
			httpx.WriteError(r.Context(), w, httpx.NewError("customer_required", CustomerHeader+" header is required", http.StatusBadRequest))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tenantFrom(r *http.Request) string {
	caller, _ := requestctx.CallerFrom(r.Context())
	return caller.TenantID
}

func cartKeyFrom(r *http.Request) domain.CartKey {
	caller, _ := requestctx.CallerFrom(r.Context())
	return domain.CartKey{TenantID: caller.TenantID, CustomerID: caller.CustomerID}
}
