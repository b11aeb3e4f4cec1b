package repositories

import (
	"context"
	"time"

	domain "github.com/storefront-commerce/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Promotions() PromotionRepository
	Orders() OrderRepository
	Carts() CartStore
	FinancialConfig() FinancialConfigRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PromotionRepository persists promotion definitions per tenant.
type PromotionRepository interface {
	Insert(ctx context.Context, promotion domain.Promotion) error
	Update(ctx context.Context, promotion domain.Promotion) error
	Delete(ctx context.Context, tenantID, promotionID string) error
	FindByID(ctx context.Context, tenantID, promotionID string) (domain.Promotion, error)
	// ListByCode returns every promotion whose normalised code matches. Callers resolve
	// which candidate, if any, is currently usable.
	ListByCode(ctx context.Context, tenantID, code string) ([]domain.Promotion, error)
	List(ctx context.Context, filter PromotionListFilter) (domain.CursorPage[domain.Promotion], error)
	// IncrementUsage bumps the redemption count, failing with a PromotionUsageError when the
	// cap has been reached. Participates in the ambient transaction when called inside RunInTx.
	IncrementUsage(ctx context.Context, tenantID, promotionID string, at time.Time) (domain.Promotion, error)
}

// PromotionListFilter narrows admin promotion listings.
type PromotionListFilter struct {
	TenantID   string
	ActiveOnly bool
	Pagination domain.Pagination
}

// OrderRepository persists placed orders.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, tenantID, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	TenantID   string
	CustomerID string
	Pagination domain.Pagination
}

// CartStore loads and saves per-customer storefront state.
type CartStore interface {
	// Load returns an empty state when no cart has been saved for the key.
	Load(ctx context.Context, key domain.CartKey) (domain.CartState, error)
	Save(ctx context.Context, key domain.CartKey, state domain.CartState) error
	Delete(ctx context.Context, key domain.CartKey) error
}

// FinancialConfigRepository serves tenant financial configuration such as tax tables.
type FinancialConfigRepository interface {
	TaxRates(ctx context.Context, tenantID string) (domain.TaxRateTable, error)
	SaveTaxRates(ctx context.Context, tenantID string, rates domain.TaxRateTable, at time.Time) error
}

// HealthRepository reports dependency status for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
