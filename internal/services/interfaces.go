package services

import (
	"context"

	"github.com/shopspring/decimal"

	domain "github.com/storefront-commerce/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination     = domain.Pagination
	CartLine       = domain.CartLine
	CartState      = domain.CartState
	CartKey        = domain.CartKey
	Promotion      = domain.Promotion
	Order          = domain.Order
	OrderTotals    = domain.OrderTotals
	Address        = domain.Address
	ShippingOption = domain.ShippingOption
	TaxRateTable   = domain.TaxRateTable

	SystemHealthReport = domain.SystemHealthReport
)

// PromotionService exposes promotion lifecycle and validation operations.
type PromotionService interface {
	ValidatePromotion(ctx context.Context, cmd ValidatePromotionCommand) (PromotionValidationResult, error)
	GetPromotion(ctx context.Context, tenantID, promotionID string) (Promotion, error)
	ListPromotions(ctx context.Context, filter PromotionListFilter) (domain.CursorPage[Promotion], error)
	CreatePromotion(ctx context.Context, cmd UpsertPromotionCommand) (Promotion, error)
	UpdatePromotion(ctx context.Context, cmd UpsertPromotionCommand) (Promotion, error)
	DeletePromotion(ctx context.Context, tenantID, promotionID string) error
	RecordUsage(ctx context.Context, tenantID, promotionID string) (Promotion, error)
}

// CartService validates cart mutations and quotes totals for a stored cart.
type CartService interface {
	GetCart(ctx context.Context, key CartKey) (CartState, error)
	AddLine(ctx context.Context, cmd AddCartLineCommand) (CartState, error)
	UpdateQuantity(ctx context.Context, cmd UpdateCartLineCommand) (CartState, error)
	RemoveLine(ctx context.Context, key CartKey, lineKey string) (CartState, error)
	SetCurrency(ctx context.Context, key CartKey, currency string) (CartState, error)
	SetWholesale(ctx context.Context, key CartKey, wholesale bool) (CartState, error)
	ApplyPromotion(ctx context.Context, key CartKey, code string) (CartState, PromotionValidationResult, error)
	ClearPromotion(ctx context.Context, key CartKey) (CartState, error)
	AddToWishlist(ctx context.Context, key CartKey, productID string) (CartState, error)
	Clear(ctx context.Context, key CartKey) error
	Quote(ctx context.Context, cmd QuoteCommand) (Quote, error)
}

// PricingService prices arbitrary carts without touching stored state.
type PricingService interface {
	QuoteLines(ctx context.Context, cmd QuoteLinesCommand) (Quote, error)
}

// CheckoutService places orders atomically with payment capture and promotion usage.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
	GetOrder(ctx context.Context, tenantID, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
}

// ShippingQuoter resolves priced delivery options for a destination.
type ShippingQuoter interface {
	Options(ctx context.Context, country, currency string) ([]ShippingOption, error)
	Option(ctx context.Context, country, currency, optionID string) (ShippingOption, error)
}

// TaxRateProvider serves the tax table for a tenant.
type TaxRateProvider interface {
	TaxRates(ctx context.Context, tenantID string) (TaxRateTable, error)
}

// SystemService reports process and dependency health for the probe endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event OrderPlacedEvent) error
}

// ValidatePromotionCommand checks a code against a set of cart lines.
type ValidatePromotionCommand struct {
	TenantID  string
	Code      string
	Lines     []CartLine
	Currency  string
	Wholesale bool
}

// PromotionValidationResult reports whether a code can be applied and, if not, why.
type PromotionValidationResult struct {
	Code      string
	Eligible  bool
	Reason    domain.PromotionRejection
	Message   string
	Promotion *Promotion
}

// PromotionListFilter narrows admin promotion listings.
type PromotionListFilter struct {
	TenantID   string
	ActiveOnly bool
	Pagination Pagination
}

// UpsertPromotionCommand creates or replaces a promotion definition.
type UpsertPromotionCommand struct {
	TenantID  string
	Promotion Promotion
	ActorID   string
}

// AddCartLineCommand adds a product to a cart, merging with an existing line for the same product.
type AddCartLineCommand struct {
	Key  CartKey
	Line CartLine
}

// UpdateCartLineCommand sets the quantity of an existing line; zero removes it.
type UpdateCartLineCommand struct {
	Key      CartKey
	LineKey  string
	Quantity int
}

// QuoteCommand prices a stored cart for a destination and shipping choice.
type QuoteCommand struct {
	Key              CartKey
	Destination      string
	ShippingOptionID string
}

// QuoteLinesCommand prices an explicit set of lines.
type QuoteLinesCommand struct {
	TenantID      string
	Lines         []CartLine
	Currency      string
	Destination   string
	PromotionCode string
	// ShippingCost takes precedence over ShippingOptionID when both are set.
	ShippingCost     *decimal.Decimal
	ShippingOptionID string
	Wholesale        bool
}

// Quote is a priced cart: the totals plus the promotion and shipping choices behind them.
type Quote struct {
	Totals          OrderTotals
	Promotion       *Promotion
	PromotionResult *PromotionValidationResult
	Shipping        *ShippingOption
}

// PlaceOrderCommand converts the customer's cart into a paid order.
type PlaceOrderCommand struct {
	TenantID         string
	CustomerID       string
	ShippingAddress  Address
	ShippingOptionID string
	PaymentProvider  string
	PaymentMethod    string
	IdempotencyKey   string
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	TenantID   string
	CustomerID string
	Pagination Pagination
}

// OrderPlacedEvent is published once an order commits.
type OrderPlacedEvent struct {
	OrderID        string
	TenantID       string
	CustomerID     string
	SellerIDs      []string
	Currency       string
	Total          decimal.Decimal
	SellerPayout   decimal.Decimal
	PlatformFee    decimal.Decimal
	PromotionID    string
	IdempotencyKey string
	PlacedAt       string
}
