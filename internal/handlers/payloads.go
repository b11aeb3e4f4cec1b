package handlers

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront-commerce/api/internal/domain"
	"github.com/storefront-commerce/api/internal/services"
)

// Money travels as decimal strings ("12.50"); shopspring/decimal also accepts JSON numbers.

type cartLinePayload struct {
	LineKey         string                     `json:"lineKey,omitempty"`
	ProductID       string                     `json:"productId"`
	SellerID        string                     `json:"sellerId,omitempty"`
	Name            string                     `json:"name,omitempty"`
	Category        string                     `json:"category,omitempty"`
	SubCategory     string                     `json:"subCategory,omitempty"`
	Prices          map[string]decimal.Decimal `json:"prices"`
	WholesalePrices map[string]decimal.Decimal `json:"wholesalePrices,omitempty"`
	Quantity        int                        `json:"quantity"`
	VariationID     *string                    `json:"variationId,omitempty"`
}

func (p cartLinePayload) toDomain() domain.CartLine {
	return domain.CartLine{
		ProductID:       strings.TrimSpace(p.ProductID),
		SellerID:        strings.TrimSpace(p.SellerID),
		Name:            p.Name,
		Category:        p.Category,
		SubCategory:     p.SubCategory,
		Prices:          p.Prices,
		WholesalePrices: p.WholesalePrices,
		Quantity:        p.Quantity,
		VariationID:     p.VariationID,
	}
}

func cartLinesToDomain(lines []cartLinePayload) []domain.CartLine {
	out := make([]domain.CartLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, line.toDomain())
	}
	return out
}

func newCartLinePayload(line domain.CartLine) cartLinePayload {
	return cartLinePayload{
		LineKey:         line.LineKey(),
		ProductID:       line.ProductID,
		SellerID:        line.SellerID,
		Name:            line.Name,
		Category:        line.Category,
		SubCategory:     line.SubCategory,
		Prices:          line.Prices,
		WholesalePrices: line.WholesalePrices,
		Quantity:        line.Quantity,
		VariationID:     line.VariationID,
	}
}

type cartPayload struct {
	Currency      string            `json:"currency"`
	Wholesale     bool              `json:"wholesale"`
	Lines         []cartLinePayload `json:"lines"`
	ItemCount     int               `json:"itemCount"`
	Wishlist      []string          `json:"wishlist"`
	PromotionCode string            `json:"promotionCode,omitempty"`
	UpdatedAt     string            `json:"updatedAt,omitempty"`
}

func newCartPayload(state domain.CartState) cartPayload {
	payload := cartPayload{
		Currency:      state.Currency,
		Wholesale:     state.Wholesale,
		Lines:         make([]cartLinePayload, 0, len(state.Lines)),
		Wishlist:      state.Wishlist,
		PromotionCode: state.PromotionCode,
		UpdatedAt:     formatTime(state.UpdatedAt),
	}
	if payload.Wishlist == nil {
		payload.Wishlist = []string{}
	}
	for _, line := range state.Lines {
		payload.Lines = append(payload.Lines, newCartLinePayload(line))
		payload.ItemCount += line.Quantity
	}
	return payload
}

type platformFeePayload struct {
	Amount       decimal.Decimal `json:"amount"`
	BaseAmount   decimal.Decimal `json:"baseAmount"`
	BaseCurrency string          `json:"baseCurrency"`
}

type totalsPayload struct {
	Currency       string             `json:"currency"`
	Subtotal       decimal.Decimal    `json:"subtotal"`
	DiscountAmount decimal.Decimal    `json:"discountAmount"`
	ShippingCost   decimal.Decimal    `json:"shippingCost"`
	Taxes          decimal.Decimal    `json:"taxes"`
	PlatformFee    platformFeePayload `json:"platformFee"`
	Total          decimal.Decimal    `json:"total"`
	SellerPayout   decimal.Decimal    `json:"sellerPayout"`
}

func newTotalsPayload(t domain.OrderTotals) totalsPayload {
	return totalsPayload{
		Currency:       t.Currency,
		Subtotal:       t.Subtotal,
		DiscountAmount: t.DiscountAmount,
		ShippingCost:   t.ShippingCost,
		Taxes:          t.Taxes,
		PlatformFee: platformFeePayload{
			Amount:       t.PlatformFee.Local,
			BaseAmount:   t.PlatformFee.Base,
			BaseCurrency: t.PlatformFee.BaseCurrency,
		},
		Total:        t.Total,
		SellerPayout: t.SellerPayout,
	}
}

type shippingOptionPayload struct {
	ID                string          `json:"id"`
	Carrier           string          `json:"carrier"`
	Name              string          `json:"name"`
	Cost              decimal.Decimal `json:"cost"`
	Currency          string          `json:"currency"`
	EstimatedDelivery string          `json:"estimatedDelivery,omitempty"`
}

func newShippingOptionPayload(o domain.ShippingOption) shippingOptionPayload {
	return shippingOptionPayload{
		ID:                o.ID,
		Carrier:           o.Carrier,
		Name:              o.Name,
		Cost:              o.Cost,
		Currency:          o.Currency,
		EstimatedDelivery: o.EstimatedDelivery,
	}
}

type promotionTargetPayload struct {
	Category   string   `json:"category,omitempty"`
	ProductIDs []string `json:"productIds,omitempty"`
}

type promotionPayload struct {
	ID          string                 `json:"id,omitempty"`
	Code        string                 `json:"code"`
	Description string                 `json:"description,omitempty"`
	Kind        string                 `json:"kind"`
	Value       decimal.Decimal        `json:"value"`
	MinSpend    *decimal.Decimal       `json:"minSpend,omitempty"`
	StartsAt    *time.Time             `json:"startsAt,omitempty"`
	EndsAt      *time.Time             `json:"endsAt,omitempty"`
	MaxUsage    *int                   `json:"maxUsage,omitempty"`
	UsageCount  int                    `json:"usageCount"`
	Active      bool                   `json:"active"`
	Target      promotionTargetPayload `json:"target"`
	CreatedAt   string                 `json:"createdAt,omitempty"`
	UpdatedAt   string                 `json:"updatedAt,omitempty"`
}

func newPromotionPayload(p domain.Promotion) promotionPayload {
	payload := promotionPayload{
		ID:          p.ID,
		Code:        p.Code,
		Description: p.Description,
		MinSpend:    p.MinSpend,
		StartsAt:    p.StartsAt,
		EndsAt:      p.EndsAt,
		MaxUsage:    p.MaxUsage,
		UsageCount:  p.UsageCount,
		Active:      p.Active,
		Target:      promotionTargetPayload{Category: p.Target.Category, ProductIDs: p.Target.ProductIDs},
		CreatedAt:   formatTime(p.CreatedAt),
		UpdatedAt:   formatTime(p.UpdatedAt),
	}
	if p.Discount != nil {
		payload.Kind = string(p.Discount.Kind())
		payload.Value = p.Discount.Value()
	}
	return payload
}

// promotionRequest is the admin create/update body. Usage counts are server-owned.
type promotionRequest struct {
	Code        string                 `json:"code"`
	Description string                 `json:"description"`
	Kind        string                 `json:"kind"`
	Value       decimal.Decimal        `json:"value"`
	MinSpend    *decimal.Decimal       `json:"minSpend"`
	StartsAt    *time.Time             `json:"startsAt"`
	EndsAt      *time.Time             `json:"endsAt"`
	MaxUsage    *int                   `json:"maxUsage"`
	Active      bool                   `json:"active"`
	Target      promotionTargetPayload `json:"target"`
}

func (p promotionRequest) toDomain(id string) (domain.Promotion, error) {
	discount, err := domain.PromotionDiscountFromKind(p.Kind, p.Value)
	if err != nil {
		return domain.Promotion{}, err
	}
	return domain.Promotion{
		ID:          id,
		Code:        p.Code,
		Description: p.Description,
		Discount:    discount,
		MinSpend:    p.MinSpend,
		StartsAt:    p.StartsAt,
		EndsAt:      p.EndsAt,
		MaxUsage:    p.MaxUsage,
		Active:      p.Active,
		Target:      domain.PromotionTarget{Category: p.Target.Category, ProductIDs: p.Target.ProductIDs},
	}, nil
}

type promotionResultPayload struct {
	Code      string            `json:"code"`
	Eligible  bool              `json:"eligible"`
	Reason    string            `json:"reason,omitempty"`
	Message   string            `json:"message,omitempty"`
	Promotion *promotionPayload `json:"promotion,omitempty"`
}

func newPromotionResultPayload(r services.PromotionValidationResult) promotionResultPayload {
	payload := promotionResultPayload{
		Code:     r.Code,
		Eligible: r.Eligible,
		Reason:   string(r.Reason),
		Message:  r.Message,
	}
	if r.Promotion != nil {
		promo := newPromotionPayload(*r.Promotion)
		payload.Promotion = &promo
	}
	return payload
}

type quotePayload struct {
	Totals         totalsPayload           `json:"totals"`
	Promotion      *promotionResultPayload `json:"promotion,omitempty"`
	ShippingOption *shippingOptionPayload  `json:"shippingOption,omitempty"`
}

func newQuotePayload(q services.Quote) quotePayload {
	payload := quotePayload{Totals: newTotalsPayload(q.Totals)}
	if q.PromotionResult != nil {
		result := newPromotionResultPayload(*q.PromotionResult)
		payload.Promotion = &result
	}
	if q.Shipping != nil {
		option := newShippingOptionPayload(*q.Shipping)
		payload.ShippingOption = &option
	}
	return payload
}

type addressPayload struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postalCode"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

func (a addressPayload) toDomain() domain.Address {
	return domain.Address(a)
}

type orderLinePayload struct {
	ProductID   string          `json:"productId"`
	SellerID    string          `json:"sellerId,omitempty"`
	Name        string          `json:"name,omitempty"`
	Category    string          `json:"category,omitempty"`
	SubCategory string          `json:"subCategory,omitempty"`
	VariationID *string         `json:"variationId,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

type appliedPromotionPayload struct {
	PromotionID string          `json:"promotionId"`
	Code        string          `json:"code"`
	Kind        string          `json:"kind"`
	Value       decimal.Decimal `json:"value"`
}

type paymentPayload struct {
	Provider      string          `json:"provider"`
	Method        string          `json:"method,omitempty"`
	TransactionID string          `json:"transactionId,omitempty"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	ProcessedAt   string          `json:"processedAt,omitempty"`
}

type orderPayload struct {
	ID               string                   `json:"id"`
	Status           string                   `json:"status"`
	CustomerID       string                   `json:"customerId"`
	Currency         string                   `json:"currency"`
	Wholesale        bool                     `json:"wholesale"`
	Lines            []orderLinePayload       `json:"lines"`
	Totals           totalsPayload            `json:"totals"`
	Promotion        *appliedPromotionPayload `json:"promotion,omitempty"`
	ShippingAddress  addressPayload           `json:"shippingAddress"`
	ShippingOptionID string                   `json:"shippingOptionId,omitempty"`
	Payment          paymentPayload           `json:"payment"`
	PlacedAt         string                   `json:"placedAt"`
}

func newOrderPayload(o domain.Order) orderPayload {
	payload := orderPayload{
		ID:               o.ID,
		Status:           string(o.Status),
		CustomerID:       o.CustomerID,
		Currency:         o.Currency,
		Wholesale:        o.Wholesale,
		Lines:            make([]orderLinePayload, 0, len(o.Lines)),
		Totals:           newTotalsPayload(o.Totals),
		ShippingAddress:  addressPayload(o.ShippingAddress),
		ShippingOptionID: o.ShippingOptionID,
		Payment: paymentPayload{
			Provider:      o.Payment.Provider,
			Method:        o.Payment.Method,
			TransactionID: o.Payment.TransactionID,
			Status:        o.Payment.Status,
			Amount:        o.Payment.Amount,
			Currency:      o.Payment.Currency,
			ProcessedAt:   formatTime(o.Payment.ProcessedAt),
		},
		PlacedAt: formatTime(o.PlacedAt),
	}
	for _, line := range o.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload(line))
	}
	if o.Promotion != nil {
		payload.Promotion = &appliedPromotionPayload{
			PromotionID: o.Promotion.PromotionID,
			Code:        o.Promotion.Code,
			Kind:        string(o.Promotion.Kind),
			Value:       o.Promotion.Value,
		}
	}
	return payload
}

type pagePayload[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
