package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/storefront-commerce/api/internal/domain"
	pfirestore "github.com/storefront-commerce/api/internal/platform/firestore"
	"github.com/storefront-commerce/api/internal/repositories"
)

const ordersCollection = "orders"

type orderDocument struct {
	CustomerID       string                `firestore:"customerId"`
	Status           string                `firestore:"status"`
	Currency         string                `firestore:"currency"`
	Wholesale        bool                  `firestore:"wholesale"`
	Lines            []orderLineDocument   `firestore:"lines"`
	Totals           orderTotalsDocument   `firestore:"totals"`
	Promotion        *appliedPromoDocument `firestore:"promotion,omitempty"`
	ShippingAddress  addressDocument       `firestore:"shippingAddress"`
	ShippingOptionID string                `firestore:"shippingOptionId,omitempty"`
	SellerIDs        []string              `firestore:"sellerIds,omitempty"`
	Payment          paymentDocument       `firestore:"payment"`
	Audit            []auditDocument       `firestore:"audit,omitempty"`
	IdempotencyKey   string                `firestore:"idempotencyKey,omitempty"`
	PlacedAt         time.Time             `firestore:"placedAt"`
	CreatedAt        time.Time             `firestore:"createdAt"`
	UpdatedAt        time.Time             `firestore:"updatedAt"`
}

type orderLineDocument struct {
	ProductID   string  `firestore:"productId"`
	SellerID    string  `firestore:"sellerId,omitempty"`
	Name        string  `firestore:"name,omitempty"`
	Category    string  `firestore:"category,omitempty"`
	SubCategory string  `firestore:"subCategory,omitempty"`
	VariationID *string `firestore:"variationId,omitempty"`
	Quantity    int     `firestore:"quantity"`
	UnitPrice   string  `firestore:"unitPrice"`
	LineTotal   string  `firestore:"lineTotal"`
}

type orderTotalsDocument struct {
	Subtotal            string `firestore:"subtotal"`
	DiscountAmount      string `firestore:"discountAmount"`
	ShippingCost        string `firestore:"shippingCost"`
	Taxes               string `firestore:"taxes"`
	PlatformFee         string `firestore:"platformFee"`
	PlatformFeeBase     string `firestore:"platformFeeBase"`
	PlatformFeeCurrency string `firestore:"platformFeeBaseCurrency"`
	Total               string `firestore:"total"`
	SellerPayout        string `firestore:"sellerPayout"`
}

type appliedPromoDocument struct {
	PromotionID string `firestore:"promotionId"`
	Code        string `firestore:"code"`
	Kind        string `firestore:"kind"`
	Value       string `firestore:"value"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

type paymentDocument struct {
	Provider      string    `firestore:"provider"`
	Method        string    `firestore:"method,omitempty"`
	TransactionID string    `firestore:"transactionId,omitempty"`
	Status        string    `firestore:"status"`
	Amount        string    `firestore:"amount"`
	Currency      string    `firestore:"currency"`
	ProcessedAt   time.Time `firestore:"processedAt"`
}

type auditDocument struct {
	From      string    `firestore:"from"`
	To        string    `firestore:"to"`
	Actor     string    `firestore:"actor,omitempty"`
	Note      string    `firestore:"note,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// OrderRepository implements repositories.OrderRepository on tenants/{tenant}/orders.
type OrderRepository struct {
	orders *pfirestore.TenantCollection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		orders: pfirestore.NewTenantCollection[orderDocument](provider, ordersCollection),
	}, nil
}

// Insert creates the order document; an existing id is reported as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.orders.Create(ctx, order.TenantID, order.ID, encodeOrder(order))
}

func (r *OrderRepository) FindByID(ctx context.Context, tenantID, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, tenantID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(tenantID, doc.ID, doc.Data)
}

// List returns the newest orders first, optionally restricted to one customer.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	page, err := newListing(filter.Pagination, filter.TenantID, ordersCollection, filter.CustomerID)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	docs, err := r.orders.Query(ctx, filter.TenantID, func(q firestore.Query) firestore.Query {
		if filter.CustomerID != "" {
			q = q.Where("customerId", "==", filter.CustomerID)
		}
		return page.apply(q, firestore.Desc)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	out := domain.CursorPage[domain.Order]{}
	docs, out.NextPageToken, err = trim(page, docs)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	out.Items = make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order, err := decodeOrder(filter.TenantID, doc.ID, doc.Data)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		out.Items = append(out.Items, order)
	}
	return out, nil
}

func encodeOrder(o domain.Order) orderDocument {
	doc := orderDocument{
		CustomerID:       o.CustomerID,
		Status:           string(o.Status),
		Currency:         o.Currency,
		Wholesale:        o.Wholesale,
		Lines:            make([]orderLineDocument, 0, len(o.Lines)),
		ShippingOptionID: o.ShippingOptionID,
		SellerIDs:        o.SellerIDs(),
		IdempotencyKey:   o.IdempotencyKey,
		PlacedAt:         o.PlacedAt,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
		Totals: orderTotalsDocument{
			Subtotal:            encodeDecimal(o.Totals.Subtotal),
			DiscountAmount:      encodeDecimal(o.Totals.DiscountAmount),
			ShippingCost:        encodeDecimal(o.Totals.ShippingCost),
			Taxes:               encodeDecimal(o.Totals.Taxes),
			PlatformFee:         encodeDecimal(o.Totals.PlatformFee.Local),
			PlatformFeeBase:     encodeDecimal(o.Totals.PlatformFee.Base),
			PlatformFeeCurrency: o.Totals.PlatformFee.BaseCurrency,
			Total:               encodeDecimal(o.Totals.Total),
			SellerPayout:        encodeDecimal(o.Totals.SellerPayout),
		},
		ShippingAddress: addressDocument(o.ShippingAddress),
		Payment: paymentDocument{
			Provider:      o.Payment.Provider,
			Method:        o.Payment.Method,
			TransactionID: o.Payment.TransactionID,
			Status:        o.Payment.Status,
			Amount:        encodeDecimal(o.Payment.Amount),
			Currency:      o.Payment.Currency,
			ProcessedAt:   o.Payment.ProcessedAt,
		},
	}
	for _, line := range o.Lines {
		doc.Lines = append(doc.Lines, orderLineDocument{
			ProductID:   line.ProductID,
			SellerID:    line.SellerID,
			Name:        line.Name,
			Category:    line.Category,
			SubCategory: line.SubCategory,
			VariationID: line.VariationID,
			Quantity:    line.Quantity,
			UnitPrice:   encodeDecimal(line.UnitPrice),
			LineTotal:   encodeDecimal(line.LineTotal),
		})
	}
	if o.Promotion != nil {
		doc.Promotion = &appliedPromoDocument{
			PromotionID: o.Promotion.PromotionID,
			Code:        o.Promotion.Code,
			Kind:        string(o.Promotion.Kind),
			Value:       encodeDecimal(o.Promotion.Value),
		}
	}
	for _, entry := range o.Audit {
		doc.Audit = append(doc.Audit, auditDocument{
			From:      string(entry.From),
			To:        string(entry.To),
			Actor:     entry.Actor,
			Note:      entry.Note,
			CreatedAt: entry.CreatedAt,
		})
	}
	return doc
}

func decodeOrder(tenantID, id string, doc orderDocument) (domain.Order, error) {
	var d decimalDecoder
	order := domain.Order{
		ID:               id,
		TenantID:         tenantID,
		CustomerID:       doc.CustomerID,
		Status:           domain.OrderStatus(doc.Status),
		Currency:         doc.Currency,
		Wholesale:        doc.Wholesale,
		ShippingAddress:  domain.Address(doc.ShippingAddress),
		ShippingOptionID: doc.ShippingOptionID,
		IdempotencyKey:   doc.IdempotencyKey,
		PlacedAt:         doc.PlacedAt.UTC(),
		CreatedAt:        doc.CreatedAt.UTC(),
		UpdatedAt:        doc.UpdatedAt.UTC(),
		Totals: domain.OrderTotals{
			Currency:       doc.Currency,
			Subtotal:       d.decode("totals.subtotal", doc.Totals.Subtotal),
			DiscountAmount: d.decode("totals.discountAmount", doc.Totals.DiscountAmount),
			ShippingCost:   d.decode("totals.shippingCost", doc.Totals.ShippingCost),
			Taxes:          d.decode("totals.taxes", doc.Totals.Taxes),
			PlatformFee: domain.PlatformFee{
				Local:        d.decode("totals.platformFee", doc.Totals.PlatformFee),
				Base:         d.decode("totals.platformFeeBase", doc.Totals.PlatformFeeBase),
				BaseCurrency: doc.Totals.PlatformFeeCurrency,
			},
			Total:        d.decode("totals.total", doc.Totals.Total),
			SellerPayout: d.decode("totals.sellerPayout", doc.Totals.SellerPayout),
		},
		Payment: domain.PaymentDetails{
			Provider:      doc.Payment.Provider,
			Method:        doc.Payment.Method,
			TransactionID: doc.Payment.TransactionID,
			Status:        doc.Payment.Status,
			Amount:        d.decode("payment.amount", doc.Payment.Amount),
			Currency:      doc.Payment.Currency,
			ProcessedAt:   doc.Payment.ProcessedAt.UTC(),
		},
	}
	for _, line := range doc.Lines {
		order.Lines = append(order.Lines, domain.OrderLine{
			ProductID:   line.ProductID,
			SellerID:    line.SellerID,
			Name:        line.Name,
			Category:    line.Category,
			SubCategory: line.SubCategory,
			VariationID: line.VariationID,
			Quantity:    line.Quantity,
			UnitPrice:   d.decode("lines.unitPrice", line.UnitPrice),
			LineTotal:   d.decode("lines.lineTotal", line.LineTotal),
		})
	}
	if doc.Promotion != nil {
		order.Promotion = &domain.AppliedPromotion{
			PromotionID: doc.Promotion.PromotionID,
			Code:        doc.Promotion.Code,
			Kind:        domain.DiscountKind(doc.Promotion.Kind),
			Value:       d.decode("promotion.value", doc.Promotion.Value),
		}
	}
	for _, entry := range doc.Audit {
		order.Audit = append(order.Audit, domain.OrderAuditEntry{
			From:      domain.OrderStatus(entry.From),
			To:        domain.OrderStatus(entry.To),
			Actor:     entry.Actor,
			Note:      entry.Note,
			CreatedAt: entry.CreatedAt.UTC(),
		})
	}
	if d.err != nil {
		return domain.Order{}, d.err
	}
	return order, nil
}
