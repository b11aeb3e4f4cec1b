package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/storefront-commerce/api/internal/domain"
	pfirestore "github.com/storefront-commerce/api/internal/platform/firestore"
	"github.com/storefront-commerce/api/internal/repositories"
)

const promotionsCollection = "promotions"

type promotionDocument struct {
	Code        string     `firestore:"code"`
	Description string     `firestore:"description,omitempty"`
	Kind        string     `firestore:"kind"`
	Value       string     `firestore:"value"`
	MinSpend    *string    `firestore:"minSpend,omitempty"`
	StartsAt    *time.Time `firestore:"startsAt,omitempty"`
	EndsAt      *time.Time `firestore:"endsAt,omitempty"`
	MaxUsage    *int       `firestore:"maxUsage,omitempty"`
	UsageCount  int        `firestore:"usageCount"`
	Active      bool       `firestore:"active"`
	Category    string     `firestore:"targetCategory,omitempty"`
	ProductIDs  []string   `firestore:"targetProductIds,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
}

// PromotionRepository implements repositories.PromotionRepository on tenants/{tenant}/promotions.
type PromotionRepository struct {
	provider   *pfirestore.Provider
	promotions *pfirestore.TenantCollection[promotionDocument]
}

var _ repositories.PromotionRepository = (*PromotionRepository)(nil)

// NewPromotionRepository constructs a Firestore-backed promotion repository.
func NewPromotionRepository(provider *pfirestore.Provider) (*PromotionRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion repository requires firestore provider")
	}
	return &PromotionRepository{
		provider:   provider,
		promotions: pfirestore.NewTenantCollection[promotionDocument](provider, promotionsCollection),
	}, nil
}

func (r *PromotionRepository) Insert(ctx context.Context, promotion domain.Promotion) error {
	return r.promotions.Create(ctx, promotion.TenantID, promotion.ID, encodePromotion(promotion))
}

func (r *PromotionRepository) Update(ctx context.Context, promotion domain.Promotion) error {
	return r.promotions.Replace(ctx, promotion.TenantID, promotion.ID, encodePromotion(promotion))
}

func (r *PromotionRepository) Delete(ctx context.Context, tenantID, promotionID string) error {
	return r.promotions.Delete(ctx, tenantID, promotionID, true)
}

func (r *PromotionRepository) FindByID(ctx context.Context, tenantID, promotionID string) (domain.Promotion, error) {
	doc, err := r.promotions.Get(ctx, tenantID, promotionID)
	if err != nil {
		return domain.Promotion{}, err
	}
	return decodePromotion(tenantID, doc.ID, doc.Data)
}

func (r *PromotionRepository) ListByCode(ctx context.Context, tenantID, code string) ([]domain.Promotion, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	docs, err := r.promotions.Query(ctx, tenantID, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Promotion, 0, len(docs))
	for _, doc := range docs {
		promo, err := decodePromotion(tenantID, doc.ID, doc.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, promo)
	}
	return out, nil
}

func (r *PromotionRepository) List(ctx context.Context, filter repositories.PromotionListFilter) (domain.CursorPage[domain.Promotion], error) {
	scope := "all"
	if filter.ActiveOnly {
		scope = "active"
	}
	page, err := newListing(filter.Pagination, filter.TenantID, promotionsCollection, scope)
	if err != nil {
		return domain.CursorPage[domain.Promotion]{}, err
	}
	docs, err := r.promotions.Query(ctx, filter.TenantID, func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("active", "==", true)
		}
		return page.apply(q, firestore.Asc)
	})
	if err != nil {
		return domain.CursorPage[domain.Promotion]{}, err
	}

	out := domain.CursorPage[domain.Promotion]{}
	docs, out.NextPageToken, err = trim(page, docs)
	if err != nil {
		return domain.CursorPage[domain.Promotion]{}, err
	}
	for _, doc := range docs {
		promo, err := decodePromotion(filter.TenantID, doc.ID, doc.Data)
		if err != nil {
			return domain.CursorPage[domain.Promotion]{}, err
		}
		out.Items = append(out.Items, promo)
	}
	return out, nil
}

// IncrementUsage reads and bumps the counter in a transaction. Provider.RunInTx joins a transaction
// already bound to ctx, so inside checkout the increment commits or rolls back with the order.
func (r *PromotionRepository) IncrementUsage(ctx context.Context, tenantID, promotionID string, at time.Time) (domain.Promotion, error) {
	var updated domain.Promotion
	increment := func(txCtx context.Context) error {
		doc, err := r.promotions.Get(txCtx, tenantID, promotionID)
		if err != nil {
			if pfirestore.IsNotFound(err) {
				return repositories.NewPromotionUsageError(promotionID, repositories.PromotionUsageErrorUnknown, "promotion does not exist")
			}
			return err
		}
		data := doc.Data
		if !data.Active {
			return repositories.NewPromotionUsageError(promotionID, repositories.PromotionUsageErrorInactive, "promotion is not active")
		}
		if data.MaxUsage != nil && data.UsageCount >= *data.MaxUsage {
			return repositories.NewPromotionUsageError(promotionID, repositories.PromotionUsageErrorExhausted,
				fmt.Sprintf("promotion %s reached its usage cap of %d", data.Code, *data.MaxUsage))
		}
		data.UsageCount++
		data.UpdatedAt = at.UTC()
		if err := r.promotions.Set(txCtx, tenantID, promotionID, data); err != nil {
			return err
		}
		updated, err = decodePromotion(tenantID, promotionID, data)
		return err
	}

	if err := r.provider.RunInTx(ctx, increment); err != nil {
		return domain.Promotion{}, err
	}
	return updated, nil
}

func encodePromotion(p domain.Promotion) promotionDocument {
	doc := promotionDocument{
		Code:        p.Code,
		Description: p.Description,
		MinSpend:    encodeDecimalPtr(p.MinSpend),
		StartsAt:    p.StartsAt,
		EndsAt:      p.EndsAt,
		MaxUsage:    p.MaxUsage,
		UsageCount:  p.UsageCount,
		Active:      p.Active,
		Category:    p.Target.Category,
		ProductIDs:  p.Target.ProductIDs,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.Discount != nil {
		doc.Kind = string(p.Discount.Kind())
		doc.Value = encodeDecimal(p.Discount.Value())
	}
	return doc
}

func decodePromotion(tenantID, id string, doc promotionDocument) (domain.Promotion, error) {
	value, err := decodeDecimal("value", doc.Value)
	if err != nil {
		return domain.Promotion{}, err
	}
	discount, err := domain.PromotionDiscountFromKind(doc.Kind, value)
	if err != nil {
		return domain.Promotion{}, fmt.Errorf("promotion %s: %w", id, err)
	}
	minSpend, err := decodeDecimalPtr("minSpend", doc.MinSpend)
	if err != nil {
		return domain.Promotion{}, err
	}
	return domain.Promotion{
		ID:          id,
		TenantID:    tenantID,
		Code:        doc.Code,
		Description: doc.Description,
		Discount:    discount,
		MinSpend:    minSpend,
		StartsAt:    utcPtr(doc.StartsAt),
		EndsAt:      utcPtr(doc.EndsAt),
		MaxUsage:    doc.MaxUsage,
		UsageCount:  doc.UsageCount,
		Active:      doc.Active,
		Target: domain.PromotionTarget{
			Category:   doc.Category,
			ProductIDs: doc.ProductIDs,
		},
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
