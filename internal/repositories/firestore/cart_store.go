package firestore

import (
	"context"
	"errors"
	"time"

	domain "github.com/storefront-commerce/api/internal/domain"
	pfirestore "github.com/storefront-commerce/api/internal/platform/firestore"
	"github.com/storefront-commerce/api/internal/repositories"
)

const cartsCollection = "carts"

type cartDocument struct {
	Currency      string             `firestore:"currency"`
	Wholesale     bool               `firestore:"wholesale"`
	Lines         []cartLineDocument `firestore:"lines"`
	Wishlist      []string           `firestore:"wishlist,omitempty"`
	PromotionCode string             `firestore:"promotionCode,omitempty"`
	UpdatedAt     time.Time          `firestore:"updatedAt"`
}

type cartLineDocument struct {
	ProductID       string            `firestore:"productId"`
	SellerID        string            `firestore:"sellerId,omitempty"`
	Name            string            `firestore:"name,omitempty"`
	Category        string            `firestore:"category,omitempty"`
	SubCategory     string            `firestore:"subCategory,omitempty"`
	Prices          map[string]string `firestore:"prices,omitempty"`
	WholesalePrices map[string]string `firestore:"wholesalePrices,omitempty"`
	Quantity        int               `firestore:"quantity"`
	VariationID     *string           `firestore:"variationId,omitempty"`
}

// CartStore keeps one document per customer at tenants/{tenant}/carts/{customer}.
type CartStore struct {
	carts *pfirestore.TenantCollection[cartDocument]
}

var _ repositories.CartStore = (*CartStore)(nil)

func NewCartStore(provider *pfirestore.Provider) (*CartStore, error) {
	if provider == nil {
		return nil, errors.New("cart store requires firestore provider")
	}
	return &CartStore{
		carts: pfirestore.NewTenantCollection[cartDocument](provider, cartsCollection),
	}, nil
}

// Load returns an empty state when the customer has no saved cart.
func (s *CartStore) Load(ctx context.Context, key domain.CartKey) (domain.CartState, error) {
	doc, err := s.carts.Get(ctx, key.TenantID, key.CustomerID)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return domain.CartState{}, nil
		}
		return domain.CartState{}, err
	}
	return decodeCart(doc.Data)
}

func (s *CartStore) Save(ctx context.Context, key domain.CartKey, state domain.CartState) error {
	return s.carts.Set(ctx, key.TenantID, key.CustomerID, encodeCart(state))
}

// Delete is idempotent.
func (s *CartStore) Delete(ctx context.Context, key domain.CartKey) error {
	return s.carts.Delete(ctx, key.TenantID, key.CustomerID, false)
}

func encodeCart(state domain.CartState) cartDocument {
	doc := cartDocument{
		Currency:      state.Currency,
		Wholesale:     state.Wholesale,
		Lines:         make([]cartLineDocument, 0, len(state.Lines)),
		Wishlist:      state.Wishlist,
		PromotionCode: state.PromotionCode,
		UpdatedAt:     state.UpdatedAt,
	}
	for _, line := range state.Lines {
		doc.Lines = append(doc.Lines, cartLineDocument{
			ProductID:       line.ProductID,
			SellerID:        line.SellerID,
			Name:            line.Name,
			Category:        line.Category,
			SubCategory:     line.SubCategory,
			Prices:          encodePriceMap(line.Prices),
			WholesalePrices: encodePriceMap(line.WholesalePrices),
			Quantity:        line.Quantity,
			VariationID:     line.VariationID,
		})
	}
	return doc
}

func decodeCart(doc cartDocument) (domain.CartState, error) {
	state := domain.CartState{
		Currency:      doc.Currency,
		Wholesale:     doc.Wholesale,
		Wishlist:      doc.Wishlist,
		PromotionCode: doc.PromotionCode,
		UpdatedAt:     doc.UpdatedAt.UTC(),
	}
	for _, line := range doc.Lines {
		prices, err := decodePriceMap("prices", line.Prices)
		if err != nil {
			return domain.CartState{}, err
		}
		wholesale, err := decodePriceMap("wholesalePrices", line.WholesalePrices)
		if err != nil {
			return domain.CartState{}, err
		}
		state.Lines = append(state.Lines, domain.CartLine{
			ProductID:       line.ProductID,
			SellerID:        line.SellerID,
			Name:            line.Name,
			Category:        line.Category,
			SubCategory:     line.SubCategory,
			Prices:          prices,
			WholesalePrices: wholesale,
			Quantity:        line.Quantity,
			VariationID:     line.VariationID,
		})
	}
	return state, nil
}
