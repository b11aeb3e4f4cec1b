package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/storefront-commerce/api/internal/domain"
	pfirestore "github.com/storefront-commerce/api/internal/platform/firestore"
	"github.com/storefront-commerce/api/internal/repositories"
)

const (
	financialConfigCollection = "financialConfig"
	taxRatesDocID             = "taxRates"
)

type taxRatesDocument struct {
	Rates     map[string]string `firestore:"rates"`
	UpdatedAt time.Time         `firestore:"updatedAt"`
}

// FinancialConfigRepository reads tenant tax tables from tenants/{tenant}/financialConfig/taxRates.
type FinancialConfigRepository struct {
	config *pfirestore.TenantCollection[taxRatesDocument]
}

var _ repositories.FinancialConfigRepository = (*FinancialConfigRepository)(nil)

func NewFinancialConfigRepository(provider *pfirestore.Provider) (*FinancialConfigRepository, error) {
	if provider == nil {
		return nil, errors.New("financial config repository requires firestore provider")
	}
	return &FinancialConfigRepository{
		config: pfirestore.NewTenantCollection[taxRatesDocument](provider, financialConfigCollection),
	}, nil
}

func (r *FinancialConfigRepository) TaxRates(ctx context.Context, tenantID string) (domain.TaxRateTable, error) {
	doc, err := r.config.Get(ctx, tenantID, taxRatesDocID)
	if err != nil {
		return nil, err
	}
	rates, err := decodePriceMap("rates", doc.Data.Rates)
	if err != nil {
		return nil, err
	}
	table := make(domain.TaxRateTable, len(rates))
	for country, rate := range rates {
		table[strings.ToUpper(country)] = rate
	}
	return table, nil
}

func (r *FinancialConfigRepository) SaveTaxRates(ctx context.Context, tenantID string, rates domain.TaxRateTable, at time.Time) error {
	return r.config.Set(ctx, tenantID, taxRatesDocID, taxRatesDocument{
		Rates:     encodePriceMap(rates),
		UpdatedAt: at.UTC(),
	})
}
