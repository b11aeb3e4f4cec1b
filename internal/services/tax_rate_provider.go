package services

import (
	"context"
	"errors"
	"strings"

	domain "github.com/storefront-commerce/api/internal/domain"
	"github.com/storefront-commerce/api/internal/repositories"
)

// TaxRateProviderDeps wires tenant overrides over a static fallback table.
type TaxRateProviderDeps struct {
	Repository repositories.FinancialConfigRepository
	Fallback   domain.TaxRateTable
	Logger     func(context.Context, string, map[string]any)
}

type tenantTaxRateProvider struct {
	repo     repositories.FinancialConfigRepository
	fallback domain.TaxRateTable
	logger   func(context.Context, string, map[string]any)
}

// NewTaxRateProvider returns a provider that prefers the tenant's stored table and falls back to
// the static one when the tenant has none or the store cannot be reached.
func NewTaxRateProvider(deps TaxRateProviderDeps) (TaxRateProvider, error) {
	if deps.Repository == nil && len(deps.Fallback) == 0 {
		return nil, errors.New("tax rate provider: repository or fallback table is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &tenantTaxRateProvider{
		repo:     deps.Repository,
		fallback: deps.Fallback,
		logger:   logger,
	}, nil
}

func (p *tenantTaxRateProvider) TaxRates(ctx context.Context, tenantID string) (TaxRateTable, error) {
	tenantID = strings.TrimSpace(tenantID)
	if p.repo == nil || tenantID == "" {
		return p.fallback, nil
	}

	rates, err := p.repo.TaxRates(ctx, tenantID)
	if err == nil && len(rates) > 0 {
		return rates, nil
	}
	if err != nil {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !(repoErr.IsNotFound() || repoErr.IsUnavailable()) {
			return nil, err
		}
		if repoErr.IsUnavailable() {
			p.logger(ctx, "pricing.tax_table.fallback", map[string]any{
				"tenantId": tenantID,
				"error":    err.Error(),
			})
		}
	}
	return p.fallback, nil
}
