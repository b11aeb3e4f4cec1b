package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/storefront-commerce/api/internal/platform/firestore"
	"github.com/storefront-commerce/api/internal/repositories"
)

// Registry hands out the Firestore-backed repositories sharing one provider.
type Registry struct {
	provider        *pfirestore.Provider
	promotions      *PromotionRepository
	orders          *OrderRepository
	carts           *CartStore
	financialConfig *FinancialConfigRepository
	health          repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository. The Firestore ping is always part of the health checks;
// extra adds probes for other dependencies such as Pub/Sub.
func NewRegistry(provider *pfirestore.Provider, extra ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	reg := &Registry{provider: provider}
	var err error
	if reg.promotions, err = NewPromotionRepository(provider); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.carts, err = NewCartStore(provider); err != nil {
		return nil, err
	}
	if reg.financialConfig, err = NewFinancialConfigRepository(provider); err != nil {
		return nil, err
	}
	checks := append([]repositories.DependencyCheck{{Name: "firestore", Check: provider.Ping}}, extra...)
	if reg.health, err = repositories.NewProbeHealthRepository(checks, nil); err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}
	return reg, nil
}

func (r *Registry) Promotions() repositories.PromotionRepository { return r.promotions }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Carts() repositories.CartStore { return r.carts }

func (r *Registry) FinancialConfig() repositories.FinancialConfigRepository {
	return r.financialConfig
}

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx binds a Firestore transaction to ctx for every repository call made by fn.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunInTx(ctx, fn)
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
