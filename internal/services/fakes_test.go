package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/storefront-commerce/api/internal/domain"
	"github.com/storefront-commerce/api/internal/payments"
	"github.com/storefront-commerce/api/internal/repositories"
)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string       { return "stub repository error" }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

type memPromotionRepo struct {
	mu        sync.Mutex
	items     map[string]domain.Promotion
	listErr   error
	insertErr error
	lastCode  string
}

func newMemPromotionRepo(promos ...domain.Promotion) *memPromotionRepo {
	repo := &memPromotionRepo{items: make(map[string]domain.Promotion)}
	for _, p := range promos {
		repo.items[p.TenantID+"/"+p.ID] = p
	}
	return repo
}

func (r *memPromotionRepo) Insert(_ context.Context, p domain.Promotion) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[p.TenantID+"/"+p.ID]; ok {
		return &stubRepoError{conflict: true}
	}
	r.items[p.TenantID+"/"+p.ID] = p
	return nil
}

func (r *memPromotionRepo) Update(_ context.Context, p domain.Promotion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[p.TenantID+"/"+p.ID]; !ok {
		return &stubRepoError{notFound: true}
	}
	r.items[p.TenantID+"/"+p.ID] = p
	return nil
}

func (r *memPromotionRepo) Delete(_ context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[tenantID+"/"+id]; !ok {
		return &stubRepoError{notFound: true}
	}
	delete(r.items, tenantID+"/"+id)
	return nil
}

func (r *memPromotionRepo) FindByID(_ context.Context, tenantID, id string) (domain.Promotion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[tenantID+"/"+id]
	if !ok {
		return domain.Promotion{}, &stubRepoError{notFound: true}
	}
	return p, nil
}

func (r *memPromotionRepo) ListByCode(_ context.Context, tenantID, code string) ([]domain.Promotion, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCode = code
	var out []domain.Promotion
	for _, p := range r.items {
		if p.TenantID == tenantID && strings.EqualFold(p.Code, code) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memPromotionRepo) List(_ context.Context, filter repositories.PromotionListFilter) (domain.CursorPage[domain.Promotion], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Promotion
	for _, p := range r.items {
		if p.TenantID != filter.TenantID || (filter.ActiveOnly && !p.Active) {
			continue
		}
		out = append(out, p)
	}
	return domain.CursorPage[domain.Promotion]{Items: out}, nil
}

func (r *memPromotionRepo) IncrementUsage(_ context.Context, tenantID, id string, at time.Time) (domain.Promotion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[tenantID+"/"+id]
	if !ok {
		return domain.Promotion{}, &stubRepoError{notFound: true}
	}
	if p.UsageExhausted() {
		return domain.Promotion{}, repositories.NewPromotionUsageError(id, repositories.PromotionUsageErrorExhausted, "usage cap reached")
	}
	p.UsageCount++
	p.UpdatedAt = at
	r.items[tenantID+"/"+id] = p
	return p, nil
}

func (r *memPromotionRepo) usage(tenantID, id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[tenantID+"/"+id].UsageCount
}

type memCartStore struct {
	mu      sync.Mutex
	carts     map[string]domain.CartState
	saveErr   error
	deleteErr error
}

func newMemCartStore() *memCartStore {
	return &memCartStore{carts: make(map[string]domain.CartState)}
}

func (s *memCartStore) Load(_ context.Context, key domain.CartKey) (domain.CartState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.carts[key.String()], nil
}

func (s *memCartStore) Save(_ context.Context, key domain.CartKey, state domain.CartState) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[key.String()] = state
	return nil
}

func (s *memCartStore) Delete(_ context.Context, key domain.CartKey) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, key.String())
	return nil
}

type memOrderRepo struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	insertErr error
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[string]domain.Order)}
}

func (r *memOrderRepo) Insert(_ context.Context, order domain.Order) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.TenantID+"/"+order.ID] = order
	return nil
}

func (r *memOrderRepo) FindByID(_ context.Context, tenantID, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[tenantID+"/"+orderID]
	if !ok {
		return domain.Order{}, &stubRepoError{notFound: true}
	}
	return order, nil
}

func (r *memOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, order := range r.orders {
		if order.TenantID == filter.TenantID && (filter.CustomerID == "" || order.CustomerID == filter.CustomerID) {
			out = append(out, order)
		}
	}
	return domain.CursorPage[domain.Order]{Items: out}, nil
}

func (r *memOrderRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

// passthroughUnitOfWork runs the function directly; it records how many transactions ran.
type passthroughUnitOfWork struct {
	runs int
}

func (u *passthroughUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	u.runs++
	return fn(ctx)
}

type fakeGateway struct {
	mu      sync.Mutex
	charges []payments.ChargeRequest
	refunds []payments.RefundRequest
	err     error
}

func (g *fakeGateway) Charge(_ context.Context, paymentCtx payments.PaymentContext, req payments.ChargeRequest) (payments.PaymentDetails, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, req)
	if g.err != nil {
		return payments.PaymentDetails{}, g.err
	}
	provider := paymentCtx.PreferredProvider
	if provider == "" {
		provider = payments.ProviderSimulated
	}
	return payments.PaymentDetails{
		Provider:      provider,
		Method:        "card",
		TransactionID: "txn_" + req.IdempotencyKey,
		Status:        payments.StatusSucceeded,
		Amount:        req.Amount,
		Currency:      req.Currency,
	}, nil
}

func (g *fakeGateway) Refund(_ context.Context, _ payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, req)
	return payments.PaymentDetails{TransactionID: req.TransactionID, Status: payments.StatusRefunded}, nil
}

type staticTaxProvider struct {
	rates domain.TaxRateTable
	err   error
}

func (p staticTaxProvider) TaxRates(context.Context, string) (domain.TaxRateTable, error) {
	return p.rates, p.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderPlacedEvent
	err    error
}

func (p *recordingPublisher) PublishOrderPlaced(_ context.Context, event OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

var errBoom = errors.New("boom")
