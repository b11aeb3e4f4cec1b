package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	domain "github.com/storefront-commerce/api/internal/domain"
	"github.com/storefront-commerce/api/internal/repositories"
)

var (
	errCartStoreRequired   = errors.New("cart service: store is required")
	errCartPricingRequired = errors.New("cart service: pricing service is required")
)

const (
	maxCartLines        = 100
	maxCartLineQuantity = 999
	maxWishlistItems    = 200
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart line does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// CartServiceDeps wires the store and pricing dependencies for cart operations.
type CartServiceDeps struct {
	Store           repositories.CartStore
	Pricing         PricingService
	Promotions      PromotionService
	Clock           func() time.Time
	DefaultCurrency string
	Logger          func(context.Context, string, map[string]any)
}

type cartService struct {
	store      repositories.CartStore
	pricing    PricingService
	promotions PromotionService
	now        func() time.Time
	currency   string
	logger     func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Store == nil {
		return nil, errCartStoreRequired
	}
	if deps.Pricing == nil {
		return nil, errCartPricingRequired
	}
	if deps.Promotions == nil {
		return nil, errors.New("cart service: promotion service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	defaultCurrency := normalizeCurrency(deps.DefaultCurrency)
	if defaultCurrency == "" {
		defaultCurrency = domain.DefaultBaseCurrency
	}
	if err := validateCurrencyCode(defaultCurrency); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartService{
		store:      deps.Store,
		pricing:    deps.Pricing,
		promotions: deps.Promotions,
		now:        func() time.Time { return clock().UTC() },
		currency:   defaultCurrency,
		logger:     logger,
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, key CartKey) (CartState, error) {
	return s.load(ctx, key)
}

func (s *cartService) AddLine(ctx context.Context, cmd AddCartLineCommand) (CartState, error) {
	state, err := s.load(ctx, cmd.Key)
	if err != nil {
		return CartState{}, err
	}
	line, err := normalizeCartLine(cmd.Line)
	if err != nil {
		return CartState{}, err
	}
	if !line.HasPrice(state.Currency) {
		return CartState{}, fmt.Errorf("%w: product %s has no price in %s", ErrCartInvalidInput, line.ProductID, state.Currency)
	}

	lineKey := line.LineKey()
	if idx := indexOfCartLine(state.Lines, lineKey); idx >= 0 {
		merged := line
		merged.Quantity = state.Lines[idx].Quantity + line.Quantity
		if merged.Quantity > maxCartLineQuantity {
			return CartState{}, fmt.Errorf("%w: quantity exceeds %d", ErrCartInvalidInput, maxCartLineQuantity)
		}
		state.Lines[idx] = merged
	} else {
		if len(state.Lines) >= maxCartLines {
			return CartState{}, fmt.Errorf("%w: cart is limited to %d lines", ErrCartInvalidInput, maxCartLines)
		}
		state.Lines = append(state.Lines, line)
	}

	if err := s.save(ctx, cmd.Key, &state); err != nil {
		return CartState{}, err
	}
	s.logger(ctx, "cart.line.added", map[string]any{
		"cart":      cmd.Key.String(),
		"productId": line.ProductID,
		"quantity":  line.Quantity,
	})
	return state, nil
}

func (s *cartService) UpdateQuantity(ctx context.Context, cmd UpdateCartLineCommand) (CartState, error) {
	if cmd.Quantity < 0 {
		return CartState{}, fmt.Errorf("%w: quantity must not be negative", ErrCartInvalidInput)
	}
	if cmd.Quantity > maxCartLineQuantity {
		return CartState{}, fmt.Errorf("%w: quantity exceeds %d", ErrCartInvalidInput, maxCartLineQuantity)
	}
	if cmd.Quantity == 0 {
		return s.RemoveLine(ctx, cmd.Key, cmd.LineKey)
	}
	state, err := s.load(ctx, cmd.Key)
	if err != nil {
		return CartState{}, err
	}
	idx := indexOfCartLine(state.Lines, strings.TrimSpace(cmd.LineKey))
	if idx < 0 {
		return CartState{}, ErrCartNotFound
	}
	state.Lines[idx].Quantity = cmd.Quantity
	if err := s.save(ctx, cmd.Key, &state); err != nil {
		return CartState{}, err
	}
	return state, nil
}

func (s *cartService) RemoveLine(ctx context.Context, key CartKey, lineKey string) (CartState, error) {
	state, err := s.load(ctx, key)
	if err != nil {
		return CartState{}, err
	}
	idx := indexOfCartLine(state.Lines, strings.TrimSpace(lineKey))
	if idx < 0 {
		return CartState{}, ErrCartNotFound
	}
	state.Lines = slices.Delete(state.Lines, idx, idx+1)
	if err := s.save(ctx, key, &state); err != nil {
		return CartState{}, err
	}
	return state, nil
}

// SetCurrency switches the cart currency. Lines without a price in the new currency stay in the
// cart and price as zero until the catalog supplies one.
func (s *cartService) SetCurrency(ctx context.Context, key CartKey, code string) (CartState, error) {
	code = normalizeCurrency(code)
	if err := validateCurrencyCode(code); err != nil {
		return CartState{}, err
	}
	state, err := s.load(ctx, key)
	if err != nil {
		return CartState{}, err
	}
	if state.Currency == code {
		return state, nil
	}
	var unpriced []string
	for _, line := range state.Lines {
		if !line.HasPrice(code) {
			unpriced = append(unpriced, line.ProductID)
		}
	}
	state.Currency = code
	if err := s.save(ctx, key, &state); err != nil {
		return CartState{}, err
	}
	if len(unpriced) > 0 {
		s.logger(ctx, "cart.currency.unpriced_lines", map[string]any{
			"cart":     key.String(),
			"currency": code,
			"products": unpriced,
		})
	}
	return state, nil
}

func (s *cartService) SetWholesale(ctx context.Context, key CartKey, wholesale bool) (CartState, error) {
	state, err := s.load(ctx, key)
	if err != nil {
		return CartState{}, err
	}
	if state.Wholesale == wholesale {
		return state, nil
	}
	state.Wholesale = wholesale
	if err := s.save(ctx, key, &state); err != nil {
		return CartState{}, err
	}
	return state, nil
}

// ApplyPromotion stores the code only when it is eligible for the current cart. An ineligible code
// is not an error: the result carries the reason and the cart is returned unchanged.
func (s *cartService) ApplyPromotion(ctx context.Context, key CartKey, code string) (CartState, PromotionValidationResult, error) {
	state, err := s.load(ctx, key)
	if err != nil {
		return CartState{}, PromotionValidationResult{}, err
	}
	result, err := s.promotions.ValidatePromotion(ctx, ValidatePromotionCommand{
		TenantID:  key.TenantID,
		Code:      code,
		Lines:     state.Lines,
		Currency:  state.Currency,
		Wholesale: state.Wholesale,
	})
	if err != nil {
		if errors.Is(err, ErrPromotionInvalidCode) {
			return CartState{}, PromotionValidationResult{}, fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
		}
		return CartState{}, PromotionValidationResult{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	if !result.Eligible {
		return state, result, nil
	}
	state.PromotionCode = result.Code
	if err := s.save(ctx, key, &state); err != nil {
		return CartState{}, PromotionValidationResult{}, err
	}
	return state, result, nil
}

func (s *cartService) ClearPromotion(ctx context.Context, key CartKey) (CartState, error) {
	state, err := s.load(ctx, key)
	if err != nil {
		return CartState{}, err
	}
	if state.PromotionCode == "" {
		return state, nil
	}
	state.PromotionCode = ""
	if err := s.save(ctx, key, &state); err != nil {
		return CartState{}, err
	}
	return state, nil
}

func (s *cartService) AddToWishlist(ctx context.Context, key CartKey, productID string) (CartState, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return CartState{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	state, err := s.load(ctx, key)
	if err != nil {
		return CartState{}, err
	}
	if slices.Contains(state.Wishlist, productID) {
		return state, nil
	}
	if len(state.Wishlist) >= maxWishlistItems {
		return CartState{}, fmt.Errorf("%w: wishlist is limited to %d items", ErrCartInvalidInput, maxWishlistItems)
	}
	state.Wishlist = append(state.Wishlist, productID)
	if err := s.save(ctx, key, &state); err != nil {
		return CartState{}, err
	}
	return state, nil
}

func (s *cartService) Clear(ctx context.Context, key CartKey) error {
	if !key.Valid() {
		return fmt.Errorf("%w: tenant and customer are required", ErrCartInvalidInput)
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return s.translateRepoError(err)
	}
	return nil
}

// Quote prices the stored cart. The stored promotion code is re-validated on every quote, so a
// code that has since expired or lost eligibility prices as absent.
func (s *cartService) Quote(ctx context.Context, cmd QuoteCommand) (Quote, error) {
	state, err := s.load(ctx, cmd.Key)
	if err != nil {
		return Quote{}, err
	}
	quote, err := s.pricing.QuoteLines(ctx, QuoteLinesCommand{
		TenantID:         cmd.Key.TenantID,
		Lines:            state.Lines,
		Currency:         state.Currency,
		Destination:      cmd.Destination,
		PromotionCode:    state.PromotionCode,
		ShippingOptionID: cmd.ShippingOptionID,
		Wholesale:        state.Wholesale,
	})
	if err != nil {
		return Quote{}, translatePricingError(err)
	}
	return quote, nil
}

func (s *cartService) load(ctx context.Context, key CartKey) (CartState, error) {
	if !key.Valid() {
		return CartState{}, fmt.Errorf("%w: tenant and customer are required", ErrCartInvalidInput)
	}
	state, err := s.store.Load(ctx, key)
	if err != nil {
		return CartState{}, s.translateRepoError(err)
	}
	if state.Currency == "" {
		state.Currency = s.currency
	}
	state.Lines = slices.Clone(state.Lines)
	state.Wishlist = slices.Clone(state.Wishlist)
	return state, nil
}

func (s *cartService) save(ctx context.Context, key CartKey, state *CartState) error {
	state.UpdatedAt = s.now()
	if err := s.store.Save(ctx, key, *state); err != nil {
		return s.translateRepoError(err)
	}
	return nil
}

func normalizeCartLine(line CartLine) (CartLine, error) {
	line.ProductID = strings.TrimSpace(line.ProductID)
	if line.ProductID == "" {
		return CartLine{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if strings.Contains(line.ProductID, "#") {
		return CartLine{}, fmt.Errorf("%w: product id must not contain '#'", ErrCartInvalidInput)
	}
	if line.Quantity <= 0 {
		return CartLine{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}
	if line.Quantity > maxCartLineQuantity {
		return CartLine{}, fmt.Errorf("%w: quantity exceeds %d", ErrCartInvalidInput, maxCartLineQuantity)
	}
	var err error
	if line.Prices, err = normalizePriceMap(line.Prices); err != nil {
		return CartLine{}, err
	}
	if line.WholesalePrices, err = normalizePriceMap(line.WholesalePrices); err != nil {
		return CartLine{}, err
	}
	line.SellerID = strings.TrimSpace(line.SellerID)
	line.Name = strings.TrimSpace(line.Name)
	line.Category = strings.TrimSpace(line.Category)
	line.SubCategory = strings.TrimSpace(line.SubCategory)
	if line.VariationID != nil {
		variation := strings.TrimSpace(*line.VariationID)
		if variation == "" {
			line.VariationID = nil
		} else {
			line.VariationID = &variation
		}
	}
	return line, nil
}

func normalizePriceMap(prices map[string]decimal.Decimal) (map[string]decimal.Decimal, error) {
	if len(prices) == 0 {
		return nil, nil
	}
	out := make(map[string]decimal.Decimal, len(prices))
	for code, price := range prices {
		code = normalizeCurrency(code)
		if err := validateCurrencyCode(code); err != nil {
			return nil, err
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("%w: price in %s must not be negative", ErrCartInvalidInput, code)
		}
		out[code] = price
	}
	return out, nil
}

func indexOfCartLine(lines []CartLine, lineKey string) int {
	for i, line := range lines {
		if line.LineKey() == lineKey {
			return i
		}
	}
	return -1
}

func validateCurrencyCode(code string) error {
	if len(code) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter ISO code", ErrCartInvalidInput)
	}
	if _, err := currency.ParseISO(code); err != nil {
		return fmt.Errorf("%w: unknown currency %s", ErrCartInvalidInput, code)
	}
	return nil
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		case repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
		return ErrCartUnavailable
	}
	return ErrCartUnavailable
}

func translatePricingError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPricingInvalidInput) {
		return fmt.Errorf("%w: %v", ErrCartInvalidInput, err)
	}
	return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
}
