package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/storefront-commerce/api/internal/domain"
	"github.com/storefront-commerce/api/internal/repositories"
)

const (
	promotionIDPrefix        = "promo_"
	maxPromotionCodeLength   = 32
	maxPromotionDescLength   = 512
	defaultPromotionPageSize = 50
)

var (
	ErrPromotionRepositoryMissing = errors.New("promotion service: repository is not configured")
	ErrPromotionInvalidCode       = errors.New("promotion service: invalid promotion code")
	ErrPromotionInvalidInput      = errors.New("promotion service: invalid input")
	ErrPromotionNotFound          = errors.New("promotion service: promotion not found")
	// ErrPromotionConflict covers a duplicate code or a concurrent edit.
	ErrPromotionConflict = errors.New("promotion service: conflict")
	// ErrPromotionUsageExhausted is raised when recording a redemption finds the cap reached.
	ErrPromotionUsageExhausted = errors.New("promotion service: usage exhausted")
	ErrPromotionUnavailable    = errors.New("promotion service: unavailable")
)

// PromotionServiceDeps bundles dependencies required to construct a PromotionService implementation.
type PromotionServiceDeps struct {
	Promotions  repositories.PromotionRepository
	Converter   *CurrencyConverter
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type promotionService struct {
	repo      repositories.PromotionRepository
	converter *CurrencyConverter
	clock     func() time.Time
	newID     func() string
	sanitizer *bluemonday.Policy
	logger    func(context.Context, string, map[string]any)
}

// NewPromotionService wires a PromotionService backed by the provided repositories.
func NewPromotionService(deps PromotionServiceDeps) (PromotionService, error) {
	if deps.Promotions == nil {
		return nil, ErrPromotionRepositoryMissing
	}
	if deps.Converter == nil {
		return nil, errors.New("promotion service: currency converter is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return promotionIDPrefix + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &promotionService{
		repo:      deps.Promotions,
		converter: deps.Converter,
		clock:     func() time.Time { return clock().UTC() },
		newID:     newID,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
	}, nil
}

func (s *promotionService) ValidatePromotion(ctx context.Context, cmd ValidatePromotionCommand) (PromotionValidationResult, error) {
	code := normalizePromotionCode(cmd.Code)
	if code == "" || strings.TrimSpace(cmd.TenantID) == "" {
		return PromotionValidationResult{}, ErrPromotionInvalidCode
	}

	candidates, err := s.repo.ListByCode(ctx, cmd.TenantID, code)
	if err != nil {
		return PromotionValidationResult{}, translatePromotionRepoError(err)
	}

	result := PromotionValidationResult{Code: code}
	promo := ResolveActivePromotion(code, candidates, s.clock())
	if promo == nil {
		result.Reason = domain.PromotionRejectionNotValidOrExpired
		result.Message = RejectionMessage(result.Reason)
		return result, nil
	}

	result.Reason = CheckPromotionEligibility(ctx, promo, EligibilityInput{
		Lines:     cmd.Lines,
		Currency:  cmd.Currency,
		Wholesale: cmd.Wholesale,
	}, s.converter)
	result.Message = RejectionMessage(result.Reason)
	result.Eligible = result.Reason == domain.PromotionRejectionNone
	result.Promotion = promo
	return result, nil
}

func (s *promotionService) GetPromotion(ctx context.Context, tenantID, promotionID string) (Promotion, error) {
	tenantID = strings.TrimSpace(tenantID)
	promotionID = strings.TrimSpace(promotionID)
	if tenantID == "" || promotionID == "" {
		return Promotion{}, ErrPromotionInvalidInput
	}
	promo, err := s.repo.FindByID(ctx, tenantID, promotionID)
	if err != nil {
		return Promotion{}, translatePromotionRepoError(err)
	}
	return promo, nil
}

func (s *promotionService) ListPromotions(ctx context.Context, filter PromotionListFilter) (domain.CursorPage[Promotion], error) {
	if strings.TrimSpace(filter.TenantID) == "" {
		return domain.CursorPage[Promotion]{}, ErrPromotionInvalidInput
	}
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultPromotionPageSize
	}
	page, err := s.repo.List(ctx, repositories.PromotionListFilter{
		TenantID:   strings.TrimSpace(filter.TenantID),
		ActiveOnly: filter.ActiveOnly,
		Pagination: domain.Pagination{PageSize: pageSize, PageToken: filter.Pagination.PageToken},
	})
	if err != nil {
		return domain.CursorPage[Promotion]{}, translatePromotionRepoError(err)
	}
	return page, nil
}

func (s *promotionService) CreatePromotion(ctx context.Context, cmd UpsertPromotionCommand) (Promotion, error) {
	promo, err := s.normalizePromotion(cmd)
	if err != nil {
		return Promotion{}, err
	}
	if err := s.ensureCodeAvailable(ctx, promo.TenantID, promo.Code, ""); err != nil {
		return Promotion{}, err
	}

	now := s.clock()
	promo.ID = s.newID()
	promo.UsageCount = 0
	promo.CreatedAt = now
	promo.UpdatedAt = now

	if err := s.repo.Insert(ctx, promo); err != nil {
		return Promotion{}, translatePromotionRepoError(err)
	}
	s.logger(ctx, "promotion.created", map[string]any{
		"tenantId":    promo.TenantID,
		"promotionId": promo.ID,
		"code":        promo.Code,
		"kind":        string(promo.Discount.Kind()),
		"actorId":     cmd.ActorID,
	})
	return promo, nil
}

func (s *promotionService) UpdatePromotion(ctx context.Context, cmd UpsertPromotionCommand) (Promotion, error) {
	promo, err := s.normalizePromotion(cmd)
	if err != nil {
		return Promotion{}, err
	}
	promo.ID = strings.TrimSpace(promo.ID)
	if promo.ID == "" {
		return Promotion{}, fmt.Errorf("%w: promotion id is required", ErrPromotionInvalidInput)
	}

	existing, err := s.repo.FindByID(ctx, promo.TenantID, promo.ID)
	if err != nil {
		return Promotion{}, translatePromotionRepoError(err)
	}
	if err := s.ensureCodeAvailable(ctx, promo.TenantID, promo.Code, promo.ID); err != nil {
		return Promotion{}, err
	}

	promo.UsageCount = existing.UsageCount
	promo.CreatedAt = existing.CreatedAt
	promo.UpdatedAt = s.clock()

	if err := s.repo.Update(ctx, promo); err != nil {
		return Promotion{}, translatePromotionRepoError(err)
	}
	s.logger(ctx, "promotion.updated", map[string]any{
		"tenantId":    promo.TenantID,
		"promotionId": promo.ID,
		"actorId":     cmd.ActorID,
	})
	return promo, nil
}

func (s *promotionService) DeletePromotion(ctx context.Context, tenantID, promotionID string) error {
	tenantID = strings.TrimSpace(tenantID)
	promotionID = strings.TrimSpace(promotionID)
	if tenantID == "" || promotionID == "" {
		return ErrPromotionInvalidInput
	}
	if err := s.repo.Delete(ctx, tenantID, promotionID); err != nil {
		return translatePromotionRepoError(err)
	}
	s.logger(ctx, "promotion.deleted", map[string]any{
		"tenantId":    tenantID,
		"promotionId": promotionID,
	})
	return nil
}

// RecordUsage increments the redemption count. It is not idempotent: call it once per placed order,
// inside the order transaction.
func (s *promotionService) RecordUsage(ctx context.Context, tenantID, promotionID string) (Promotion, error) {
	tenantID = strings.TrimSpace(tenantID)
	promotionID = strings.TrimSpace(promotionID)
	if tenantID == "" || promotionID == "" {
		return Promotion{}, ErrPromotionInvalidInput
	}
	promo, err := s.repo.IncrementUsage(ctx, tenantID, promotionID, s.clock())
	if err != nil {
		var usageErr *repositories.PromotionUsageError
		if errors.As(err, &usageErr) {
			return Promotion{}, fmt.Errorf("%w: %s", ErrPromotionUsageExhausted, usageErr.Message)
		}
		return Promotion{}, translatePromotionRepoError(err)
	}
	return promo, nil
}

func (s *promotionService) normalizePromotion(cmd UpsertPromotionCommand) (Promotion, error) {
	promo := cmd.Promotion
	promo.TenantID = strings.TrimSpace(cmd.TenantID)
	if promo.TenantID == "" {
		return Promotion{}, fmt.Errorf("%w: tenant is required", ErrPromotionInvalidInput)
	}

	promo.Code = normalizePromotionCode(promo.Code)
	if promo.Code == "" || len(promo.Code) > maxPromotionCodeLength {
		return Promotion{}, ErrPromotionInvalidCode
	}
	for _, r := range promo.Code {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return Promotion{}, ErrPromotionInvalidCode
		}
	}

	description := strings.TrimSpace(s.sanitizer.Sanitize(promo.Description))
	promo.Description = truncateUTF8(description, maxPromotionDescLength)

	if err := validateDiscount(promo.Discount, promo.Target); err != nil {
		return Promotion{}, err
	}
	if promo.MinSpend != nil && promo.MinSpend.IsNegative() {
		return Promotion{}, fmt.Errorf("%w: minimum spend must not be negative", ErrPromotionInvalidInput)
	}
	if promo.MaxUsage != nil && *promo.MaxUsage <= 0 {
		return Promotion{}, fmt.Errorf("%w: max usage must be positive", ErrPromotionInvalidInput)
	}
	if promo.StartsAt != nil {
		start := promo.StartsAt.UTC()
		promo.StartsAt = &start
	}
	if promo.EndsAt != nil {
		end := promo.EndsAt.UTC()
		promo.EndsAt = &end
	}
	if promo.StartsAt != nil && promo.EndsAt != nil && promo.EndsAt.Before(*promo.StartsAt) {
		return Promotion{}, fmt.Errorf("%w: end must not precede start", ErrPromotionInvalidInput)
	}

	promo.Target.Category = strings.TrimSpace(promo.Target.Category)
	promo.Target.ProductIDs = dedupeStrings(promo.Target.ProductIDs)
	return promo, nil
}

func validateDiscount(discount domain.PromotionDiscount, target domain.PromotionTarget) error {
	hundred := decimal.NewFromInt(100)
	switch d := discount.(type) {
	case domain.PercentageOff:
		if !d.Percent.IsPositive() || d.Percent.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage must be in (0, 100]", ErrPromotionInvalidInput)
		}
	case domain.TargetedPercentageOff:
		if !d.Percent.IsPositive() || d.Percent.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage must be in (0, 100]", ErrPromotionInvalidInput)
		}
		if target.IsZero() {
			return fmt.Errorf("%w: targeted promotions need a category or product ids", ErrPromotionInvalidInput)
		}
	case domain.FixedAmountOff:
		if !d.Amount.IsPositive() {
			return fmt.Errorf("%w: fixed amount must be positive", ErrPromotionInvalidInput)
		}
	case domain.FreeShipping:
	default:
		return fmt.Errorf("%w: discount is required", ErrPromotionInvalidInput)
	}
	return nil
}

func (s *promotionService) ensureCodeAvailable(ctx context.Context, tenantID, code, selfID string) error {
	existing, err := s.repo.ListByCode(ctx, tenantID, code)
	if err != nil {
		return translatePromotionRepoError(err)
	}
	for _, promo := range existing {
		if promo.ID != selfID {
			return fmt.Errorf("%w: code %s already exists", ErrPromotionConflict, code)
		}
	}
	return nil
}

func translatePromotionRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPromotionNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPromotionConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrPromotionUnavailable, err)
		}
	}
	return err
}

// truncateUTF8 cuts value to at most limit bytes without splitting a rune.
func truncateUTF8(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

func normalizePromotionCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
