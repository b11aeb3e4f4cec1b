package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/storefront-commerce/api/internal/domain"
	"github.com/storefront-commerce/api/internal/payments"
	"github.com/storefront-commerce/api/internal/repositories"
)

const (
	orderIDPrefix               = "ord_"
	defaultOrderPageSize        = 20
	checkoutRefundReason        = "requested_by_customer"
	paymentProviderNone         = "none"
	paymentStatusNotRequired    = "not_required"
	checkoutAuditNotePaid       = "payment captured at checkout"
	checkoutMaxIdempotencyKeyLn = 128
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutCartNotReady indicates the cart is missing required data for checkout.
	ErrCheckoutCartNotReady = errors.New("checkout: cart not ready")
	// ErrCheckoutConflict indicates a concurrent modification or exhausted promotion prevented completing checkout.
	ErrCheckoutConflict = errors.New("checkout: conflict")
	// ErrCheckoutPaymentFailed indicates the payment could not be captured.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
	// ErrOrderNotFound indicates no order exists for the tenant and identifier.
	ErrOrderNotFound = errors.New("checkout: order not found")
)

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts       CartService
	Promotions  PromotionService
	Orders      repositories.OrderRepository
	Payments    payments.Gateway
	UnitOfWork  repositories.UnitOfWork
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	carts      CartService
	promotions PromotionService
	orders     repositories.OrderRepository
	payments   payments.Gateway
	unitOfWork repositories.UnitOfWork
	events     OrderEventPublisher
	now        func() time.Time
	newID      func() string
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart service is required")
	}
	if deps.Promotions == nil {
		return nil, errors.New("checkout service: promotion service is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment gateway is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		carts:      deps.Carts,
		promotions: deps.Promotions,
		orders:     deps.Orders,
		payments:   deps.Payments,
		unitOfWork: unit,
		events:     deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// PlaceOrder charges the quoted total and persists the order. Payment is captured before the
// transaction; if the transaction fails the charge is refunded and the cart is left intact.
func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	ctx, span := tracer.Start(ctx, "checkout.PlaceOrder", trace.WithAttributes(
		attribute.String("checkout.tenant", cmd.TenantID),
	))
	defer span.End()

	order, err := s.placeOrder(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Order{}, err
	}
	span.SetAttributes(attribute.String("checkout.order", order.ID))
	return order, nil
}

func (s *checkoutService) placeOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	key := CartKey{TenantID: strings.TrimSpace(cmd.TenantID), CustomerID: strings.TrimSpace(cmd.CustomerID)}
	if !key.Valid() {
		return Order{}, fmt.Errorf("%w: tenant and customer are required", ErrCheckoutInvalidInput)
	}
	address, err := normalizeShippingAddress(cmd.ShippingAddress)
	if err != nil {
		return Order{}, err
	}
	idempotencyKey := strings.TrimSpace(cmd.IdempotencyKey)
	if len(idempotencyKey) > checkoutMaxIdempotencyKeyLn {
		return Order{}, fmt.Errorf("%w: idempotency key is too long", ErrCheckoutInvalidInput)
	}

	cart, err := s.carts.GetCart(ctx, key)
	if err != nil {
		return Order{}, translateCheckoutCartError(err)
	}
	if cart.IsEmpty() {
		return Order{}, fmt.Errorf("%w: cart is empty", ErrCheckoutCartNotReady)
	}

	quote, err := s.carts.Quote(ctx, QuoteCommand{
		Key:              key,
		Destination:      address.Country,
		ShippingOptionID: cmd.ShippingOptionID,
	})
	if err != nil {
		return Order{}, translateCheckoutCartError(err)
	}
	if cart.PromotionCode != "" && quote.Promotion == nil {
		fields := map[string]any{"cart": key.String(), "code": cart.PromotionCode}
		if quote.PromotionResult != nil {
			fields["reason"] = string(quote.PromotionResult.Reason)
		}
		s.logger(ctx, "checkout.promotion.dropped", fields)
	}

	now := s.now()
	orderID := orderIDPrefix + s.newID()
	if idempotencyKey == "" {
		idempotencyKey = orderID
	}
	currency := quote.Totals.Currency

	payment, charged, err := s.capturePayment(ctx, cmd, key, orderID, idempotencyKey, currency, quote.Totals.Total, now)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:               orderID,
		TenantID:         key.TenantID,
		CustomerID:       key.CustomerID,
		Status:           domain.OrderStatusPaid,
		Currency:         currency,
		Wholesale:        cart.Wholesale,
		Lines:            snapshotOrderLines(cart.Lines, currency, cart.Wholesale),
		Totals:           quote.Totals,
		Promotion:        appliedPromotion(quote.Promotion),
		ShippingAddress:  address,
		ShippingOptionID: strings.TrimSpace(cmd.ShippingOptionID),
		Payment:          payment,
		Audit: []domain.OrderAuditEntry{{
			From:      "",
			To:        domain.OrderStatusPaid,
			Actor:     key.CustomerID,
			Note:      checkoutAuditNotePaid,
			CreatedAt: now,
		}},
		IdempotencyKey: idempotencyKey,
		PlacedAt:       now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if quote.Promotion != nil {
			if _, err := s.promotions.RecordUsage(txCtx, key.TenantID, quote.Promotion.ID); err != nil {
				return err
			}
		}
		return s.orders.Insert(txCtx, order)
	})
	if err != nil {
		if charged {
			s.compensate(ctx, order, err)
		}
		return Order{}, translateCheckoutPersistError(err)
	}

	if err := s.carts.Clear(ctx, key); err != nil {
		s.logger(ctx, "checkout.cart_clear.failed", map[string]any{
			"orderId": order.ID,
			"cart":    key.String(),
			"error":   err.Error(),
		})
	}
	s.publishOrderPlaced(ctx, order)
	s.logger(ctx, "checkout.order.placed", map[string]any{
		"orderId":  order.ID,
		"tenantId": order.TenantID,
		"total":    order.Totals.Total.String(),
		"currency": order.Currency,
	})
	return order, nil
}

func (s *checkoutService) capturePayment(ctx context.Context, cmd PlaceOrderCommand, key CartKey, orderID, idempotencyKey, currency string, total decimal.Decimal, now time.Time) (domain.PaymentDetails, bool, error) {
	amount, err := payments.RoundForCharge(total, currency)
	if err != nil {
		return domain.PaymentDetails{}, false, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	if !amount.IsPositive() {
		return domain.PaymentDetails{
			Provider:    paymentProviderNone,
			Status:      paymentStatusNotRequired,
			Amount:      decimal.Zero,
			Currency:    currency,
			ProcessedAt: now,
		}, false, nil
	}

	details, err := s.payments.Charge(ctx, payments.PaymentContext{
		PreferredProvider: strings.TrimSpace(cmd.PaymentProvider),
		Currency:          currency,
	}, payments.ChargeRequest{
		Amount:         amount,
		Currency:       currency,
		CustomerID:     key.CustomerID,
		PaymentMethod:  strings.TrimSpace(cmd.PaymentMethod),
		Description:    "Order " + orderID,
		IdempotencyKey: "charge_" + idempotencyKey,
		Metadata: map[string]string{
			"orderId":  orderID,
			"tenantId": key.TenantID,
		},
	})
	if err != nil {
		s.logger(ctx, "checkout.payment.declined", map[string]any{
			"orderId":  orderID,
			"cart":     key.String(),
			"provider": cmd.PaymentProvider,
			"error":    err.Error(),
		})
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return domain.PaymentDetails{}, false, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		}
		return domain.PaymentDetails{}, false, fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
	}

	processedAt := details.ProcessedAt
	if processedAt.IsZero() {
		processedAt = now
	}
	return domain.PaymentDetails{
		Provider:      details.Provider,
		Method:        details.Method,
		TransactionID: details.TransactionID,
		Status:        string(details.Status),
		Amount:        details.Amount,
		Currency:      details.Currency,
		ProcessedAt:   processedAt.UTC(),
	}, true, nil
}

func (s *checkoutService) compensate(ctx context.Context, order Order, cause error) {
	amount := order.Payment.Amount
	_, err := s.payments.Refund(ctx, payments.PaymentContext{
		PreferredProvider: order.Payment.Provider,
		Currency:          order.Payment.Currency,
	}, payments.RefundRequest{
		TransactionID:  order.Payment.TransactionID,
		Amount:         &amount,
		Currency:       order.Payment.Currency,
		Reason:         checkoutRefundReason,
		IdempotencyKey: "refund_" + order.IdempotencyKey,
		Metadata:       map[string]string{"orderId": order.ID, "tenantId": order.TenantID},
	})
	fields := map[string]any{
		"orderId":       order.ID,
		"transactionId": order.Payment.TransactionID,
		"cause":         cause.Error(),
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logger(ctx, "checkout.refund.failed", fields)
		return
	}
	s.logger(ctx, "checkout.payment.compensated", fields)
}

func (s *checkoutService) publishOrderPlaced(ctx context.Context, order Order) {
	if s.events == nil {
		return
	}
	event := OrderPlacedEvent{
		OrderID:        order.ID,
		TenantID:       order.TenantID,
		CustomerID:     order.CustomerID,
		SellerIDs:      order.SellerIDs(),
		Currency:       order.Currency,
		Total:          order.Totals.Total,
		SellerPayout:   order.Totals.SellerPayout,
		PlatformFee:    order.Totals.PlatformFee.Base,
		IdempotencyKey: order.IdempotencyKey,
		PlacedAt:       order.PlacedAt.Format(time.RFC3339Nano),
	}
	if order.Promotion != nil {
		event.PromotionID = order.Promotion.PromotionID
	}
	if err := s.events.PublishOrderPlaced(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  "order.placed",
			"order": order.ID,
			"error": err.Error(),
		})
	}
}

func (s *checkoutService) GetOrder(ctx context.Context, tenantID, orderID string) (Order, error) {
	tenantID = strings.TrimSpace(tenantID)
	orderID = strings.TrimSpace(orderID)
	if tenantID == "" || orderID == "" {
		return Order{}, ErrCheckoutInvalidInput
	}
	order, err := s.orders.FindByID(ctx, tenantID, orderID)
	if err != nil {
		return Order{}, translateOrderRepoError(err)
	}
	return order, nil
}

func (s *checkoutService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	tenantID := strings.TrimSpace(filter.TenantID)
	if tenantID == "" {
		return domain.CursorPage[Order]{}, ErrCheckoutInvalidInput
	}
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultOrderPageSize
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		TenantID:   tenantID,
		CustomerID: strings.TrimSpace(filter.CustomerID),
		Pagination: domain.Pagination{PageSize: pageSize, PageToken: filter.Pagination.PageToken},
	})
	if err != nil {
		return domain.CursorPage[Order]{}, translateOrderRepoError(err)
	}
	return page, nil
}

func normalizeShippingAddress(addr Address) (Address, error) {
	addr.Recipient = strings.TrimSpace(addr.Recipient)
	addr.Line1 = strings.TrimSpace(addr.Line1)
	addr.City = strings.TrimSpace(addr.City)
	addr.PostalCode = strings.TrimSpace(addr.PostalCode)
	addr.Country = strings.ToUpper(strings.TrimSpace(addr.Country))
	switch {
	case addr.Recipient == "":
		return Address{}, fmt.Errorf("%w: recipient is required", ErrCheckoutInvalidInput)
	case addr.Line1 == "":
		return Address{}, fmt.Errorf("%w: address line1 is required", ErrCheckoutInvalidInput)
	case addr.City == "":
		return Address{}, fmt.Errorf("%w: city is required", ErrCheckoutInvalidInput)
	case addr.PostalCode == "":
		return Address{}, fmt.Errorf("%w: postal code is required", ErrCheckoutInvalidInput)
	case len(addr.Country) != 2:
		return Address{}, fmt.Errorf("%w: country must be an ISO 3166 alpha-2 code", ErrCheckoutInvalidInput)
	}
	return addr, nil
}

func snapshotOrderLines(lines []CartLine, currency string, wholesale bool) []domain.OrderLine {
	out := make([]domain.OrderLine, 0, len(lines))
	for _, line := range lines {
		unit := line.EffectiveUnitPrice(currency, wholesale)
		var variation *string
		if line.VariationID != nil {
			v := *line.VariationID
			variation = &v
		}
		out = append(out, domain.OrderLine{
			ProductID:   line.ProductID,
			SellerID:    line.SellerID,
			Name:        line.Name,
			Category:    line.Category,
			SubCategory: line.SubCategory,
			VariationID: variation,
			Quantity:    line.Quantity,
			UnitPrice:   unit,
			LineTotal:   unit.Mul(decimal.NewFromInt(int64(line.Quantity))),
		})
	}
	return out
}

func translateCheckoutCartError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCartInvalidInput):
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	case errors.Is(err, ErrCartConflict):
		return fmt.Errorf("%w: %v", ErrCheckoutConflict, err)
	case errors.Is(err, ErrCartNotFound):
		return fmt.Errorf("%w: %v", ErrCheckoutCartNotReady, err)
	default:
		return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
}

func translateCheckoutPersistError(err error) error {
	if errors.Is(err, ErrPromotionUsageExhausted) || errors.Is(err, ErrPromotionConflict) {
		return fmt.Errorf("%w: %v", ErrCheckoutConflict, err)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		return fmt.Errorf("%w: %v", ErrCheckoutConflict, err)
	}
	return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
}

func translateOrderRepoError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrCheckoutConflict
		}
	}
	return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
