package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/storefront-api/internal/domain/cart"
	"github.com/xenking/storefront-api/internal/domain/coupon"
	"github.com/xenking/storefront-api/internal/domain/inventory"
	"github.com/xenking/storefront-api/internal/domain/pricing"
)

// PlaceOrderRequest is the input for placing an order. Client metadata is
// pass-through audit context captured by the HTTP layer.
type PlaceOrderRequest struct {
	UserID            string
	ShippingAddressID string
	ShippingMethodID  string
	Notes             string
	Priority          Priority
	Source            Source
	CouponCode        string
	IdempotencyKey    string
	ClientIP          string
	UserAgent         string
	Referrer          string
	UTMSource         string
	UTMMedium         string
	UTMCampaign       string
}

// PlaceOrderResult is the outcome of PlaceOrder. Replayed is true when an
// existing order was returned for a duplicate idempotency key.
type PlaceOrderResult struct {
	Order    *Order
	Replayed bool
}

// Service orchestrates the checkout transaction.
type Service struct {
	store  Store
	tracer trace.Tracer
	now    func() time.Time
}

// NewService creates a checkout Service backed by the given store.
func NewService(store Store) *Service {
	return &Service{
		store:  store,
		tracer: otel.Tracer("checkout"),
		now:    time.Now,
	}
}

// PlaceOrder runs the full checkout: idempotency pre-check, precondition
// reads, then a single serializable transaction performing the cart
// snapshot, coupon validation, pricing, conditional stock decrements, and
// all order writes. Any error inside the transaction rolls back every write.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "PlaceOrder",
		trace.WithAttributes(attribute.String("user.id", req.UserID)))
	defer span.End()

	if req.Priority == "" {
		req.Priority = PriorityNormal
	}
	if req.Source == "" {
		req.Source = SourceWebsite
	}

	// Idempotency pre-check. This is a latency optimization only: the
	// unique (user_id, idempotency_key) constraint is the real guarantee.
	if req.IdempotencyKey != "" {
		existing, err := s.store.FindByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		switch {
		case err == nil:
			span.SetAttributes(attribute.Bool("order.replayed", true))
			return &PlaceOrderResult{Order: existing, Replayed: true}, nil
		case !errors.Is(err, ErrNotFound):
			return nil, errors.Wrap(err, "idempotency pre-check")
		}
	}

	// Cheap precondition reads, outside the transaction.
	if req.ShippingAddressID != "" {
		ok, err := s.store.UserOwnsAddress(ctx, req.UserID, req.ShippingAddressID)
		if err != nil {
			return nil, errors.Wrap(err, "check address")
		}
		if !ok {
			return nil, ErrInvalidAddress
		}
	}

	var methodPrice *decimal.Decimal
	if req.ShippingMethodID != "" {
		price, err := s.store.ShippingMethodPrice(ctx, req.ShippingMethodID)
		if err != nil {
			return nil, err
		}
		methodPrice = &price
	}

	var placed *Order
	err := s.store.Checkout(ctx, func(tx Tx) error {
		o, txErr := s.checkout(ctx, tx, req, methodPrice)
		placed = o
		return txErr
	})
	if err != nil {
		// Lost the idempotency race to a concurrent retry: the committed
		// order is the result.
		if errors.Is(err, ErrIdempotencyConflict) && req.IdempotencyKey != "" {
			existing, ferr := s.store.FindByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
			if ferr != nil {
				return nil, errors.Wrap(ferr, "fetch order after idempotency conflict")
			}
			span.SetAttributes(attribute.Bool("order.replayed", true))
			return &PlaceOrderResult{Order: existing, Replayed: true}, nil
		}
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", placed.ID))
	return &PlaceOrderResult{Order: placed}, nil
}

// checkout is the transaction body. Every read and write goes through tx so
// concurrent checkouts racing for the last unit of stock or the last allowed
// coupon use are serialized by the database.
func (s *Service) checkout(ctx context.Context, tx Tx, req PlaceOrderRequest, methodPrice *decimal.Decimal) (*Order, error) {
	lines, err := tx.CartLines(ctx, req.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	subtotal := cart.Subtotal(lines)

	// Coupon validation happens inside the transaction so concurrent
	// checkouts see a serialized view of used_count.
	var (
		applied  *coupon.Coupon
		discount = decimal.Zero
	)
	if req.CouponCode != "" {
		applied, discount, err = s.applyCoupon(ctx, tx, req, subtotal)
		if err != nil {
			return nil, err
		}
	}

	cfg, err := tx.PricingConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load pricing config")
	}
	quote, err := pricing.Calculate(subtotal, discount, methodPrice, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "calculate totals")
	}

	// Conditional stock decrements, in stored cart order. A single failure
	// aborts immediately; the rollback undoes earlier decrements.
	newStocks := make([]int, len(lines))
	for i, line := range lines {
		newStock, ok, derr := tx.DecrementStock(ctx, line.ProductID, line.VariantID, line.Quantity)
		if derr != nil {
			return nil, errors.Wrapf(derr, "decrement stock for %s", line.ProductID)
		}
		if !ok {
			return nil, &StockError{ProductName: line.ProductName, Quantity: line.Quantity}
		}
		newStocks[i] = newStock
	}

	o := s.buildOrder(req, lines, quote, applied)
	if err := tx.InsertOrder(ctx, o); err != nil {
		return nil, errors.Wrap(err, "insert order")
	}

	couponSummary := ""
	if applied != nil {
		ok, rerr := tx.RedeemCoupon(ctx, applied.ID)
		if rerr != nil {
			return nil, errors.Wrap(rerr, "redeem coupon")
		}
		if !ok {
			// A concurrent checkout took the last allowed use after our
			// eligibility check.
			return nil, &coupon.Error{Reason: coupon.ReasonExhausted, Message: "coupon has reached its maximum usage limit"}
		}
		usage := CouponUsage{
			ID:       uuid.New().String(),
			CouponID: applied.ID,
			UserID:   req.UserID,
			OrderID:  o.ID,
			Discount: quote.Discount,
		}
		if err := tx.InsertCouponUsage(ctx, usage); err != nil {
			return nil, errors.Wrap(err, "insert coupon usage")
		}
		couponSummary = fmt.Sprintf("%s (-$%s)", applied.Code, quote.Discount.StringFixed(2))
	}

	history := StatusHistory{
		ID:       uuid.New().String(),
		From:     StatusPending,
		To:       StatusPending,
		Metadata: creationMetadata(o, couponSummary),
	}
	if err := tx.InsertStatusHistory(ctx, o.ID, history); err != nil {
		return nil, errors.Wrap(err, "insert status history")
	}

	if req.Notes != "" {
		note := Note{ID: uuid.New().String(), Body: req.Notes, Internal: false}
		if err := tx.InsertNote(ctx, o.ID, note); err != nil {
			return nil, errors.Wrap(err, "insert note")
		}
	}

	for i, line := range lines {
		entry := inventory.LogEntry{
			ID:        uuid.New().String(),
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Change:    -line.Quantity,
			NewStock:  newStocks[i],
			Reason:    inventory.ReasonSale,
			OrderID:   o.ID,
			ActorID:   req.UserID,
		}
		if err := tx.InsertInventoryLog(ctx, entry); err != nil {
			return nil, errors.Wrap(err, "insert inventory log")
		}
	}

	// The cart is authoritative only until checkout commits.
	if err := tx.ClearCart(ctx, req.UserID); err != nil {
		return nil, errors.Wrap(err, "clear cart")
	}

	populated, err := tx.GetOrder(ctx, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "reload order")
	}
	return populated, nil
}

// applyCoupon looks up, checks, and prices the coupon. The used_count
// increment is deferred to RedeemCoupon so it lands after the order row.
func (s *Service) applyCoupon(ctx context.Context, tx Tx, req PlaceOrderRequest, subtotal decimal.Decimal) (*coupon.Coupon, decimal.Decimal, error) {
	c, err := tx.CouponByCode(ctx, req.CouponCode)
	if err != nil {
		return nil, decimal.Zero, errors.Wrap(err, "lookup coupon")
	}

	usages := 0
	if c != nil {
		usages, err = tx.CountCouponUsages(ctx, c.ID, req.UserID)
		if err != nil {
			return nil, decimal.Zero, errors.Wrap(err, "count coupon usages")
		}
	}

	if err := coupon.Check(c, s.now(), usages, subtotal); err != nil {
		return nil, decimal.Zero, err
	}
	return c, coupon.Discount(c, subtotal), nil
}

func (s *Service) buildOrder(req PlaceOrderRequest, lines []cart.Line, quote pricing.Quote, applied *coupon.Coupon) *Order {
	o := &Order{
		ID:                uuid.New().String(),
		UserID:            req.UserID,
		Status:            StatusPending,
		PaymentStatus:     PaymentPending,
		Priority:          req.Priority,
		Source:            req.Source,
		Subtotal:          quote.Subtotal,
		Discount:          quote.Discount,
		Tax:               quote.Tax,
		Shipping:          quote.Shipping,
		Total:             quote.Total,
		ShippingAddressID: req.ShippingAddressID,
		ShippingMethodID:  req.ShippingMethodID,
		IdempotencyKey:    req.IdempotencyKey,
		ClientIP:          req.ClientIP,
		UserAgent:         req.UserAgent,
		Referrer:          req.Referrer,
		UTMSource:         req.UTMSource,
		UTMMedium:         req.UTMMedium,
		UTMCampaign:       req.UTMCampaign,
	}
	if applied != nil {
		o.CouponID = applied.ID
		o.CouponCode = applied.Code
	}
	o.Items = make([]Item, len(lines))
	for i, line := range lines {
		o.Items[i] = Item{
			ID:          uuid.New().String(),
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			VariantID:   line.VariantID,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
		}
	}
	return o
}
