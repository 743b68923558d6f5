package order

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-api/internal/domain/cart"
	"github.com/xenking/storefront-api/internal/domain/coupon"
	"github.com/xenking/storefront-api/internal/domain/inventory"
	"github.com/xenking/storefront-api/internal/domain/pricing"
)

// Reader loads fully-populated orders (items, history, notes).
type Reader interface {
	// GetOrder returns ErrNotFound when no order matches.
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	// FindByIdempotencyKey returns ErrNotFound when no order matches.
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*Order, error)
}

// Store is the persistence boundary of the checkout service. Everything
// inside Checkout runs on one serializable transaction; the remaining
// methods are pre-transaction precondition reads.
type Store interface {
	Reader

	// UserOwnsAddress reports whether the address exists and belongs to the user.
	UserOwnsAddress(ctx context.Context, userID, addressID string) (bool, error)
	// ShippingMethodPrice returns the flat price of an active shipping
	// method, or ErrInvalidShippingMethod.
	ShippingMethodPrice(ctx context.Context, methodID string) (decimal.Decimal, error)

	// Checkout runs fn inside a serializable transaction with an extended
	// timeout. A non-nil error from fn rolls back every write. A unique
	// violation on (user_id, idempotency_key) at commit surfaces as
	// ErrIdempotencyConflict.
	Checkout(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional handle passed to the checkout body. The cart,
// coupon counters, and stock are all read and written through it, so there
// is no separate locking discipline.
type Tx interface {
	Reader

	// CartLines loads the user's cart restricted to active, non-deleted
	// products, in stored cart order.
	CartLines(ctx context.Context, userID string) ([]cart.Line, error)
	// CouponByCode performs a case-insensitive lookup of a non-deleted
	// coupon. Returns nil when no coupon matches.
	CouponByCode(ctx context.Context, code string) (*coupon.Coupon, error)
	// CountCouponUsages counts the user's existing usage records for a coupon.
	CountCouponUsages(ctx context.Context, couponID, userID string) (int, error)
	// RedeemCoupon atomically increments used_count if the global cap still
	// has room. Returns false when the conditional update matched no row.
	RedeemCoupon(ctx context.Context, couponID string) (bool, error)
	// PricingConfig resolves tax and shipping settings.
	PricingConfig(ctx context.Context) (pricing.Config, error)
	// DecrementStock conditionally subtracts qty from the product's (or,
	// when variantID is set, the variant's) stock. ok is false when stock
	// was insufficient; newStock is valid only when ok.
	DecrementStock(ctx context.Context, productID, variantID string, qty int) (newStock int, ok bool, err error)

	InsertOrder(ctx context.Context, o *Order) error
	InsertCouponUsage(ctx context.Context, u CouponUsage) error
	InsertStatusHistory(ctx context.Context, orderID string, h StatusHistory) error
	InsertNote(ctx context.Context, orderID string, n Note) error
	InsertInventoryLog(ctx context.Context, e inventory.LogEntry) error
	// ClearCart deletes all of the user's cart rows.
	ClearCart(ctx context.Context, userID string) error
}
