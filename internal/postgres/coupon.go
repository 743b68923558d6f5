package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-api/internal/domain/coupon"
	"github.com/xenking/storefront-api/internal/domain/order"
)

const getCouponByCodeSQL = `SELECT id, code, discount_type, value, starts_at, expires_at,
		max_uses, max_uses_per_user, min_amount, used_count, active
	FROM coupons
	WHERE UPPER(code) = UPPER($1) AND deleted_at IS NULL`

// The conditional increment is what actually enforces the global cap under
// concurrency; zero rows affected means a concurrent checkout took the last use.
const redeemCouponSQL = `UPDATE coupons SET used_count = used_count + 1
	WHERE id = $1 AND (max_uses IS NULL OR max_uses = 0 OR used_count < max_uses)`

// CouponByCode looks up a non-deleted coupon case-insensitively. A missing
// code returns (nil, nil); eligibility is the domain layer's concern.
func (q queries) CouponByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := q.db.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &c, nil
}

// CountCouponUsages counts the user's existing redemptions of a coupon.
func (q queries) CountCouponUsages(ctx context.Context, couponID, userID string) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`,
		couponID, userID).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(err, "count usages for coupon %q", couponID)
	}
	return n, nil
}

// RedeemCoupon atomically advances used_count while the global cap has room.
func (q queries) RedeemCoupon(ctx context.Context, couponID string) (bool, error) {
	tag, err := q.db.Exec(ctx, redeemCouponSQL, couponID)
	if err != nil {
		return false, errors.Wrapf(err, "redeem coupon %q", couponID)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertCouponUsage records the durable coupon/user/order link used to
// enforce per-user caps.
func (q queries) InsertCouponUsage(ctx context.Context, u order.CouponUsage) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO coupon_usages (id, coupon_id, user_id, order_id, discount) VALUES ($1,$2,$3,$4,$5)`,
		u.ID, u.CouponID, u.UserID, u.OrderID, u.Discount)
	if err != nil {
		return errors.Wrapf(err, "insert usage for coupon %q", u.CouponID)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c                   coupon.Coupon
		maxUses, maxPerUser *int32
		minAmount           decimal.NullDecimal
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.DiscountType, &c.Value, &c.StartsAt, &c.ExpiresAt,
		&maxUses, &maxPerUser, &minAmount, &c.UsedCount, &c.Active,
	)
	if maxUses != nil {
		c.MaxUses = int(*maxUses)
	}
	if maxPerUser != nil {
		c.MaxUsesPerUser = int(*maxPerUser)
	}
	if minAmount.Valid {
		c.MinAmount = &minAmount.Decimal
	}
	return c, err
}
