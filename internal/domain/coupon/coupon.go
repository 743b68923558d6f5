// Package coupon implements discount codes with activation windows, usage
// caps, and minimum-order constraints.
package coupon

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies value% of the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary amount capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
)

// Coupon is a discount code row. UsedCount is the running global redemption
// counter; it is only ever advanced through an atomic conditional increment
// at the storage layer, never read-modify-written in the application.
type Coupon struct {
	ID             string
	Code           string
	DiscountType   DiscountType
	Value          decimal.Decimal
	StartsAt       *time.Time
	ExpiresAt      *time.Time
	MaxUses        int // 0 = unlimited
	MaxUsesPerUser int // 0 = unlimited
	MinAmount      *decimal.Decimal
	UsedCount      int
	Active         bool
}

// Reason classifies why a coupon was rejected.
type Reason int

const (
	ReasonInvalid Reason = iota
	ReasonNotStarted
	ReasonExpired
	ReasonExhausted
	ReasonUserLimit
	ReasonMinAmount
)

// Error is a coupon rejection with a structured reason. Callers branch on
// Reason rather than matching message substrings.
type Error struct {
	Reason  Reason
	Message string
}

func (e *Error) Error() string { return e.Message }

func reject(reason Reason, format string, args ...any) *Error {
	return &Error{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Check runs the eligibility checks in order, stopping at the first failure.
// userUsages is the number of this user's existing usage records for the
// coupon; subtotal is the pre-discount cart subtotal. The global MaxUses
// check here is advisory: the authoritative enforcement is the conditional
// used_count increment performed when the order commits.
func Check(c *Coupon, now time.Time, userUsages int, subtotal decimal.Decimal) error {
	if c == nil || !c.Active {
		return reject(ReasonInvalid, "invalid or inactive coupon")
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return reject(ReasonNotStarted, "coupon is not active until %s", c.StartsAt.Format("Jan 2, 2006"))
	}
	// A coupon expiring "today" stays valid for the whole calendar day.
	if c.ExpiresAt != nil && now.After(endOfDay(*c.ExpiresAt)) {
		return reject(ReasonExpired, "coupon expired on %s", c.ExpiresAt.Format("Jan 2, 2006"))
	}
	if c.MaxUses > 0 && c.UsedCount >= c.MaxUses {
		return reject(ReasonExhausted, "coupon has reached its maximum usage limit")
	}
	if c.MaxUsesPerUser > 0 && userUsages >= c.MaxUsesPerUser {
		return reject(ReasonUserLimit, "you have already used this coupon %d time(s)", userUsages)
	}
	if c.MinAmount != nil && subtotal.LessThan(*c.MinAmount) {
		return reject(ReasonMinAmount, "order must be at least $%s to use this coupon", c.MinAmount.StringFixed(2))
	}
	return nil
}

// Discount computes the discount amount for the given pre-discount subtotal,
// clamped to the subtotal and rounded to 2 decimal places.
func Discount(c *Coupon, subtotal decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		amount = subtotal.Mul(c.Value).Div(decimal.NewFromInt(100))
	case DiscountFixed:
		amount = c.Value
	default:
		return decimal.Zero
	}
	amount = decimal.Min(amount, subtotal)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.Round(2)
}

// endOfDay returns the last representable instant of t's calendar day in
// t's location.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}
