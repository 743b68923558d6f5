// Package pricing derives order totals from cart lines, discounts, and the
// tax/shipping configuration. All arithmetic uses shopspring/decimal so the
// usual float hazards (NaN, drift) cannot occur; the defensive checks here
// guard against malformed configuration instead.
package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Defaults used when the settings store carries no shipping policy.
var (
	DefaultFreeShippingThreshold = decimal.NewFromInt(50)
	DefaultFlatShippingRate      = decimal.RequireFromString("9.99")
)

// Config is the pricing configuration resolved from the settings store.
type Config struct {
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	FlatShippingRate      decimal.Decimal
}

// Validate rejects configuration that would produce nonsensical totals.
func (c Config) Validate() error {
	if c.TaxRate.IsNegative() {
		return errors.Errorf("negative tax rate %s", c.TaxRate)
	}
	if c.FreeShippingThreshold.IsNegative() || c.FlatShippingRate.IsNegative() {
		return errors.New("negative shipping configuration")
	}
	return nil
}

// Quote is the complete price breakdown for an order. Every field is stored
// on the order row independently so historical pricing survives later tax or
// coupon changes.
type Quote struct {
	Subtotal           decimal.Decimal
	Discount           decimal.Decimal
	DiscountedSubtotal decimal.Decimal
	Tax                decimal.Decimal
	Shipping           decimal.Decimal
	Total              decimal.Decimal
}

// Calculate derives the full quote. methodPrice is the flat price of an
// explicitly chosen shipping method, or nil to apply the default policy
// (free at or above the threshold, otherwise the flat rate). Tax applies to
// the post-discount amount.
func Calculate(subtotal, discount decimal.Decimal, methodPrice *decimal.Decimal, cfg Config) (Quote, error) {
	if err := cfg.Validate(); err != nil {
		return Quote{}, errors.Wrap(err, "pricing config")
	}

	discounted := subtotal.Sub(discount)
	if discounted.IsNegative() {
		discounted = decimal.Zero
	}

	tax := discounted.Mul(cfg.TaxRate).Round(2)

	var shipping decimal.Decimal
	switch {
	case methodPrice != nil:
		shipping = *methodPrice
	case subtotal.GreaterThanOrEqual(cfg.FreeShippingThreshold):
		shipping = decimal.Zero
	default:
		shipping = cfg.FlatShippingRate
	}
	if shipping.IsNegative() {
		return Quote{}, errors.Errorf("negative shipping price %s", shipping)
	}

	total := discounted.Add(tax).Add(shipping).Round(2)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Quote{
		Subtotal:           subtotal.Round(2),
		Discount:           discount.Round(2),
		DiscountedSubtotal: discounted.Round(2),
		Tax:                tax,
		Shipping:           shipping.Round(2),
		Total:              total,
	}, nil
}
