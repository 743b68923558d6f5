package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-api/internal/domain/pricing"
)

// Setting keys consumed by the pricing calculator.
const (
	settingTaxRate               = "tax_rate"
	settingFreeShippingThreshold = "free_shipping_threshold"
	settingFlatShippingRate      = "flat_shipping_rate"
)

// PricingConfig resolves the pricing settings, falling back to the built-in
// shipping defaults for absent keys. A present but unparsable value is a
// configuration error that aborts the checkout.
func (q queries) PricingConfig(ctx context.Context) (pricing.Config, error) {
	cfg := pricing.Config{
		FreeShippingThreshold: pricing.DefaultFreeShippingThreshold,
		FlatShippingRate:      pricing.DefaultFlatShippingRate,
	}

	rows, err := q.db.Query(ctx,
		`SELECT key, value FROM settings WHERE key IN ($1, $2, $3)`,
		settingTaxRate, settingFreeShippingThreshold, settingFlatShippingRate)
	if err != nil {
		return pricing.Config{}, errors.Wrap(err, "query settings")
	}

	type kv struct{ Key, Value string }
	pairs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[kv])
	if err != nil {
		return pricing.Config{}, errors.Wrap(err, "collect settings")
	}

	for _, p := range pairs {
		d, perr := decimal.NewFromString(p.Value)
		if perr != nil {
			return pricing.Config{}, errors.Wrapf(perr, "setting %q has malformed value %q", p.Key, p.Value)
		}
		switch p.Key {
		case settingTaxRate:
			cfg.TaxRate = d
		case settingFreeShippingThreshold:
			cfg.FreeShippingThreshold = d
		case settingFlatShippingRate:
			cfg.FlatShippingRate = d
		}
	}
	return cfg, nil
}
