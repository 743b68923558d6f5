package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-api/internal/domain/order"
)

// UserOwnsAddress reports whether the address exists and belongs to the user.
func (q queries) UserOwnsAddress(ctx context.Context, userID, addressID string) (bool, error) {
	var owner string
	err := q.db.QueryRow(ctx, `SELECT user_id FROM addresses WHERE id = $1`, addressID).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, errors.Wrapf(err, "look up address %q", addressID)
	}
	return owner == userID, nil
}

// ShippingMethodPrice returns the flat price of an active shipping method.
func (q queries) ShippingMethodPrice(ctx context.Context, methodID string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := q.db.QueryRow(ctx,
		`SELECT price FROM shipping_methods WHERE id = $1 AND active`, methodID).Scan(&price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, order.ErrInvalidShippingMethod
		}
		return decimal.Zero, errors.Wrapf(err, "look up shipping method %q", methodID)
	}
	return price, nil
}
