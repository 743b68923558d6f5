package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-api/internal/domain/cart"
)

// Effective unit price: variant price when a variant is selected, else the
// product base price. Inactive and soft-deleted products drop out of the
// snapshot. Rows come back in stored cart order.
const cartLinesSQL = `SELECT ci.id, ci.product_id, p.name, ci.variant_id, COALESCE(v.name, ''),
		ci.quantity, COALESCE(v.price, p.price)
	FROM cart_items ci
	JOIN products p ON p.id = ci.product_id
	LEFT JOIN product_variants v ON v.id = ci.variant_id
	WHERE ci.user_id = $1 AND p.active AND p.deleted_at IS NULL
	ORDER BY ci.created_at`

// CartLines loads the user's checkout snapshot. Inside Checkout it reads
// through the transaction, so it sees the same serialized state as the stock
// and coupon updates that follow.
func (q queries) CartLines(ctx context.Context, userID string) ([]cart.Line, error) {
	rows, err := q.db.Query(ctx, cartLinesSQL, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query cart lines")
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var (
			line      cart.Line
			variantID *string
		)
		err := row.Scan(&line.ID, &line.ProductID, &line.ProductName, &variantID,
			&line.VariantName, &line.Quantity, &line.UnitPrice)
		line.VariantID = deref(variantID)
		return line, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect cart lines")
	}
	return lines, nil
}

// ClearCart removes every cart row for the user.
func (q queries) ClearCart(ctx context.Context, userID string) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements the non-transactional cart CRUD used by the cart
// endpoints.
type CartRepository struct {
	q queries
}

// NewCartRepository returns a CartRepository using the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{q: queries{db: pool}}
}

// Lines returns the user's current cart.
func (r *CartRepository) Lines(ctx context.Context, userID string) ([]cart.Line, error) {
	return r.q.CartLines(ctx, userID)
}

// Upsert adds a product (or variant) to the cart, replacing the quantity of
// an existing line for the same product/variant pair.
func (r *CartRepository) Upsert(ctx context.Context, userID, productID, variantID string, quantity int) (*cart.Line, error) {
	id := uuid.New().String()
	_, err := r.q.db.Exec(ctx,
		`INSERT INTO cart_items (id, user_id, product_id, variant_id, quantity)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (user_id, product_id, variant_id)
		DO UPDATE SET quantity = EXCLUDED.quantity`,
		id, userID, productID, nullStr(variantID), quantity)
	if err != nil {
		return nil, errors.Wrapf(err, "upsert cart item for product %q", productID)
	}

	lines, err := r.q.CartLines(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range lines {
		if lines[i].ProductID == productID && lines[i].VariantID == variantID {
			return &lines[i], nil
		}
	}
	return nil, errors.Errorf("cart line for product %q not visible after upsert", productID)
}

// Remove deletes one cart line owned by the user.
func (r *CartRepository) Remove(ctx context.Context, userID, itemID string) error {
	if _, err := r.q.db.Exec(ctx,
		`DELETE FROM cart_items WHERE id = $1 AND user_id = $2`, itemID, userID); err != nil {
		return errors.Wrapf(err, "remove cart item %q", itemID)
	}
	return nil
}
