package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-api/internal/domain/inventory"
)

// Single atomic conditional statement. Never a read followed by a write:
// concurrent orders against the same row must not both succeed in
// over-selling. RETURNING feeds the inventory log.
const (
	decrementProductStockSQL = `UPDATE products SET stock = stock - $2
		WHERE id = $1 AND stock >= $2 RETURNING stock`
	decrementVariantStockSQL = `UPDATE product_variants SET stock = stock - $2
		WHERE id = $1 AND stock >= $2 RETURNING stock`
)

// DecrementStock conditionally subtracts qty from the product's stock, or
// the variant's when variantID is set. ok is false when the update matched
// zero rows, meaning stock was insufficient at commit time.
func (q queries) DecrementStock(ctx context.Context, productID, variantID string, qty int) (int, bool, error) {
	sql, id := decrementProductStockSQL, productID
	if variantID != "" {
		sql, id = decrementVariantStockSQL, variantID
	}

	var newStock int
	err := q.db.QueryRow(ctx, sql, id, qty).Scan(&newStock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, errors.Wrapf(err, "decrement stock for %q", id)
	}
	return newStock, true, nil
}

// InsertInventoryLog appends one immutable stock-change audit row.
func (q queries) InsertInventoryLog(ctx context.Context, e inventory.LogEntry) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO inventory_logs (id, product_id, variant_id, change, new_stock, reason, order_id, note, actor_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.ProductID, nullStr(e.VariantID), e.Change, e.NewStock, e.Reason,
		nullStr(e.OrderID), e.Note, nullStr(e.ActorID))
	if err != nil {
		return errors.Wrapf(err, "insert inventory log for product %q", e.ProductID)
	}
	return nil
}

// Product is a catalog row with its purchasable variants.
type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	Stock    int
	Variants []Variant
}

// Variant is a purchasable variation of a product with its own price and stock.
type Variant struct {
	ID    string
	Name  string
	Price decimal.Decimal
	Stock int
}

// ProductRepository serves the catalog listing endpoint.
type ProductRepository struct {
	q queries
}

// NewProductRepository returns a ProductRepository using the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{q: queries{db: pool}}
}

// List returns all active, non-deleted products with their variants.
func (r *ProductRepository) List(ctx context.Context) ([]Product, error) {
	rows, err := r.q.db.Query(ctx,
		`SELECT id, name, price, stock FROM products
		WHERE active AND deleted_at IS NULL ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "query products")
	}
	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Product, error) {
		var p Product
		err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock)
		return p, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect products")
	}

	for i := range products {
		if products[i].Variants, err = r.variants(ctx, products[i].ID); err != nil {
			return nil, err
		}
	}
	return products, nil
}

func (r *ProductRepository) variants(ctx context.Context, productID string) ([]Variant, error) {
	rows, err := r.q.db.Query(ctx,
		`SELECT id, name, price, stock FROM product_variants WHERE product_id = $1 ORDER BY name`,
		productID)
	if err != nil {
		return nil, errors.Wrap(err, "query variants")
	}
	variants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Variant, error) {
		var v Variant
		err := row.Scan(&v.ID, &v.Name, &v.Price, &v.Stock)
		return v, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect variants")
	}
	return variants, nil
}
