// Package cart holds the customer cart model read at checkout time.
package cart

import (
	"context"

	"github.com/shopspring/decimal"
)

// Line is one cart entry joined with its product (and optional variant) at
// read time. UnitPrice is the effective price: the variant price when a
// variant is selected, otherwise the product base price.
type Line struct {
	ID          string
	ProductID   string
	ProductName string
	VariantID   string
	VariantName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// Subtotal returns the sum of UnitPrice * Quantity across all lines.
func Subtotal(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		qty := decimal.NewFromInt(int64(l.Quantity))
		sum = sum.Add(l.UnitPrice.Mul(qty))
	}
	return sum
}

// Repository provides cart CRUD outside the checkout transaction. The
// transactional snapshot used by checkout lives on the order store instead,
// so that it reads through the same transactional handle as everything else.
type Repository interface {
	Lines(ctx context.Context, userID string) ([]Line, error)
	Upsert(ctx context.Context, userID, productID, variantID string, quantity int) (*Line, error)
	Remove(ctx context.Context, userID, itemID string) error
}
