package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront-api/internal/domain/order"
)

const insertOrderSQL = `INSERT INTO orders (
		id, user_id, status, payment_status, priority, source,
		subtotal, discount, tax, shipping, total,
		coupon_id, shipping_address_id, shipping_method_id, idempotency_key,
		client_ip, user_agent, referrer, utm_source, utm_medium, utm_campaign)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`

const insertOrderItemSQL = `INSERT INTO order_items (id, order_id, product_id, variant_id, quantity, unit_price)
	VALUES ($1,$2,$3,$4,$5,$6)`

const getOrderSQL = `SELECT o.id, o.user_id, o.status, o.payment_status, o.priority, o.source,
		o.subtotal, o.discount, o.tax, o.shipping, o.total,
		o.coupon_id, COALESCE(c.code, ''), o.shipping_address_id, o.shipping_method_id,
		o.idempotency_key, o.client_ip, o.user_agent, o.referrer,
		o.utm_source, o.utm_medium, o.utm_campaign, o.created_at
	FROM orders o
	LEFT JOIN coupons c ON c.id = o.coupon_id`

const getOrderItemsSQL = `SELECT i.id, i.product_id, p.name, i.variant_id, i.quantity, i.unit_price
	FROM order_items i
	JOIN products p ON p.id = i.product_id
	WHERE i.order_id = $1`

const getOrderHistorySQL = `SELECT id, from_status, to_status, metadata, created_at
	FROM order_status_history WHERE order_id = $1 ORDER BY created_at`

const getOrderNotesSQL = `SELECT id, body, internal, created_at
	FROM order_notes WHERE order_id = $1 ORDER BY created_at`

// InsertOrder writes the order header and its line items. A unique violation
// on (user_id, idempotency_key) is surfaced as ErrIdempotencyConflict so the
// service can return the order that won the race.
func (q queries) InsertOrder(ctx context.Context, o *order.Order) error {
	_, err := q.db.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, o.Status, o.PaymentStatus, o.Priority, o.Source,
		o.Subtotal, o.Discount, o.Tax, o.Shipping, o.Total,
		nullStr(o.CouponID), nullStr(o.ShippingAddressID), nullStr(o.ShippingMethodID), nullStr(o.IdempotencyKey),
		o.ClientIP, o.UserAgent, o.Referrer, o.UTMSource, o.UTMMedium, o.UTMCampaign,
	)
	if err != nil {
		if isUniqueViolation(err, "orders_user_idempotency_key") {
			return order.ErrIdempotencyConflict
		}
		return errors.Wrapf(err, "insert order %q", o.ID)
	}

	for _, item := range o.Items {
		_, err := q.db.Exec(ctx, insertOrderItemSQL,
			item.ID, o.ID, item.ProductID, nullStr(item.VariantID), item.Quantity, item.UnitPrice)
		if err != nil {
			return errors.Wrapf(err, "insert order item %q", item.ID)
		}
	}
	return nil
}

// InsertStatusHistory appends one lifecycle transition row.
func (q queries) InsertStatusHistory(ctx context.Context, orderID string, h order.StatusHistory) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO order_status_history (id, order_id, from_status, to_status, metadata) VALUES ($1,$2,$3,$4,$5)`,
		h.ID, orderID, h.From, h.To, h.Metadata)
	if err != nil {
		return errors.Wrapf(err, "insert status history for order %q", orderID)
	}
	return nil
}

// InsertNote appends an order note.
func (q queries) InsertNote(ctx context.Context, orderID string, n order.Note) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO order_notes (id, order_id, body, internal) VALUES ($1,$2,$3,$4)`,
		n.ID, orderID, n.Body, n.Internal)
	if err != nil {
		return errors.Wrapf(err, "insert note for order %q", orderID)
	}
	return nil
}

// GetOrder loads a fully-populated order: header, items, status history, notes.
func (q queries) GetOrder(ctx context.Context, orderID string) (*order.Order, error) {
	return q.loadOrder(ctx, getOrderSQL+` WHERE o.id = $1`, orderID)
}

// FindByIdempotencyKey returns the order previously created with this
// (user, key) pair, or order.ErrNotFound.
func (q queries) FindByIdempotencyKey(ctx context.Context, userID, key string) (*order.Order, error) {
	return q.loadOrder(ctx, getOrderSQL+` WHERE o.user_id = $1 AND o.idempotency_key = $2`, userID, key)
}

func (q queries) loadOrder(ctx context.Context, sql string, args ...any) (*order.Order, error) {
	row := q.db.QueryRow(ctx, sql, args...)

	var (
		o                             order.Order
		couponID, addressID, methodID *string
		idemKey                       *string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Status, &o.PaymentStatus, &o.Priority, &o.Source,
		&o.Subtotal, &o.Discount, &o.Tax, &o.Shipping, &o.Total,
		&couponID, &o.CouponCode, &addressID, &methodID,
		&idemKey, &o.ClientIP, &o.UserAgent, &o.Referrer,
		&o.UTMSource, &o.UTMMedium, &o.UTMCampaign, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "load order")
	}
	o.CouponID = deref(couponID)
	o.ShippingAddressID = deref(addressID)
	o.ShippingMethodID = deref(methodID)
	o.IdempotencyKey = deref(idemKey)

	if o.Items, err = q.orderItems(ctx, o.ID); err != nil {
		return nil, err
	}
	if o.History, err = q.orderHistory(ctx, o.ID); err != nil {
		return nil, err
	}
	if o.Notes, err = q.orderNotes(ctx, o.ID); err != nil {
		return nil, err
	}
	return &o, nil
}

func (q queries) orderItems(ctx context.Context, orderID string) ([]order.Item, error) {
	rows, err := q.db.Query(ctx, getOrderItemsSQL, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "query order items")
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var (
			item      order.Item
			variantID *string
		)
		err := row.Scan(&item.ID, &item.ProductID, &item.ProductName, &variantID, &item.Quantity, &item.UnitPrice)
		item.VariantID = deref(variantID)
		return item, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect order items")
	}
	return items, nil
}

func (q queries) orderHistory(ctx context.Context, orderID string) ([]order.StatusHistory, error) {
	rows, err := q.db.Query(ctx, getOrderHistorySQL, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "query status history")
	}
	history, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.StatusHistory, error) {
		var h order.StatusHistory
		err := row.Scan(&h.ID, &h.From, &h.To, &h.Metadata, &h.CreatedAt)
		return h, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect status history")
	}
	return history, nil
}

func (q queries) orderNotes(ctx context.Context, orderID string) ([]order.Note, error) {
	rows, err := q.db.Query(ctx, getOrderNotesSQL, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "query order notes")
	}
	notes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Note, error) {
		var n order.Note
		err := row.Scan(&n.ID, &n.Body, &n.Internal, &n.CreatedAt)
		return n, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect order notes")
	}
	return notes, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
