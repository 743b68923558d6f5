// Package order implements the checkout transaction: cart snapshot, coupon
// validation, pricing, atomic stock decrement, and order persistence, all
// under one serializable database transaction.
package order

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunded   Status = "REFUNDED"
)

// PaymentStatus is the payment state of an order.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

// Priority orders admin fulfilment queues.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Source records which surface placed the order.
type Source string

const (
	SourceWebsite    Source = "WEBSITE"
	SourceMobileApp  Source = "MOBILE_APP"
	SourceAdminPanel Source = "ADMIN_PANEL"
)

// Item is an order line. Quantity and UnitPrice are snapshotted at order
// time and never updated, even if the product price changes later.
type Item struct {
	ID          string
	ProductID   string
	ProductName string
	VariantID   string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// StatusHistory is one transition in an order's lifecycle. Metadata is an
// opaque JSON document with audit context.
type StatusHistory struct {
	ID        string
	From      Status
	To        Status
	Metadata  []byte
	CreatedAt time.Time
}

// Note is a free-text annotation on an order. Internal notes are hidden
// from customers.
type Note struct {
	ID        string
	Body      string
	Internal  bool
	CreatedAt time.Time
}

// Order is immutable once created except for status transitions. All money
// fields are stored independently rather than re-derived, so historical
// pricing survives later tax-rate or coupon changes.
type Order struct {
	ID                string
	UserID            string
	Status            Status
	PaymentStatus     PaymentStatus
	Priority          Priority
	Source            Source
	Subtotal          decimal.Decimal
	Discount          decimal.Decimal
	Tax               decimal.Decimal
	Shipping          decimal.Decimal
	Total             decimal.Decimal
	CouponID          string
	CouponCode        string
	ShippingAddressID string
	ShippingMethodID  string
	IdempotencyKey    string
	ClientIP          string
	UserAgent         string
	Referrer          string
	UTMSource         string
	UTMMedium         string
	UTMCampaign       string
	Items             []Item
	History           []StatusHistory
	Notes             []Note
	CreatedAt         time.Time
}

// CouponUsage is the durable link between a coupon, a user, and an order.
// Per-user caps are enforced by counting these rows inside the transaction.
type CouponUsage struct {
	ID       string
	CouponID string
	UserID   string
	OrderID  string
	Discount decimal.Decimal
}

// Sentinel errors surfaced before or during checkout.
var (
	ErrEmptyCart             = errors.New("cart is empty")
	ErrNotFound              = errors.New("order not found")
	ErrInvalidAddress        = errors.New("invalid shipping address")
	ErrInvalidShippingMethod = errors.New("invalid shipping method")

	// ErrIdempotencyConflict is returned by the store when the unique
	// (user_id, idempotency_key) constraint fires at commit; the caller
	// re-fetches the order that won the race.
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
)

// StockError indicates a line item's conditional stock decrement matched
// zero rows: stock was insufficient at commit time.
type StockError struct {
	ProductName string
	Quantity    int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s", e.ProductName)
}
