// Package inventory defines the immutable stock-change audit trail.
package inventory

import "time"

// Reason enumerates why a stock level changed.
type Reason string

const (
	ReasonSale             Reason = "SALE"
	ReasonReturn           Reason = "RETURN"
	ReasonAdjustmentManual Reason = "ADJUSTMENT_MANUAL"
	ReasonReceiving        Reason = "RECEIVING"
	ReasonCancellation     Reason = "CANCELLATION"
	ReasonOther            Reason = "OTHER"
)

// LogEntry records a single stock mutation. Entries are append-only; the
// mutable stock counter itself lives on the product/variant row and is only
// changed through the store's conditional decrement.
type LogEntry struct {
	ID        string
	ProductID string
	VariantID string
	Change    int // negative for outgoing stock
	NewStock  int
	Reason    Reason
	OrderID   string
	Note      string
	ActorID   string
	CreatedAt time.Time
}
