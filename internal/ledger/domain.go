// Package ledger implements the stock ledger: per-key stock records, the
// append-only movement log, the transaction coordinator and the low-stock
// threshold monitor.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Cause enumerates why a stock quantity changed.
type Cause string

const (
	// CausePurchase marks stock received through a purchase document.
	CausePurchase Cause = "PURCHASE"
	// CauseSale marks stock issued through a sale document.
	CauseSale Cause = "SALE"
	// CauseDamage marks stock written off as damaged.
	CauseDamage Cause = "DAMAGE"
	// CauseLost marks stock written off as lost.
	CauseLost Cause = "LOST"
	// CauseFound marks stock recovered outside of a purchase.
	CauseFound Cause = "FOUND"
	// CauseAdjustment marks a positive manual correction.
	CauseAdjustment Cause = "ADJUSTMENT"
	// CauseReversal marks the undo half of an edit or delete. Only the
	// reconciler writes reversal movements.
	CauseReversal Cause = "REVERSAL"
)

// Direction returns +1 for causes that add stock and -1 for causes that
// remove it. Reversal has no fixed direction: its deltas carry the inverted
// sign of the movements being undone.
func (c Cause) Direction() int {
	switch c {
	case CausePurchase, CauseFound, CauseAdjustment:
		return 1
	case CauseSale, CauseDamage, CauseLost:
		return -1
	default:
		return 0
	}
}

// Valid reports whether the cause is one a caller may submit to Commit.
func (c Cause) Valid() bool {
	return c.Direction() != 0
}

// StockKey identifies one trackable quantity bucket. ExpiryDate is nil for
// products that are not batch tracked.
type StockKey struct {
	ProductID   int64
	WarehouseID int64
	ExpiryDate  *time.Time
}

// Less imposes the total order used for lock acquisition: product, then
// warehouse, then expiry with nil sorting first. Two commits that touch
// overlapping key sets always lock in the same order.
func (k StockKey) Less(other StockKey) bool {
	if k.ProductID != other.ProductID {
		return k.ProductID < other.ProductID
	}
	if k.WarehouseID != other.WarehouseID {
		return k.WarehouseID < other.WarehouseID
	}
	switch {
	case k.ExpiryDate == nil && other.ExpiryDate == nil:
		return false
	case k.ExpiryDate == nil:
		return true
	case other.ExpiryDate == nil:
		return false
	default:
		return k.ExpiryDate.Before(*other.ExpiryDate)
	}
}

// String renders the key for logs and error messages.
func (k StockKey) String() string {
	if k.ExpiryDate == nil {
		return fmt.Sprintf("%d/%d", k.ProductID, k.WarehouseID)
	}
	return fmt.Sprintf("%d/%d/%s", k.ProductID, k.WarehouseID, k.ExpiryDate.Format("2006-01-02"))
}

// StockRecord holds the current quantity for one stock key. Records are
// created on first inbound movement and never deleted; quantity never goes
// below zero.
type StockRecord struct {
	StockKey
	Quantity  decimal.Decimal
	UpdatedAt time.Time
}

// DocumentRef points a movement back at the business document that caused it.
// Manual adjustments carry a generated reference of their own.
type DocumentRef struct {
	Module string
	ID     uuid.UUID
}

func (r DocumentRef) validate() error {
	if r.Module == "" || r.ID == uuid.Nil {
		return errors.New("ledger: document reference required")
	}
	return nil
}

// Movement is one immutable entry in the movement log.
type Movement struct {
	ID          int64
	ProductID   int64
	WarehouseID int64
	ExpiryDate  *time.Time
	Delta       decimal.Decimal
	Cause       Cause
	Ref         DocumentRef
	Note        string
	ActorID     int64
	CreatedAt   time.Time
}

// Key returns the stock key the movement touched.
func (m Movement) Key() StockKey {
	return StockKey{ProductID: m.ProductID, WarehouseID: m.WarehouseID, ExpiryDate: m.ExpiryDate}
}

// LineItem is one line of a business document submitted to the coordinator.
// Quantity is always positive; the sign of the resulting delta comes from
// the commit cause.
type LineItem struct {
	ProductID   int64
	WarehouseID int64
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	ExpiryDate  *time.Time
}

// Key returns the stock key the line affects.
func (l LineItem) Key() StockKey {
	return StockKey{ProductID: l.ProductID, WarehouseID: l.WarehouseID, ExpiryDate: l.ExpiryDate}
}

// Total returns quantity times unit price.
func (l LineItem) Total() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// MovementFilter narrows movement log queries.
type MovementFilter struct {
	ProductID   int64
	WarehouseID int64
	Cause       Cause
	Page        int
	PerPage     int
}

// CommitResult reports what a successful commit changed.
type CommitResult struct {
	MovementIDs []int64
	Records     []StockRecord
}

// InsufficientStockError reports a decreasing commit that would drive a
// record negative. A missing record counts as zero available, so the
// shortfall equals the full requested quantity.
type InsufficientStockError struct {
	ProductID   int64
	WarehouseID int64
	Shortfall   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("ledger: insufficient stock for product %d in warehouse %d, short %s", e.ProductID, e.WarehouseID, e.Shortfall)
}

var (
	// ErrRecordNotFound indicates a missing stock record row.
	ErrRecordNotFound = errors.New("ledger: stock record not found")
	// ErrEmptyCommit indicates a commit with no line items.
	ErrEmptyCommit = errors.New("ledger: commit requires at least one line item")
	// ErrInvalidLineItem indicates a line with a non-positive quantity or
	// missing product/warehouse.
	ErrInvalidLineItem = errors.New("ledger: line item invalid")
	// ErrInvalidCause indicates an unsupported commit cause.
	ErrInvalidCause = errors.New("ledger: invalid cause")
	// ErrInvariantViolation indicates a negative quantity slipped past
	// validation. It aborts the enclosing transaction and signals a bug.
	ErrInvariantViolation = errors.New("ledger: stock invariant violated")
)
