package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LowStockEvent reports a product whose aggregate quantity crossed at or
// below its configured minimum.
type LowStockEvent struct {
	ProductID int64
	Total     decimal.Decimal
	Minimum   decimal.Decimal
	At        time.Time
}

// Notifier delivers low-stock events to an external collaborator.
// Delivery is fire-and-forget: a failing notifier never rolls back the
// stock commit that triggered it.
type Notifier interface {
	NotifyLowStock(ctx context.Context, event LowStockEvent) error
}
