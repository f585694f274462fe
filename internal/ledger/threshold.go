package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// ThresholdSource resolves a product's configured minimum stock level.
type ThresholdSource interface {
	MinStock(ctx context.Context, productID int64) (decimal.Decimal, error)
}

// ErrNoThreshold indicates a product without a configured minimum.
var ErrNoThreshold = errors.New("ledger: no minimum configured")

// Monitor derives a product's aggregate quantity across all warehouses and
// batches and emits a low-stock event when it sits at or below the minimum.
// The total is recomputed from the store on every check rather than cached,
// so there is a single source of truth. Safe to call on every decreasing
// commit: each crossing fires, increases never do.
type Monitor struct {
	repo     RepositoryPort
	minimums ThresholdSource
	notifier Notifier
	logger   *slog.Logger

	group singleflight.Group
}

// NewMonitor builds a Monitor. A nil notifier disables emission.
func NewMonitor(repo RepositoryPort, minimums ThresholdSource, notifier Notifier, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{repo: repo, minimums: minimums, notifier: notifier, logger: logger}
}

// CheckAndNotify recomputes the product's total and notifies when it is at
// or below the minimum. Concurrent checks for the same product collapse into
// one recomputation.
func (m *Monitor) CheckAndNotify(ctx context.Context, productID int64) error {
	if productID == 0 {
		return errors.New("ledger: product required")
	}
	_, err, _ := m.group.Do(fmt.Sprintf("%d", productID), func() (any, error) {
		return nil, m.check(ctx, productID)
	})
	return err
}

func (m *Monitor) check(ctx context.Context, productID int64) error {
	minimum, err := m.minimums.MinStock(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrNoThreshold) {
			return nil
		}
		return fmt.Errorf("ledger: minimum for product %d: %w", productID, err)
	}

	total, err := m.repo.ProductTotal(ctx, productID)
	if err != nil {
		return fmt.Errorf("ledger: total for product %d: %w", productID, err)
	}

	if total.GreaterThan(minimum) {
		return nil
	}

	event := LowStockEvent{
		ProductID: productID,
		Total:     total,
		Minimum:   minimum,
		At:        time.Now().UTC(),
	}
	m.logger.Info("low stock threshold crossed",
		slog.Int64("product_id", productID),
		slog.String("total", total.String()),
		slog.String("minimum", minimum.String()))

	if m.notifier == nil {
		return nil
	}
	if err := m.notifier.NotifyLowStock(ctx, event); err != nil {
		// Notification is fire and forget.
		m.logger.Warn("low stock notify failed",
			slog.Int64("product_id", productID),
			slog.Any("error", err))
	}
	return nil
}
