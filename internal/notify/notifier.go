// Package notify bridges ledger low-stock events onto the background
// queue so delivery cannot slow down or fail a stock commit.
package notify

import (
	"context"
	"log/slog"

	"github.com/quartermast/quartermast/internal/ledger"
	"github.com/quartermast/quartermast/jobs"
)

// AsynqNotifier enqueues one notification task per low-stock event.
type AsynqNotifier struct {
	client *jobs.Client
	logger *slog.Logger
}

// NewAsynqNotifier constructs the notifier.
func NewAsynqNotifier(client *jobs.Client, logger *slog.Logger) *AsynqNotifier {
	return &AsynqNotifier{client: client, logger: logger}
}

// NotifyLowStock enqueues the event. Errors are returned so the monitor
// can log them, but the monitor never propagates them into the commit.
func (n *AsynqNotifier) NotifyLowStock(ctx context.Context, event ledger.LowStockEvent) error {
	if n.client == nil {
		n.logger.Warn("low stock event dropped, queue not configured",
			slog.Int64("product_id", event.ProductID))
		return nil
	}
	_, err := n.client.EnqueueLowStock(ctx, jobs.LowStockPayload{
		ProductID: event.ProductID,
		Total:     event.Total,
		Minimum:   event.Minimum,
		At:        event.At,
	})
	return err
}
