package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/quartermast/quartermast/internal/jobmetrics"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeLowStock delivers a low-stock notification.
	TaskTypeLowStock = "notify:low_stock"
	// TaskTypeThresholdSweep re-checks every active product against its minimum.
	TaskTypeThresholdSweep = "stock:threshold_sweep"
	// TaskTypeIdempotencyCleanup prunes aged idempotency keys.
	TaskTypeIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// LowStockPayload describes one threshold crossing.
type LowStockPayload struct {
	ProductID int64           `json:"product_id"`
	Total     decimal.Decimal `json:"total"`
	Minimum   decimal.Decimal `json:"minimum"`
	At        time.Time       `json:"at"`
}

// NewLowStockTask constructs an Asynq task for a low-stock event.
func NewLowStockTask(payload LowStockPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal low stock payload: %w", err)
	}
	return asynq.NewTask(TaskTypeLowStock, data), nil
}

// NewThresholdSweepTask constructs the periodic sweep task.
func NewThresholdSweepTask() *asynq.Task {
	return asynq.NewTask(TaskTypeThresholdSweep, nil)
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskTypeIdempotencyCleanup, nil)
}

// lowStockPrinter renders notification text with locale-aware number
// formatting so "1,250" does not read as "1250" in an alert channel.
var lowStockPrinter = message.NewPrinter(language.English)

// NewLowStockHandler builds the handler delivering low-stock alerts. The
// delivery channel is the structured log; operators route it onward.
func NewLowStockHandler(logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload LowStockPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("unmarshal low stock payload: %w", err)
		}
		total, _ := payload.Total.Float64()
		minimum, _ := payload.Minimum.Float64()
		text := lowStockPrinter.Sprintf("product %s is low on stock: %v on hand, minimum %v",
			strconv.FormatInt(payload.ProductID, 10), number.Decimal(total), number.Decimal(minimum))
		logger.Warn("low stock alert",
			slog.Int64("product_id", payload.ProductID),
			slog.String("total", payload.Total.String()),
			slog.String("minimum", payload.Minimum.String()),
			slog.Time("at", payload.At),
			slog.String("message", text))
		if metrics != nil {
			metrics.AddLowStock(payload.ProductID)
		}
		return nil
	}
}
