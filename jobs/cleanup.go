package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/quartermast/quartermast/internal/jobmetrics"
	"github.com/quartermast/quartermast/internal/shared"
)

// idempotencyRetention is how long processed request keys are kept.
const idempotencyRetention = 30 * 24 * time.Hour

// IdempotencyCleanupJob prunes aged idempotency keys.
type IdempotencyCleanupJob struct {
	Store   *shared.IdempotencyStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handler returns the Asynq handler for the cleanup.
func (j *IdempotencyCleanupJob) Handler() asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		err := j.Store.Cleanup(ctx, idempotencyRetention)
		if err != nil {
			j.Logger.Error("idempotency cleanup failed", slog.Any("error", err))
		}
		return j.Metrics.Track("idempotency_cleanup").End(err)
	}
}
