package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/quartermast/quartermast/internal/jobmetrics"
	"github.com/quartermast/quartermast/internal/shared"
)

// ProductSource lists the products the sweep must inspect.
type ProductSource interface {
	ListActiveProductIDs(ctx context.Context) ([]int64, error)
}

// MonitorPort re-evaluates one product against its threshold.
type MonitorPort interface {
	CheckAndNotify(ctx context.Context, productID int64) error
}

// ThresholdSweepJob walks every active product and fires the threshold
// monitor, catching crossings that were missed while the worker was down.
type ThresholdSweepJob struct {
	Products ProductSource
	Monitor  MonitorPort
	Redis    *redis.Client
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// sweepLockTTL bounds how long a crashed sweep can block the next one.
const sweepLockTTL = 10 * time.Minute

// Handler returns the Asynq handler for the sweep.
func (j *ThresholdSweepJob) Handler() asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		return j.Metrics.Track("threshold_sweep").End(j.run(ctx))
	}
}

func (j *ThresholdSweepJob) run(ctx context.Context) error {
	if j.Redis != nil {
		ok, err := j.Redis.SetNX(ctx, shared.ThresholdSweepLockKey(), time.Now().UTC().Format(time.RFC3339), sweepLockTTL).Result()
		if err != nil {
			j.Logger.Warn("sweep lock unavailable, proceeding without it", slog.Any("error", err))
		} else if !ok {
			j.Logger.Info("threshold sweep already running elsewhere, skipping")
			return nil
		} else {
			defer func() { _ = j.Redis.Del(context.WithoutCancel(ctx), shared.ThresholdSweepLockKey()).Err() }()
		}
	}

	ids, err := j.Products.ListActiveProductIDs(ctx)
	if err != nil {
		return err
	}
	var failed int
	for _, id := range ids {
		if err := j.Monitor.CheckAndNotify(ctx, id); err != nil {
			failed++
			j.Logger.Warn("threshold check failed", slog.Int64("product_id", id), slog.Any("error", err))
		}
	}
	j.Logger.Info("threshold sweep finished", slog.Int("products", len(ids)), slog.Int("failed", failed))
	return nil
}
