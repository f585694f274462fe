package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/quartermast/quartermast/internal/jobmetrics"
	"github.com/quartermast/quartermast/internal/shared"
)

type staticProducts []int64

func (s staticProducts) ListActiveProductIDs(context.Context) ([]int64, error) {
	return s, nil
}

type recordingMonitor struct {
	checked []int64
	failOn  int64
}

func (m *recordingMonitor) CheckAndNotify(_ context.Context, productID int64) error {
	m.checked = append(m.checked, productID)
	if m.failOn != 0 && productID == m.failOn {
		return errors.New("monitor unavailable")
	}
	return nil
}

func newSweep(t *testing.T, monitor *recordingMonitor, products staticProducts) (*ThresholdSweepJob, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &ThresholdSweepJob{
		Products: products,
		Monitor:  monitor,
		Redis:    client,
		Logger:   slog.Default(),
		Metrics:  jobmetrics.NewMetrics(prometheus.NewRegistry()),
	}, mr
}

func TestSweepChecksEveryProduct(t *testing.T) {
	monitor := &recordingMonitor{}
	sweep, mr := newSweep(t, monitor, staticProducts{3, 1, 7})

	require.NoError(t, sweep.Handler()(context.Background(), nil))
	require.Equal(t, []int64{3, 1, 7}, monitor.checked)

	// The sweep lock must not outlive the run.
	require.False(t, mr.Exists(shared.ThresholdSweepLockKey()))
}

func TestSweepContinuesPastFailures(t *testing.T) {
	monitor := &recordingMonitor{failOn: 1}
	sweep, _ := newSweep(t, monitor, staticProducts{3, 1, 7})

	require.NoError(t, sweep.Handler()(context.Background(), nil))
	require.Equal(t, []int64{3, 1, 7}, monitor.checked)
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	monitor := &recordingMonitor{}
	sweep, mr := newSweep(t, monitor, staticProducts{3, 1, 7})
	require.NoError(t, mr.Set(shared.ThresholdSweepLockKey(), "elsewhere"))

	require.NoError(t, sweep.Handler()(context.Background(), nil))
	require.Empty(t, monitor.checked)
}

func TestSweepRunsWithoutRedis(t *testing.T) {
	monitor := &recordingMonitor{}
	sweep := &ThresholdSweepJob{
		Products: staticProducts{5},
		Monitor:  monitor,
		Logger:   slog.Default(),
		Metrics:  jobmetrics.NewMetrics(prometheus.NewRegistry()),
	}

	require.NoError(t, sweep.Handler()(context.Background(), nil))
	require.Equal(t, []int64{5}, monitor.checked)
}
