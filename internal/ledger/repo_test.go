package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// recordingTx captures statement arguments so tests can inspect what the
// repository binds. Only QueryRow is implemented; the embedded interface
// panics on anything else.
type recordingTx struct {
	pgx.Tx

	sql  string
	args []any
}

func (t *recordingTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	t.sql = sql
	t.args = args
	return stubRow{}
}

type stubRow struct{}

func (stubRow) Scan(dest ...any) error {
	if len(dest) > 0 {
		if id, ok := dest[0].(*int64); ok {
			*id = 1
		}
	}
	return nil
}

func TestInsertMovementBindsZeroActor(t *testing.T) {
	tx := &recordingTx{}
	repo := &txRepository{tx: tx}

	id, err := repo.InsertMovement(context.Background(), Movement{
		ProductID:   10,
		WarehouseID: 2,
		Delta:       decimal.NewFromInt(5),
		Cause:       CauseAdjustment,
		Ref:         DocumentRef{Module: "adjustment", ID: uuid.New()},
		ActorID:     0,
		CreatedAt:   time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	// actor_id is NOT NULL; an anonymous commit must bind 0, never NULL.
	require.Len(t, tx.args, 10)
	require.Equal(t, int64(0), tx.args[8])
}

func TestInsertMovementBindsActor(t *testing.T) {
	tx := &recordingTx{}
	repo := &txRepository{tx: tx}

	_, err := repo.InsertMovement(context.Background(), Movement{
		ProductID:   10,
		WarehouseID: 2,
		Delta:       decimal.NewFromInt(-3),
		Cause:       CauseSale,
		Ref:         DocumentRef{Module: "sales", ID: uuid.New()},
		ActorID:     42,
		CreatedAt:   time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), tx.args[8])
}
