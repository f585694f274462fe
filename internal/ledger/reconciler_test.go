package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func seedPurchase(t *testing.T, co *Coordinator, productID, warehouseID, quantity int64) {
	t.Helper()
	_, err := co.Commit(context.Background(), CommitInput{
		Lines: []LineItem{{ProductID: productID, WarehouseID: warehouseID, Quantity: qty(quantity)}},
		Cause: CausePurchase,
		Ref:   docRef("purchases"),
	})
	require.NoError(t, err)
}

func TestReconcileReplaceSale(t *testing.T) {
	repo := newMemoryRepo()
	co := NewCoordinator(repo, nil, nil, nil)
	rec := NewReconciler(co)
	ctx := context.Background()

	seedPurchase(t, co, 1, 1, 100)

	saleRef := docRef("sales")
	old := []LineItem{{ProductID: 1, WarehouseID: 1, Quantity: qty(30)}}
	_, err := co.Commit(ctx, CommitInput{Lines: old, Cause: CauseSale, Ref: saleRef})
	require.NoError(t, err)

	// Edit the sale from 30 to 50 units.
	result, err := rec.Reconcile(ctx, ReconcileInput{
		Old:   old,
		New:   []LineItem{{ProductID: 1, WarehouseID: 1, Quantity: qty(50)}},
		Cause: CauseSale,
		Ref:   saleRef,
	})
	require.NoError(t, err)
	require.Len(t, result.MovementIDs, 2)

	current, err := co.CurrentQuantity(ctx, 1, 1, nil)
	require.NoError(t, err)
	require.True(t, qty(50).Equal(current))

	movements := repo.allMovements()
	require.Len(t, movements, 4)
	reversal := movements[2]
	forward := movements[3]
	require.Equal(t, CauseReversal, reversal.Cause)
	require.True(t, qty(30).Equal(reversal.Delta))
	require.Equal(t, saleRef.ID, reversal.Ref.ID)
	require.Equal(t, CauseSale, forward.Cause)
	require.True(t, qty(-50).Equal(forward.Delta))
	require.Equal(t, saleRef.ID, forward.Ref.ID)
}

func TestReconcileDeleteRestoresStock(t *testing.T) {
	repo := newMemoryRepo()
	co := NewCoordinator(repo, nil, nil, nil)
	rec := NewReconciler(co)
	ctx := context.Background()

	seedPurchase(t, co, 1, 1, 40)
	old := []LineItem{{ProductID: 1, WarehouseID: 1, Quantity: qty(15)}}
	saleRef := docRef("sales")
	_, err := co.Commit(ctx, CommitInput{Lines: old, Cause: CauseSale, Ref: saleRef})
	require.NoError(t, err)

	result, err := rec.Reconcile(ctx, ReconcileInput{Old: old, Cause: CauseSale, Ref: saleRef})
	require.NoError(t, err)
	require.Len(t, result.MovementIDs, 1)

	current, err := co.CurrentQuantity(ctx, 1, 1, nil)
	require.NoError(t, err)
	require.True(t, qty(40).Equal(current))

	movements := repo.allMovements()
	require.Equal(t, CauseReversal, movements[len(movements)-1].Cause)
	require.True(t, qty(15).Equal(movements[len(movements)-1].Delta))
}

func TestReconcileForwardFailureRollsBackReversal(t *testing.T) {
	repo := newMemoryRepo()
	co := NewCoordinator(repo, nil, nil, nil)
	rec := NewReconciler(co)
	ctx := context.Background()

	seedPurchase(t, co, 1, 1, 100)
	old := []LineItem{{ProductID: 1, WarehouseID: 1, Quantity: qty(30)}}
	saleRef := docRef("sales")
	_, err := co.Commit(ctx, CommitInput{Lines: old, Cause: CauseSale, Ref: saleRef})
	require.NoError(t, err)
	movementsBefore := len(repo.allMovements())

	// New sale of 200 exceeds the 100 available even after the reversal,
	// so the whole reconcile must roll back including the reversal.
	_, err = rec.Reconcile(ctx, ReconcileInput{
		Old:   old,
		New:   []LineItem{{ProductID: 1, WarehouseID: 1, Quantity: qty(200)}},
		Cause: CauseSale,
		Ref:   saleRef,
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)

	current, err := co.CurrentQuantity(ctx, 1, 1, nil)
	require.NoError(t, err)
	require.True(t, qty(70).Equal(current), "original sale effect must remain")
	require.Len(t, repo.allMovements(), movementsBefore)
}

// lockOrderRepo wraps the in-memory repository and records the sequence of
// row locks taken inside a transaction.
type lockOrderRepo struct {
	*memoryRepo
	locked []StockKey
}

func (r *lockOrderRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.memoryRepo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return fn(ctx, &lockOrderTx{TxRepository: tx, repo: r})
	})
}

type lockOrderTx struct {
	TxRepository
	repo *lockOrderRepo
}

func (tx *lockOrderTx) GetRecordForUpdate(ctx context.Context, key StockKey) (StockRecord, error) {
	tx.repo.locked = append(tx.repo.locked, key)
	return tx.TxRepository.GetRecordForUpdate(ctx, key)
}

func TestReconcileLocksUnionInKeyOrder(t *testing.T) {
	repo := &lockOrderRepo{memoryRepo: newMemoryRepo()}
	co := NewCoordinator(repo, nil, nil, nil)
	rec := NewReconciler(co)
	ctx := context.Background()

	seedPurchase(t, co, 1, 1, 50)
	seedPurchase(t, co, 2, 1, 50)

	saleRef := docRef("sales")
	old := []LineItem{{ProductID: 2, WarehouseID: 1, Quantity: qty(10)}}
	_, err := co.Commit(ctx, CommitInput{Lines: old, Cause: CauseSale, Ref: saleRef})
	require.NoError(t, err)

	// The reversal touches product 2 and the forward phase product 1. Locks
	// must still be acquired in global key order, product 1 before product 2,
	// or two concurrent reconciles could deadlock against plain commits.
	repo.locked = nil
	_, err = rec.Reconcile(ctx, ReconcileInput{
		Old:   old,
		New:   []LineItem{{ProductID: 1, WarehouseID: 1, Quantity: qty(5)}},
		Cause: CauseSale,
		Ref:   saleRef,
	})
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(repo.locked), 2)
	require.Equal(t, int64(1), repo.locked[0].ProductID)
	require.Equal(t, int64(2), repo.locked[1].ProductID)
}

func TestReconcileConservation(t *testing.T) {
	// Reconcile(old, new) on quantity Q must equal Q + old - new applied
	// directly, independent of intermediate ordering.
	repo := newMemoryRepo()
	co := NewCoordinator(repo, nil, nil, nil)
	rec := NewReconciler(co)
	ctx := context.Background()

	seedPurchase(t, co, 1, 1, 80)
	seedPurchase(t, co, 2, 1, 80)

	old := []LineItem{
		{ProductID: 1, WarehouseID: 1, Quantity: qty(10)},
		{ProductID: 2, WarehouseID: 1, Quantity: qty(20)},
	}
	saleRef := docRef("sales")
	_, err := co.Commit(ctx, CommitInput{Lines: old, Cause: CauseSale, Ref: saleRef})
	require.NoError(t, err)

	_, err = rec.Reconcile(ctx, ReconcileInput{
		Old: old,
		New: []LineItem{
			{ProductID: 1, WarehouseID: 1, Quantity: qty(25)},
			{ProductID: 2, WarehouseID: 1, Quantity: qty(5)},
		},
		Cause: CauseSale,
		Ref:   saleRef,
	})
	require.NoError(t, err)

	p1, err := co.CurrentQuantity(ctx, 1, 1, nil)
	require.NoError(t, err)
	p2, err := co.CurrentQuantity(ctx, 2, 1, nil)
	require.NoError(t, err)
	require.True(t, qty(55).Equal(p1)) // 80 - 25
	require.True(t, qty(75).Equal(p2)) // 80 - 5
}

func TestReconcileRequiresReference(t *testing.T) {
	rec := NewReconciler(NewCoordinator(newMemoryRepo(), nil, nil, nil))
	_, err := rec.Reconcile(context.Background(), ReconcileInput{
		Old:   []LineItem{{ProductID: 1, WarehouseID: 1, Quantity: qty(1)}},
		Cause: CauseSale,
		Ref:   DocumentRef{Module: "sales", ID: uuid.Nil},
	})
	require.Error(t, err)
}
