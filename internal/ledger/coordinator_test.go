package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func qty(value int64) decimal.Decimal {
	return decimal.NewFromInt(value)
}

func docRef(module string) DocumentRef {
	return DocumentRef{Module: module, ID: uuid.New()}
}

func mustDate(value string) time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return t
}

func TestCommitPurchaseThenSale(t *testing.T) {
	repo := newMemoryRepo()
	co := NewCoordinator(repo, nil, nil, nil)
	ctx := context.Background()

	result, err := co.Commit(ctx, CommitInput{
		Lines: []LineItem{{ProductID: 1, WarehouseID: 1, Quantity: qty(100)}},
		Cause: CausePurchase,
		Ref:   docRef("purchases"),
	})
	require.NoError(t, err)
	require.Len(t, result.MovementIDs, 1)
	require.True(t, qty(100).Equal(result.Records[0].Quantity))

	result, err = co.Commit(ctx, CommitInput{
		Lines: []LineItem{{ProductID: 1, WarehouseID: 1, Quantity: qty(30)}},
		Cause: CauseSale,
		Ref:   docRef("sales"),
	})
	require.NoError(t, err)
	require.True(t, qty(70).Equal(result.Records[0].Quantity))

	movements := repo.allMovements()
	require.Len(t, movements, 2)
	require.Equal(t, CausePurchase, movements[0].Cause)
	require.True(t, qty(100).Equal(movements[0].Delta))
	require.Equal(t, CauseSale, movements[1].Cause)
	require.True(t, qty(-30).Equal(movements[1].Delta))

	current, err := co.CurrentQuantity(ctx, 1, 1, nil)
	require.NoError(t, err)
	require.True(t, qty(70).Equal(current))
}

func TestCommitInsufficientStockOnAdjustment(t *testing.T) {
	repo := newMemoryRepo()
	co := NewCoordinator(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := co.Commit(ctx, CommitInput{
		Lines: []LineItem{{ProductID: 7, WarehouseID: 2, Quantity: qty(5)}},
		Cause: CauseFound,
		Ref:   docRef("adjustment"),
	})
	require.NoError(t, err)

	_, err = co.Commit(ctx, CommitInput{
		Lines: []LineItem{{ProductID: 7, WarehouseID: 2, Quantity: qty(8)}},
		Cause: CauseDamage,
		Ref:   docRef("adjustment"),
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(7), insufficient.ProductID)
	require.Equal(t, int64(2), insufficient.WarehouseID)
	require.True(t, qty(3).Equal(insufficient.Shortfall))

	// The failed commit wrote nothing.
	current, err := co.CurrentQuantity(ctx, 7, 2, nil)
	require.NoError(t, err)
	require.True(t, qty(5).Equal(current))
	require.Len(t, repo.allMovements(), 1)
}

func TestCommitUnknownKeyIsInsufficient(t *testing.T) {
	repo := newMemoryRepo()
	co := NewCoordinator(repo, nil, nil, nil)

	_, err := co.Commit(context.Background(), CommitInput{
		Lines: []LineItem{{ProductID: 9, WarehouseID: 9, Quantity: qty(4)}},
		Cause: CauseSale,
		Ref:   docRef("sales"),
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, qty(4).Equal(insufficient.Shortfall))
	require.Empty(t, repo.allMovements())
}

func TestCommitMultiKeyAtomicity(t *testing.T) {
	repo := newMemoryRepo()
	co := NewCoordinator(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := co.Commit(ctx, CommitInput{
		Lines: []LineItem{
			{ProductID: 1, WarehouseID: 1, Quantity: qty(50)},
			{ProductID: 2, WarehouseID: 1, Quantity: qty(3)},
		},
		Cause: CausePurchase,
		Ref:   docRef("purchases"),
	})
	require.NoError(t, err)

	// Second line fails, so the first line's update must not survive.
	_, err = co.Commit(ctx, CommitInput{
		Lines: []LineItem{
			{ProductID: 1, WarehouseID: 1, Quantity: qty(10)},
			{ProductID: 2, WarehouseID: 1, Quantity: qty(5)},
		},
		Cause: CauseSale,
		Ref:   docRef("sales"),
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(2), insufficient.ProductID)

	current, err := co.CurrentQuantity(ctx, 1, 1, nil)
	require.NoError(t, err)
	require.True(t, qty(50).Equal(current))
	require.Len(t, repo.allMovements(), 2)
}

func TestCommitMergesLinesPerKey(t *testing.T) {
	repo := newMemoryRepo()
	co := NewCoordinator(repo, nil, nil, nil)

	result, err := co.Commit(context.Background(), CommitInput{
		Lines: []LineItem{
			{ProductID: 3, WarehouseID: 1, Quantity: qty(2)},
			{ProductID: 3, WarehouseID: 1, Quantity: qty(5)},
		},
		Cause: CausePurchase,
		Ref:   docRef("purchases"),
	})
	require.NoError(t, err)
	require.Len(t, result.MovementIDs, 1)
	require.True(t, qty(7).Equal(result.Records[0].Quantity))

	movements := repo.allMovements()
	require.Len(t, movements, 1)
	require.True(t, qty(7).Equal(movements[0].Delta))
}

func TestCommitRejectsInvalidInput(t *testing.T) {
	co := NewCoordinator(newMemoryRepo(), nil, nil, nil)
	ctx := context.Background()
	ref := docRef("sales")

	_, err := co.Commit(ctx, CommitInput{Cause: CauseSale, Ref: ref})
	require.ErrorIs(t, err, ErrEmptyCommit)

	_, err = co.Commit(ctx, CommitInput{
		Lines: []LineItem{{ProductID: 1, WarehouseID: 1, Quantity: qty(0)}},
		Cause: CauseSale,
		Ref:   ref,
	})
	require.ErrorIs(t, err, ErrInvalidLineItem)

	_, err = co.Commit(ctx, CommitInput{
		Lines: []LineItem{{ProductID: 1, WarehouseID: 1, Quantity: qty(1)}},
		Cause: CauseReversal,
		Ref:   ref,
	})
	require.ErrorIs(t, err, ErrInvalidCause)

	_, err = co.Commit(ctx, CommitInput{
		Lines: []LineItem{{ProductID: 1, WarehouseID: 1, Quantity: qty(1)}},
		Cause: CauseSale,
	})
	require.Error(t, err)
}

func TestConcurrentSalesSerialize(t *testing.T) {
	repo := newMemoryRepo()
	co := NewCoordinator(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := co.Commit(ctx, CommitInput{
		Lines: []LineItem{{ProductID: 1, WarehouseID: 1, Quantity: qty(10)}},
		Cause: CausePurchase,
		Ref:   docRef("purchases"),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = co.Commit(ctx, CommitInput{
				Lines: []LineItem{{ProductID: 1, WarehouseID: 1, Quantity: qty(6)}},
				Cause: CauseSale,
				Ref:   docRef("sales"),
			})
		}(i)
	}
	wg.Wait()

	var failures int
	for _, err := range results {
		if err != nil {
			var insufficient *InsufficientStockError
			require.ErrorAs(t, err, &insufficient)
			failures++
		}
	}
	require.Equal(t, 1, failures, "exactly one of the two sales must fail")

	current, err := co.CurrentQuantity(ctx, 1, 1, nil)
	require.NoError(t, err)
	require.True(t, qty(4).Equal(current))
}

func TestCurrentQuantityAbsentKeyIsZero(t *testing.T) {
	co := NewCoordinator(newMemoryRepo(), nil, nil, nil)
	current, err := co.CurrentQuantity(context.Background(), 42, 42, nil)
	require.NoError(t, err)
	require.True(t, current.IsZero())
}

func TestQueryMovementsFilters(t *testing.T) {
	repo := newMemoryRepo()
	co := NewCoordinator(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := co.Commit(ctx, CommitInput{
		Lines: []LineItem{{ProductID: 1, WarehouseID: 1, Quantity: qty(10)}},
		Cause: CausePurchase,
		Ref:   docRef("purchases"),
	})
	require.NoError(t, err)
	_, err = co.Commit(ctx, CommitInput{
		Lines: []LineItem{{ProductID: 1, WarehouseID: 1, Quantity: qty(2)}},
		Cause: CauseSale,
		Ref:   docRef("sales"),
	})
	require.NoError(t, err)

	movements, pagination, err := co.QueryMovements(ctx, MovementFilter{ProductID: 1, Cause: CauseSale})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, CauseSale, movements[0].Cause)
	require.Equal(t, 1, pagination.Total)

	movements, _, err = co.QueryMovements(ctx, MovementFilter{ProductID: 1})
	require.NoError(t, err)
	require.Len(t, movements, 2)
	// Newest first.
	require.Equal(t, CauseSale, movements[0].Cause)
}

func TestQueryMovementsPaginates(t *testing.T) {
	repo := newMemoryRepo()
	co := NewCoordinator(repo, nil, nil, nil)
	ctx := context.Background()

	for _, cause := range []Cause{CausePurchase, CauseFound, CauseAdjustment} {
		_, err := co.Commit(ctx, CommitInput{
			Lines: []LineItem{{ProductID: 1, WarehouseID: 1, Quantity: qty(1)}},
			Cause: cause,
			Ref:   docRef("adjustments"),
		})
		require.NoError(t, err)
	}

	first, pagination, err := co.QueryMovements(ctx, MovementFilter{ProductID: 1, Page: 1, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, 3, pagination.Total)
	require.Equal(t, 2, pagination.TotalPages)
	// Newest first, so the last commit leads page one.
	require.Equal(t, CauseAdjustment, first[0].Cause)
	require.Equal(t, CauseFound, first[1].Cause)

	second, _, err := co.QueryMovements(ctx, MovementFilter{ProductID: 1, Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, CausePurchase, second[0].Cause)

	// Past the last page the slice is empty but the totals stand.
	third, pagination, err := co.QueryMovements(ctx, MovementFilter{ProductID: 1, Page: 3, PerPage: 2})
	require.NoError(t, err)
	require.Empty(t, third)
	require.Equal(t, 3, pagination.Total)
}

func TestCommitExpiryBatchesAreDistinctKeys(t *testing.T) {
	repo := newMemoryRepo()
	co := NewCoordinator(repo, nil, nil, nil)
	ctx := context.Background()

	batchA := mustDate("2026-01-31")
	batchB := mustDate("2026-06-30")
	_, err := co.Commit(ctx, CommitInput{
		Lines: []LineItem{
			{ProductID: 5, WarehouseID: 1, Quantity: qty(10), ExpiryDate: &batchA},
			{ProductID: 5, WarehouseID: 1, Quantity: qty(20), ExpiryDate: &batchB},
		},
		Cause: CausePurchase,
		Ref:   docRef("purchases"),
	})
	require.NoError(t, err)
	require.Len(t, repo.allMovements(), 2)

	// Selling from one batch cannot draw down the other.
	_, err = co.Commit(ctx, CommitInput{
		Lines: []LineItem{{ProductID: 5, WarehouseID: 1, Quantity: qty(15), ExpiryDate: &batchA}},
		Cause: CauseSale,
		Ref:   docRef("sales"),
	})
	var insufficient *InsufficientStockError
	require.True(t, errors.As(err, &insufficient))

	total, err := repo.ProductTotal(ctx, 5)
	require.NoError(t, err)
	require.True(t, qty(30).Equal(total))
}
