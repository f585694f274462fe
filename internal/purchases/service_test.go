package purchases

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quartermast/quartermast/internal/ledger"
	"github.com/quartermast/quartermast/internal/shared"
)

type stubLedger struct {
	commits    []ledger.CommitInput
	reconciles []ledger.ReconcileInput
	commitErr  error
	recErr     error
}

func (s *stubLedger) Commit(_ context.Context, input ledger.CommitInput) (ledger.CommitResult, error) {
	if s.commitErr != nil {
		return ledger.CommitResult{}, s.commitErr
	}
	s.commits = append(s.commits, input)
	return ledger.CommitResult{}, nil
}

func (s *stubLedger) Reconcile(_ context.Context, input ledger.ReconcileInput) (ledger.CommitResult, error) {
	if s.recErr != nil {
		return ledger.CommitResult{}, s.recErr
	}
	s.reconciles = append(s.reconciles, input)
	return ledger.CommitResult{}, nil
}

type memRepo struct {
	docs  map[uuid.UUID]Purchase
	lines map[uuid.UUID][]Line
}

func newMemRepo() *memRepo {
	return &memRepo{docs: map[uuid.UUID]Purchase{}, lines: map[uuid.UUID][]Line{}}
}

func (r *memRepo) Get(_ context.Context, id uuid.UUID) (Purchase, []Line, error) {
	p, ok := r.docs[id]
	if !ok {
		return Purchase{}, nil, shared.ErrNotFound
	}
	return p, r.lines[id], nil
}

func (r *memRepo) List(_ context.Context, _ ListFilters) ([]Purchase, int, error) {
	var out []Purchase
	for _, p := range r.docs {
		if p.DeletedAt == nil {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

func (r *memRepo) Insert(_ context.Context, p Purchase, lines []Line) error {
	r.docs[p.ID] = p
	r.lines[p.ID] = lines
	return nil
}

func (r *memRepo) ReplaceLines(_ context.Context, id uuid.UUID, total decimal.Decimal, supplier, note string, lines []Line) error {
	p, ok := r.docs[id]
	if !ok || p.DeletedAt != nil {
		return shared.ErrNotFound
	}
	p.Supplier, p.Note, p.Total = supplier, note, total
	r.docs[id] = p
	r.lines[id] = lines
	return nil
}

func (r *memRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	p, ok := r.docs[id]
	if !ok || p.DeletedAt != nil {
		return shared.ErrNotFound
	}
	now := p.CreatedAt
	p.DeletedAt = &now
	r.docs[id] = p
	return nil
}

func (r *memRepo) HardDelete(_ context.Context, id uuid.UUID) error {
	delete(r.docs, id)
	delete(r.lines, id)
	return nil
}

func testLine(productID int64, qty, price int64) Line {
	return Line{
		ProductID:   productID,
		WarehouseID: 1,
		Quantity:    decimal.NewFromInt(qty),
		UnitPrice:   decimal.NewFromInt(price),
	}
}

func newTestService(repo *memRepo, stock *stubLedger) *Service {
	return NewService(slog.Default(), repo, stock, nil)
}

func TestCreatePostsPurchaseCommit(t *testing.T) {
	repo := newMemRepo()
	stock := &stubLedger{}
	svc := newTestService(repo, stock)

	purchase, err := svc.Create(context.Background(), CreateInput{
		Supplier: "Acme",
		Lines:    []Line{testLine(1, 100, 3), testLine(2, 50, 2)},
		ActorID:  7,
	})
	require.NoError(t, err)
	require.True(t, purchase.Total.Equal(decimal.NewFromInt(400)))

	require.Len(t, stock.commits, 1)
	commit := stock.commits[0]
	require.Equal(t, ledger.CausePurchase, commit.Cause)
	require.Equal(t, "purchase", commit.Ref.Module)
	require.Equal(t, purchase.ID, commit.Ref.ID)
	require.Len(t, commit.Lines, 2)

	_, lines, err := repo.Get(context.Background(), purchase.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
}

func TestCreateCleansUpOnFailedCommit(t *testing.T) {
	repo := newMemRepo()
	stock := &stubLedger{commitErr: &ledger.InsufficientStockError{ProductID: 1, WarehouseID: 1}}
	svc := newTestService(repo, stock)

	_, err := svc.Create(context.Background(), CreateInput{
		Supplier: "Acme",
		Lines:    []Line{testLine(1, 10, 1)},
	})
	require.Error(t, err)
	require.Empty(t, repo.docs)
}

func TestCreateRequiresLines(t *testing.T) {
	svc := newTestService(newMemRepo(), &stubLedger{})
	_, err := svc.Create(context.Background(), CreateInput{Supplier: "Acme"})
	require.ErrorIs(t, err, ErrInvalidPurchase)
}

func TestUpdateReconcilesOldAgainstNew(t *testing.T) {
	repo := newMemRepo()
	stock := &stubLedger{}
	svc := newTestService(repo, stock)
	ctx := context.Background()

	purchase, err := svc.Create(ctx, CreateInput{Supplier: "Acme", Lines: []Line{testLine(1, 100, 3)}})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, purchase.ID, UpdateInput{
		Supplier: "Acme",
		Lines:    []Line{testLine(1, 60, 3)},
	})
	require.NoError(t, err)
	require.True(t, updated.Total.Equal(decimal.NewFromInt(180)))

	require.Len(t, stock.reconciles, 1)
	rec := stock.reconciles[0]
	require.Equal(t, purchase.ID, rec.Ref.ID)
	require.Len(t, rec.Old, 1)
	require.True(t, rec.Old[0].Quantity.Equal(decimal.NewFromInt(100)))
	require.Len(t, rec.New, 1)
	require.True(t, rec.New[0].Quantity.Equal(decimal.NewFromInt(60)))
}

func TestUpdateFailedReconcileKeepsDocument(t *testing.T) {
	repo := newMemRepo()
	stock := &stubLedger{}
	svc := newTestService(repo, stock)
	ctx := context.Background()

	purchase, err := svc.Create(ctx, CreateInput{Supplier: "Acme", Lines: []Line{testLine(1, 100, 3)}})
	require.NoError(t, err)

	stock.recErr = &ledger.InsufficientStockError{ProductID: 1, WarehouseID: 1, Shortfall: decimal.NewFromInt(5)}
	_, err = svc.Update(ctx, purchase.ID, UpdateInput{Supplier: "Acme", Lines: []Line{testLine(1, 10, 3)}})
	require.Error(t, err)

	_, lines, err := repo.Get(ctx, purchase.ID)
	require.NoError(t, err)
	require.True(t, lines[0].Quantity.Equal(decimal.NewFromInt(100)))
}

func TestDeleteReversesAndSoftDeletes(t *testing.T) {
	repo := newMemRepo()
	stock := &stubLedger{}
	svc := newTestService(repo, stock)
	ctx := context.Background()

	purchase, err := svc.Create(ctx, CreateInput{Supplier: "Acme", Lines: []Line{testLine(1, 100, 3)}})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, purchase.ID, 7))

	require.Len(t, stock.reconciles, 1)
	rec := stock.reconciles[0]
	require.Len(t, rec.Old, 1)
	require.Empty(t, rec.New)

	stored := repo.docs[purchase.ID]
	require.NotNil(t, stored.DeletedAt)

	// A second delete is rejected.
	require.ErrorIs(t, svc.Delete(ctx, purchase.ID, 7), ErrPurchaseDeleted)
}
