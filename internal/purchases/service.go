package purchases

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quartermast/quartermast/internal/ledger"
	"github.com/quartermast/quartermast/internal/shared"
)

// RepositoryPort abstracts purchase persistence for Service.
type RepositoryPort interface {
	Get(ctx context.Context, id uuid.UUID) (Purchase, []Line, error)
	List(ctx context.Context, filters ListFilters) ([]Purchase, int, error)
	Insert(ctx context.Context, p Purchase, lines []Line) error
	ReplaceLines(ctx context.Context, id uuid.UUID, total decimal.Decimal, supplier, note string, lines []Line) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	HardDelete(ctx context.Context, id uuid.UUID) error
}

// LedgerPort is the slice of the stock ledger the purchase flow uses.
type LedgerPort interface {
	Commit(ctx context.Context, input ledger.CommitInput) (ledger.CommitResult, error)
	Reconcile(ctx context.Context, input ledger.ReconcileInput) (ledger.CommitResult, error)
}

// Service manages purchase documents. Every quantity effect goes through
// the ledger; the document tables never carry stock state of their own.
type Service struct {
	logger      *slog.Logger
	repo        RepositoryPort
	stock       LedgerPort
	idempotency *shared.IdempotencyStore
}

// NewService constructs the purchase service.
func NewService(logger *slog.Logger, repo RepositoryPort, stock LedgerPort, idem *shared.IdempotencyStore) *Service {
	return &Service{logger: logger, repo: repo, stock: stock, idempotency: idem}
}

// CreateInput carries a new purchase document.
type CreateInput struct {
	Supplier       string
	Note           string
	Lines          []Line
	ActorID        int64
	IdempotencyKey string
}

// Create stores the document, then posts its stock effect. If the stock
// commit fails the document is removed again so callers never see a
// purchase without ledger backing.
func (s *Service) Create(ctx context.Context, input CreateInput) (Purchase, error) {
	if len(input.Lines) == 0 {
		return Purchase{}, fmt.Errorf("%w: at least one line required", ErrInvalidPurchase)
	}
	guarded := false
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "purchases"); err != nil {
			return Purchase{}, err
		}
		guarded = true
	}

	purchase := Purchase{
		ID:        uuid.New(),
		Number:    generateNumber("PO"),
		Supplier:  input.Supplier,
		Note:      input.Note,
		Total:     linesTotal(input.Lines),
		CreatedBy: input.ActorID,
	}
	if err := s.repo.Insert(ctx, purchase, input.Lines); err != nil {
		if guarded {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return Purchase{}, fmt.Errorf("insert purchase: %w", err)
	}

	_, err := s.stock.Commit(ctx, ledger.CommitInput{
		Lines:   toLedgerLines(input.Lines),
		Cause:   ledger.CausePurchase,
		Ref:     purchase.ref(),
		Note:    input.Note,
		ActorID: input.ActorID,
	})
	if err != nil {
		if cleanupErr := s.repo.HardDelete(ctx, purchase.ID); cleanupErr != nil {
			s.logger.Error("orphaned purchase document after failed stock commit",
				slog.String("purchase_id", purchase.ID.String()), slog.Any("error", cleanupErr))
		}
		if guarded {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return Purchase{}, err
	}
	return purchase, nil
}

// UpdateInput carries a full replacement of a purchase's lines.
type UpdateInput struct {
	Supplier string
	Note     string
	Lines    []Line
	ActorID  int64
}

// Update replaces the document's lines. The ledger reverses the old
// effect and applies the new one in a single transaction; only then is
// the document rewritten.
func (s *Service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (Purchase, error) {
	if len(input.Lines) == 0 {
		return Purchase{}, fmt.Errorf("%w: at least one line required", ErrInvalidPurchase)
	}
	purchase, oldLines, err := s.repo.Get(ctx, id)
	if err != nil {
		return Purchase{}, err
	}
	if purchase.DeletedAt != nil {
		return Purchase{}, ErrPurchaseDeleted
	}

	_, err = s.stock.Reconcile(ctx, ledger.ReconcileInput{
		Old:     toLedgerLines(oldLines),
		New:     toLedgerLines(input.Lines),
		Cause:   ledger.CausePurchase,
		Ref:     purchase.ref(),
		Note:    input.Note,
		ActorID: input.ActorID,
	})
	if err != nil {
		return Purchase{}, err
	}

	total := linesTotal(input.Lines)
	if err := s.repo.ReplaceLines(ctx, id, total, input.Supplier, input.Note, input.Lines); err != nil {
		// The ledger already moved; put it back so stock and document agree.
		s.revert(ctx, purchase, input.Lines, oldLines, input.ActorID)
		return Purchase{}, fmt.Errorf("replace purchase lines: %w", err)
	}

	purchase.Supplier = input.Supplier
	purchase.Note = input.Note
	purchase.Total = total
	return purchase, nil
}

// Delete reverses the purchase's stock effect and soft-deletes the
// document. Its movement history stays in the ledger.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actorID int64) error {
	purchase, oldLines, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if purchase.DeletedAt != nil {
		return ErrPurchaseDeleted
	}

	_, err = s.stock.Reconcile(ctx, ledger.ReconcileInput{
		Old:     toLedgerLines(oldLines),
		Cause:   ledger.CausePurchase,
		Ref:     purchase.ref(),
		ActorID: actorID,
	})
	if err != nil {
		return err
	}

	if err := s.repo.SoftDelete(ctx, id); err != nil {
		s.revert(ctx, purchase, nil, oldLines, actorID)
		return fmt.Errorf("soft delete purchase: %w", err)
	}
	return nil
}

// Get returns a purchase with its lines.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Purchase, []Line, error) {
	return s.repo.Get(ctx, id)
}

// List returns purchases matching the filters.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Purchase, shared.Pagination, error) {
	purchases, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return purchases, shared.NewPagination(filters.Page, filters.PerPage, total), nil
}

// revert undoes an already committed ledger effect after a document
// write failed. Best effort: a failure here is logged for operator
// follow-up because the ledger, not the document, is the source of
// truth for quantities.
func (s *Service) revert(ctx context.Context, purchase Purchase, applied, restore []Line, actorID int64) {
	_, err := s.stock.Reconcile(ctx, ledger.ReconcileInput{
		Old:     toLedgerLines(applied),
		New:     toLedgerLines(restore),
		Cause:   ledger.CausePurchase,
		Ref:     purchase.ref(),
		Note:    "revert after document write failure",
		ActorID: actorID,
	})
	if err != nil {
		s.logger.Error("ledger revert failed, stock and document disagree",
			slog.String("purchase_id", purchase.ID.String()), slog.Any("error", err))
	}
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
