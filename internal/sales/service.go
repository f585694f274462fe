package sales

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

// RepositoryPort abstracts sale persistence for Service.
type RepositoryPort interface {
	Get(ctx context.Context, id uuid.UUID) (Sale, []Line, error)
	List(ctx context.Context, filters ListFilters) ([]Sale, int, error)
	Insert(ctx context.Context, s Sale, lines []Line) error
	ReplaceLines(ctx context.Context, id uuid.UUID, total decimal.Decimal, customer, note string, lines []Line) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	HardDelete(ctx context.Context, id uuid.UUID) error
}

// LedgerPort is the slice of the stock ledger the sale flow uses.
type LedgerPort interface {
	Commit(ctx context.Context, input ledger.CommitInput) (ledger.CommitResult, error)
	Reconcile(ctx context.Context, input ledger.ReconcileInput) (ledger.CommitResult, error)
}

// Service manages sale documents. A sale's stock effect is always
// negative; oversold lines are rejected by the ledger before any
// document state becomes visible.
type Service struct {
	logger      *slog.Logger
	repo        RepositoryPort
	stock       LedgerPort
	idempotency *shared.IdempotencyStore
}

// NewService constructs the sale service.
func NewService(logger *slog.Logger, repo RepositoryPort, stock LedgerPort, idem *shared.IdempotencyStore) *Service {
	return &Service{logger: logger, repo: repo, stock: stock, idempotency: idem}
}

// CreateInput carries a new sale document.
type CreateInput struct {
	Customer       string
	Note           string
	Lines          []Line
	ActorID        int64
	IdempotencyKey string
}

// Create stores the document, then posts the stock decrease. A failed
// commit, typically insufficient stock, removes the document again.
func (s *Service) Create(ctx context.Context, input CreateInput) (Sale, error) {
	if len(input.Lines) == 0 {
		return Sale{}, fmt.Errorf("%w: at least one line required", ErrInvalidSale)
	}
	guarded := false
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "sales"); err != nil {
			return Sale{}, err
		}
		guarded = true
	}

	sale := Sale{
		ID:        uuid.New(),
		Number:    generateNumber("SO"),
		Customer:  input.Customer,
		Note:      input.Note,
		Total:     linesTotal(input.Lines),
		CreatedBy: input.ActorID,
	}
	if err := s.repo.Insert(ctx, sale, input.Lines); err != nil {
		if guarded {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return Sale{}, fmt.Errorf("insert sale: %w", err)
	}

	_, err := s.stock.Commit(ctx, ledger.CommitInput{
		Lines:   toLedgerLines(input.Lines),
		Cause:   ledger.CauseSale,
		Ref:     sale.ref(),
		Note:    input.Note,
		ActorID: input.ActorID,
	})
	if err != nil {
		if cleanupErr := s.repo.HardDelete(ctx, sale.ID); cleanupErr != nil {
			s.logger.Error("orphaned sale document after failed stock commit",
				slog.String("sale_id", sale.ID.String()), slog.Any("error", cleanupErr))
		}
		if guarded {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return Sale{}, err
	}
	return sale, nil
}

// UpdateInput carries a full replacement of a sale's lines.
type UpdateInput struct {
	Customer string
	Note     string
	Lines    []Line
	ActorID  int64
}

// Update replaces the document's lines. The ledger restores the old
// quantities and deducts the new ones in one transaction, so editing a
// sale of 30 up to 50 only needs 20 more units on hand.
func (s *Service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (Sale, error) {
	if len(input.Lines) == 0 {
		return Sale{}, fmt.Errorf("%w: at least one line required", ErrInvalidSale)
	}
	sale, oldLines, err := s.repo.Get(ctx, id)
	if err != nil {
		return Sale{}, err
	}
	if sale.DeletedAt != nil {
		return Sale{}, ErrSaleDeleted
	}

	_, err = s.stock.Reconcile(ctx, ledger.ReconcileInput{
		Old:     toLedgerLines(oldLines),
		New:     toLedgerLines(input.Lines),
		Cause:   ledger.CauseSale,
		Ref:     sale.ref(),
		Note:    input.Note,
		ActorID: input.ActorID,
	})
	if err != nil {
		return Sale{}, err
	}

	total := linesTotal(input.Lines)
	if err := s.repo.ReplaceLines(ctx, id, total, input.Customer, input.Note, input.Lines); err != nil {
		s.revert(ctx, sale, input.Lines, oldLines, input.ActorID)
		return Sale{}, fmt.Errorf("replace sale lines: %w", err)
	}

	sale.Customer = input.Customer
	sale.Note = input.Note
	sale.Total = total
	return sale, nil
}

// Delete restores the sold quantities and soft-deletes the document.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actorID int64) error {
	sale, oldLines, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if sale.DeletedAt != nil {
		return ErrSaleDeleted
	}

	_, err = s.stock.Reconcile(ctx, ledger.ReconcileInput{
		Old:     toLedgerLines(oldLines),
		Cause:   ledger.CauseSale,
		Ref:     sale.ref(),
		ActorID: actorID,
	})
	if err != nil {
		return err
	}

	if err := s.repo.SoftDelete(ctx, id); err != nil {
		s.revert(ctx, sale, nil, oldLines, actorID)
		return fmt.Errorf("soft delete sale: %w", err)
	}
	return nil
}

// Get returns a sale with its lines.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Sale, []Line, error) {
	return s.repo.Get(ctx, id)
}

// List returns sales matching the filters.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Sale, shared.Pagination, error) {
	sales, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return sales, shared.NewPagination(filters.Page, filters.PerPage, total), nil
}

// revert undoes an already committed ledger effect after a document
// write failed. Best effort, logged for operator follow-up.
func (s *Service) revert(ctx context.Context, sale Sale, applied, restore []Line, actorID int64) {
	_, err := s.stock.Reconcile(ctx, ledger.ReconcileInput{
		Old:     toLedgerLines(applied),
		New:     toLedgerLines(restore),
		Cause:   ledger.CauseSale,
		Ref:     sale.ref(),
		Note:    "revert after document write failure",
		ActorID: actorID,
	})
	if err != nil {
		s.logger.Error("ledger revert failed, stock and document disagree",
			slog.String("sale_id", sale.ID.String()), slog.Any("error", err))
	}
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
