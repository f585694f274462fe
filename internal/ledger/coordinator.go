package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quartermast/quartermast/internal/shared"
)

// RepositoryPort abstracts repository usage for the coordinator.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRecord(ctx context.Context, key StockKey) (StockRecord, error)
	QueryMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error)
	ProductTotal(ctx context.Context, productID int64) (decimal.Decimal, error)
}

// TxRepository exposes the write operations available while the surrounding
// transaction holds row locks.
type TxRepository interface {
	GetRecordForUpdate(ctx context.Context, key StockKey) (StockRecord, error)
	UpsertRecord(ctx context.Context, record StockRecord) error
	InsertMovement(ctx context.Context, movement Movement) (int64, error)
}

// MonitorPort is invoked after a commit for every product whose aggregate
// quantity decreased.
type MonitorPort interface {
	CheckAndNotify(ctx context.Context, productID int64) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Coordinator owns the write path to stock records and the movement log.
// Every quantity change in the system goes through Commit or through the
// reconciler built on top of it.
type Coordinator struct {
	repo    RepositoryPort
	monitor MonitorPort
	audit   AuditPort
	logger  *slog.Logger
}

// NewCoordinator builds a Coordinator. Monitor and audit may be nil.
func NewCoordinator(repo RepositoryPort, monitor MonitorPort, audit AuditPort, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{repo: repo, monitor: monitor, audit: audit, logger: logger}
}

// CommitInput describes one atomic business operation.
type CommitInput struct {
	Lines   []LineItem
	Cause   Cause
	Ref     DocumentRef
	Note    string
	ActorID int64
}

// delta is the signed effect of a commit on one stock key. Lines hitting the
// same key are merged so the movement log gets exactly one entry per key.
type delta struct {
	key StockKey
	qty decimal.Decimal
}

// Commit applies one business operation as a single transaction: lock the
// affected records in key order, validate the non-negative invariant, persist
// the new quantities and append one movement per key. On any failure nothing
// is visible.
func (c *Coordinator) Commit(ctx context.Context, input CommitInput) (CommitResult, error) {
	if !input.Cause.Valid() {
		return CommitResult{}, fmt.Errorf("%w: %q", ErrInvalidCause, input.Cause)
	}
	if err := input.Ref.validate(); err != nil {
		return CommitResult{}, err
	}
	deltas, err := signedDeltas(input.Lines, input.Cause)
	if err != nil {
		return CommitResult{}, err
	}

	var result CommitResult
	err = c.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result, err = c.apply(ctx, tx, deltas, input.Cause, input.Ref, input.Note, input.ActorID)
		return err
	})
	if err != nil {
		return CommitResult{}, err
	}

	c.afterCommit(ctx, input, deltas, result)
	return result, nil
}

// CurrentQuantity returns the quantity for one stock key; absent records
// read as zero. Snapshot read, not valid for gating writes.
func (c *Coordinator) CurrentQuantity(ctx context.Context, productID, warehouseID int64, expiry *time.Time) (decimal.Decimal, error) {
	record, err := c.repo.GetRecord(ctx, StockKey{ProductID: productID, WarehouseID: warehouseID, ExpiryDate: expiry})
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return record.Quantity, nil
}

// QueryMovements pages through the movement log, newest first.
func (c *Coordinator) QueryMovements(ctx context.Context, filter MovementFilter) ([]Movement, shared.Pagination, error) {
	movements, total, err := c.repo.QueryMovements(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return movements, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// apply runs steps 2-4 of a commit inside an open transaction. The reconciler
// calls it twice within one transaction, so it must not begin or end one.
func (c *Coordinator) apply(ctx context.Context, tx TxRepository, deltas []delta, cause Cause, ref DocumentRef, note string, actorID int64) (CommitResult, error) {
	result := CommitResult{
		MovementIDs: make([]int64, 0, len(deltas)),
		Records:     make([]StockRecord, 0, len(deltas)),
	}
	now := time.Now().UTC()

	for _, d := range deltas {
		record, err := tx.GetRecordForUpdate(ctx, d.key)
		if err != nil {
			if !errors.Is(err, ErrRecordNotFound) {
				return CommitResult{}, err
			}
			record = StockRecord{StockKey: d.key}
		}

		newQty := record.Quantity.Add(d.qty)
		if newQty.IsNegative() {
			return CommitResult{}, &InsufficientStockError{
				ProductID:   d.key.ProductID,
				WarehouseID: d.key.WarehouseID,
				Shortfall:   newQty.Neg(),
			}
		}

		record.Quantity = newQty
		record.UpdatedAt = now
		if err := tx.UpsertRecord(ctx, record); err != nil {
			return CommitResult{}, err
		}
		if record.Quantity.IsNegative() {
			return CommitResult{}, fmt.Errorf("%w: %s is %s", ErrInvariantViolation, d.key, record.Quantity)
		}

		movementID, err := tx.InsertMovement(ctx, Movement{
			ProductID:   d.key.ProductID,
			WarehouseID: d.key.WarehouseID,
			ExpiryDate:  d.key.ExpiryDate,
			Delta:       d.qty,
			Cause:       cause,
			Ref:         ref,
			Note:        note,
			ActorID:     actorID,
			CreatedAt:   now,
		})
		if err != nil {
			return CommitResult{}, err
		}

		result.MovementIDs = append(result.MovementIDs, movementID)
		result.Records = append(result.Records, record)
	}

	return result, nil
}

// afterCommit runs the side effects that must not roll back the commit:
// threshold checks for decreased products and the audit trail.
func (c *Coordinator) afterCommit(ctx context.Context, input CommitInput, deltas []delta, result CommitResult) {
	c.notifyDecreased(ctx, deltas)

	if c.audit != nil {
		if err := c.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   fmt.Sprintf("ledger:%s", input.Cause),
			Entity:   "stock_commit",
			EntityID: input.Ref.ID.String(),
			Meta: map[string]any{
				"module":    input.Ref.Module,
				"keys":      len(deltas),
				"movements": result.MovementIDs,
			},
		}); err != nil {
			c.logger.Warn("audit record failed", slog.Any("error", err))
		}
	}
}

// notifyDecreased invokes the threshold monitor once per distinct product
// whose net delta was negative.
func (c *Coordinator) notifyDecreased(ctx context.Context, deltas []delta) {
	if c.monitor == nil {
		return
	}
	perProduct := map[int64]decimal.Decimal{}
	for _, d := range deltas {
		perProduct[d.key.ProductID] = perProduct[d.key.ProductID].Add(d.qty)
	}
	for productID, net := range perProduct {
		if !net.IsNegative() {
			continue
		}
		if err := c.monitor.CheckAndNotify(ctx, productID); err != nil {
			c.logger.Warn("threshold check failed",
				slog.Int64("product_id", productID),
				slog.Any("error", err))
		}
	}
}

// signedDeltas validates the lines, applies the cause's direction and merges
// lines per key in lock order. Keys are merged by their canonical string form
// because expiry dates are held by pointer.
func signedDeltas(lines []LineItem, cause Cause) ([]delta, error) {
	merged := make(map[string]*delta, len(lines))
	for _, line := range lines {
		if line.ProductID == 0 || line.WarehouseID == 0 {
			return nil, fmt.Errorf("%w: product and warehouse required", ErrInvalidLineItem)
		}
		if !line.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidLineItem)
		}
		qty := line.Quantity
		if cause.Direction() < 0 {
			qty = qty.Neg()
		}
		key := line.Key()
		id := key.String()
		if existing, ok := merged[id]; ok {
			existing.qty = existing.qty.Add(qty)
		} else {
			merged[id] = &delta{key: key, qty: qty}
		}
	}
	if len(merged) == 0 {
		return nil, ErrEmptyCommit
	}
	return sortDeltas(merged), nil
}

// invertedDeltas builds the reversal of previously committed lines: the same
// keys with the opposite sign of the given cause's direction.
func invertedDeltas(lines []LineItem, originalCause Cause) ([]delta, error) {
	deltas, err := signedDeltas(lines, originalCause)
	if err != nil {
		return nil, err
	}
	for i := range deltas {
		deltas[i].qty = deltas[i].qty.Neg()
	}
	return deltas, nil
}

func sortDeltas(merged map[string]*delta) []delta {
	deltas := make([]delta, 0, len(merged))
	for _, d := range merged {
		deltas = append(deltas, *d)
	}
	sort.Slice(deltas, func(i, j int) bool {
		return deltas[i].key.Less(deltas[j].key)
	})
	return deltas
}
