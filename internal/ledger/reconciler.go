package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/quartermast/quartermast/internal/shared"
)

// Reconciler makes edits and deletes of committed business documents safe.
// A replace is never a standalone new effect: the old line items are reversed
// first and the new ones applied second, both inside one outer transaction,
// so a failing forward step leaves the original stock untouched.
type Reconciler struct {
	co *Coordinator
}

// NewReconciler builds a Reconciler on top of the coordinator.
func NewReconciler(co *Coordinator) *Reconciler {
	return &Reconciler{co: co}
}

// Commit delegates to the underlying coordinator so the Reconciler can be
// handed to document services as their single stock dependency.
func (r *Reconciler) Commit(ctx context.Context, input CommitInput) (CommitResult, error) {
	return r.co.Commit(ctx, input)
}

// ReconcileInput describes a replace (or, with empty New, a delete) of a
// document's previously committed line items.
type ReconcileInput struct {
	Old     []LineItem
	New     []LineItem
	Cause   Cause
	Ref     DocumentRef
	Note    string
	ActorID int64
}

// Reconcile reverses the old lines and applies the new ones atomically.
// Both phases write their own movements referencing the same document, so
// the log reads "reversal of X" followed by "new effect of X".
func (r *Reconciler) Reconcile(ctx context.Context, input ReconcileInput) (CommitResult, error) {
	if !input.Cause.Valid() {
		return CommitResult{}, fmt.Errorf("%w: %q", ErrInvalidCause, input.Cause)
	}
	if err := input.Ref.validate(); err != nil {
		return CommitResult{}, err
	}
	if len(input.Old) == 0 && len(input.New) == 0 {
		return CommitResult{}, ErrEmptyCommit
	}

	var reversal, forward []delta
	var err error
	if len(input.Old) > 0 {
		reversal, err = invertedDeltas(input.Old, input.Cause)
		if err != nil {
			return CommitResult{}, err
		}
	}
	if len(input.New) > 0 {
		forward, err = signedDeltas(input.New, input.Cause)
		if err != nil {
			return CommitResult{}, err
		}
	}

	var result CommitResult
	err = r.co.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Lock the union of both phases up front in key order. Each phase
		// locks only its own keys, so without this a reversal touching a
		// later key than the forward phase would acquire locks out of order
		// against a concurrent commit.
		for _, key := range reconcileLockOrder(reversal, forward) {
			if _, err := tx.GetRecordForUpdate(ctx, key); err != nil && !errors.Is(err, ErrRecordNotFound) {
				return err
			}
		}
		if len(reversal) > 0 {
			undo, err := r.co.apply(ctx, tx, reversal, CauseReversal, input.Ref, reversalNote(input.Note), input.ActorID)
			if err != nil {
				return err
			}
			result.MovementIDs = append(result.MovementIDs, undo.MovementIDs...)
			result.Records = append(result.Records, undo.Records...)
		}
		if len(forward) > 0 {
			redo, err := r.co.apply(ctx, tx, forward, input.Cause, input.Ref, input.Note, input.ActorID)
			if err != nil {
				return err
			}
			result.MovementIDs = append(result.MovementIDs, redo.MovementIDs...)
			// Forward records supersede the reversal snapshots for keys
			// touched by both phases.
			result.Records = mergeRecords(result.Records, redo.Records)
		}
		return nil
	})
	if err != nil {
		return CommitResult{}, err
	}

	r.afterReconcile(ctx, input, reversal, forward)
	return result, nil
}

// afterReconcile triggers threshold checks for products whose aggregate
// quantity decreased across both phases combined.
func (r *Reconciler) afterReconcile(ctx context.Context, input ReconcileInput, reversal, forward []delta) {
	combined := append(append([]delta{}, reversal...), forward...)
	r.co.notifyDecreased(ctx, combined)

	if r.co.audit != nil {
		if err := r.co.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   fmt.Sprintf("ledger:reconcile:%s", input.Cause),
			Entity:   "stock_reconcile",
			EntityID: input.Ref.ID.String(),
			Meta: map[string]any{
				"module":    input.Ref.Module,
				"old_lines": len(input.Old),
				"new_lines": len(input.New),
			},
		}); err != nil {
			r.co.logger.Warn("audit record failed", slog.Any("error", err))
		}
	}
}

// reconcileLockOrder returns the distinct keys of both phases sorted into the
// coordinator's global lock order.
func reconcileLockOrder(reversal, forward []delta) []StockKey {
	seen := make(map[string]StockKey, len(reversal)+len(forward))
	for _, d := range reversal {
		seen[d.key.String()] = d.key
	}
	for _, d := range forward {
		seen[d.key.String()] = d.key
	}
	keys := make([]StockKey, 0, len(seen))
	for _, key := range seen {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

func mergeRecords(previous, latest []StockRecord) []StockRecord {
	byKey := make(map[string]StockRecord, len(previous)+len(latest))
	order := make([]string, 0, len(previous)+len(latest))
	for _, rec := range previous {
		id := rec.StockKey.String()
		if _, seen := byKey[id]; !seen {
			order = append(order, id)
		}
		byKey[id] = rec
	}
	for _, rec := range latest {
		id := rec.StockKey.String()
		if _, seen := byKey[id]; !seen {
			order = append(order, id)
		}
		byKey[id] = rec
	}
	merged := make([]StockRecord, 0, len(order))
	for _, id := range order {
		merged = append(merged, byKey[id])
	}
	return merged
}

func reversalNote(note string) string {
	if note == "" {
		return "reversal"
	}
	return "reversal: " + note
}
