package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// memoryRepo is an in-memory RepositoryPort for tests. A single mutex per
// transaction mirrors the serialization the row locks provide, and a
// snapshot taken at transaction start gives all-or-nothing semantics.
type memoryRepo struct {
	mu        sync.Mutex
	records   map[string]StockRecord
	movements []Movement
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: make(map[string]StockRecord)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[string]StockRecord, len(r.records))
	for k, v := range r.records {
		snapshot[k] = v
	}
	movementCount := len(r.movements)
	nextID := r.nextID

	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.records = snapshot
		r.movements = r.movements[:movementCount]
		r.nextID = nextID
		return err
	}
	return nil
}

func (r *memoryRepo) GetRecord(ctx context.Context, key StockKey) (StockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[key.String()]
	if !ok {
		return StockRecord{}, ErrRecordNotFound
	}
	return record, nil
}

func (r *memoryRepo) ProductTotal(ctx context.Context, productID int64) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, record := range r.records {
		if record.ProductID == productID {
			total = total.Add(record.Quantity)
		}
	}
	return total, nil
}

func (r *memoryRepo) QueryMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := []Movement{}
	for i := len(r.movements) - 1; i >= 0; i-- {
		m := r.movements[i]
		if filter.ProductID != 0 && m.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID != 0 && m.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.Cause != "" && m.Cause != filter.Cause {
			continue
		}
		matched = append(matched, m)
	}
	total := len(matched)

	// Same paging semantics as the SQL repository.
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// allMovements returns the raw log in append order.
func (r *memoryRepo) allMovements() []Movement {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Movement, len(r.movements))
	copy(out, r.movements)
	return out
}

func (tx *memoryTx) GetRecordForUpdate(ctx context.Context, key StockKey) (StockRecord, error) {
	record, ok := tx.repo.records[key.String()]
	if !ok {
		return StockRecord{}, ErrRecordNotFound
	}
	return record, nil
}

func (tx *memoryTx) UpsertRecord(ctx context.Context, record StockRecord) error {
	tx.repo.records[record.StockKey.String()] = record
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	tx.repo.nextID++
	movement.ID = tx.repo.nextID
	tx.repo.movements = append(tx.repo.movements, movement)
	return movement.ID, nil
}

// recordingNotifier captures emitted low stock events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []LowStockEvent
}

func (n *recordingNotifier) NotifyLowStock(ctx context.Context, event LowStockEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) all() []LowStockEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]LowStockEvent, len(n.events))
	copy(out, n.events)
	return out
}

// staticThresholds serves product minimums from a map.
type staticThresholds map[int64]decimal.Decimal

func (s staticThresholds) MinStock(ctx context.Context, productID int64) (decimal.Decimal, error) {
	minimum, ok := s[productID]
	if !ok {
		return decimal.Zero, ErrNoThreshold
	}
	return minimum, nil
}
