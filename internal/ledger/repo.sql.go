package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quartermast/quartermast/internal/platform/db"
)

// Repository persists stock records and movements in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetRecord reads one stock record outside any transaction.
func (r *Repository) GetRecord(ctx context.Context, key StockKey) (StockRecord, error) {
	if r == nil {
		return StockRecord{}, errors.New("ledger repository not initialised")
	}
	var record StockRecord
	err := r.pool.QueryRow(ctx, `SELECT product_id, warehouse_id, expiry_date, quantity, updated_at
FROM stock_records
WHERE product_id=$1 AND warehouse_id=$2 AND expiry_date IS NOT DISTINCT FROM $3`,
		key.ProductID, key.WarehouseID, nullDate(key.ExpiryDate)).
		Scan(&record.ProductID, &record.WarehouseID, &record.ExpiryDate, &record.Quantity, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockRecord{}, ErrRecordNotFound
		}
		return StockRecord{}, err
	}
	return record, nil
}

// ProductTotal sums quantities for a product across warehouses and batches.
func (r *Repository) ProductTotal(ctx context.Context, productID int64) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, errors.New("ledger repository not initialised")
	}
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM stock_records WHERE product_id=$1`, productID).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// QueryMovements pages through the movement log, newest first.
func (r *Repository) QueryMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	if r == nil {
		return nil, 0, errors.New("ledger repository not initialised")
	}
	where, args := movementPredicates(filter)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, perPage, (page-1)*perPage)
	query := fmt.Sprintf(`SELECT id, product_id, warehouse_id, expiry_date, delta, cause, ref_module, ref_id, note, actor_id, created_at
FROM stock_movements%s
ORDER BY created_at DESC, id DESC
LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.WarehouseID, &m.ExpiryDate, &m.Delta, &m.Cause, &m.Ref.Module, &m.Ref.ID, &m.Note, &m.ActorID, &m.CreatedAt); err != nil {
			return nil, 0, err
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}

func movementPredicates(filter MovementFilter) (string, []any) {
	var conditions []string
	var args []any
	add := func(cond string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.ProductID != 0 {
		add("product_id=$%d", filter.ProductID)
	}
	if filter.WarehouseID != 0 {
		add("warehouse_id=$%d", filter.WarehouseID)
	}
	if filter.Cause != "" {
		add("cause=$%d", string(filter.Cause))
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (r *txRepository) GetRecordForUpdate(ctx context.Context, key StockKey) (StockRecord, error) {
	var record StockRecord
	err := r.tx.QueryRow(ctx, `SELECT product_id, warehouse_id, expiry_date, quantity, updated_at
FROM stock_records
WHERE product_id=$1 AND warehouse_id=$2 AND expiry_date IS NOT DISTINCT FROM $3
FOR UPDATE`,
		key.ProductID, key.WarehouseID, nullDate(key.ExpiryDate)).
		Scan(&record.ProductID, &record.WarehouseID, &record.ExpiryDate, &record.Quantity, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockRecord{}, ErrRecordNotFound
		}
		return StockRecord{}, err
	}
	return record, nil
}

func (r *txRepository) UpsertRecord(ctx context.Context, record StockRecord) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_records (product_id, warehouse_id, expiry_date, quantity, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (product_id, warehouse_id, COALESCE(expiry_date, 'infinity'::date))
DO UPDATE SET quantity=EXCLUDED.quantity, updated_at=NOW()`,
		record.ProductID, record.WarehouseID, nullDate(record.ExpiryDate), record.Quantity)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, movement Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, warehouse_id, expiry_date, delta, cause, ref_module, ref_id, note, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		movement.ProductID, movement.WarehouseID, nullDate(movement.ExpiryDate), movement.Delta, string(movement.Cause),
		movement.Ref.Module, movement.Ref.ID, movement.Note, movement.ActorID, movement.CreatedAt).Scan(&id)
	return id, err
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
