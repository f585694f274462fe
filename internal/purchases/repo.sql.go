package purchases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quartermast/quartermast/internal/platform/db"
	"github.com/quartermast/quartermast/internal/shared"
)

// Repository persists purchase documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads a purchase with its lines.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Purchase, []Line, error) {
	var p Purchase
	err := r.pool.QueryRow(ctx, `SELECT id, number, supplier, note, total, deleted_at, created_by, created_at, updated_at
FROM purchases WHERE id=$1`, id).
		Scan(&p.ID, &p.Number, &p.Supplier, &p.Note, &p.Total, &p.DeletedAt, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, nil, shared.ErrNotFound
		}
		return Purchase{}, nil, fmt.Errorf("get purchase: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT id, purchase_id, product_id, warehouse_id, quantity, unit_price, expiry_date
FROM purchase_lines WHERE purchase_id=$1 ORDER BY id`, id)
	if err != nil {
		return Purchase{}, nil, fmt.Errorf("get purchase lines: %w", err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.PurchaseID, &line.ProductID, &line.WarehouseID, &line.Quantity, &line.UnitPrice, &line.ExpiryDate); err != nil {
			return Purchase{}, nil, fmt.Errorf("scan purchase line: %w", err)
		}
		lines = append(lines, line)
	}
	return p, lines, rows.Err()
}

// List returns active purchases, newest first.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Purchase, int, error) {
	where := []string{"deleted_at IS NULL"}
	args := []any{}
	if filters.Supplier != "" {
		args = append(args, "%"+filters.Supplier+"%")
		where = append(where, fmt.Sprintf("supplier ILIKE $%d", len(args)))
	}
	predicate := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM purchases WHERE "+predicate, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count purchases: %w", err)
	}

	page := shared.NewPagination(filters.Page, filters.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	query := fmt.Sprintf(`SELECT id, number, supplier, note, total, deleted_at, created_by, created_at, updated_at
FROM purchases WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, predicate, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []Purchase
	for rows.Next() {
		var p Purchase
		if err := rows.Scan(&p.ID, &p.Number, &p.Supplier, &p.Note, &p.Total, &p.DeletedAt, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	return purchases, total, rows.Err()
}

// Insert writes a purchase and its lines in one transaction.
func (r *Repository) Insert(ctx context.Context, p Purchase, lines []Line) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO purchases (id, number, supplier, note, total, created_by)
VALUES ($1,$2,$3,$4,$5,$6)`, p.ID, p.Number, p.Supplier, p.Note, p.Total, p.CreatedBy)
		if err != nil {
			return fmt.Errorf("insert purchase: %w", err)
		}
		return insertLines(ctx, tx, p.ID, lines)
	})
}

// ReplaceLines rewrites the document header and swaps all lines.
func (r *Repository) ReplaceLines(ctx context.Context, id uuid.UUID, total decimal.Decimal, supplier, note string, lines []Line) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE purchases SET supplier=$2, note=$3, total=$4, updated_at=NOW()
WHERE id=$1 AND deleted_at IS NULL`, id, supplier, note, total)
		if err != nil {
			return fmt.Errorf("update purchase: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM purchase_lines WHERE purchase_id=$1`, id); err != nil {
			return fmt.Errorf("clear purchase lines: %w", err)
		}
		return insertLines(ctx, tx, id, lines)
	})
}

// SoftDelete marks the purchase deleted. Lines stay for the audit trail.
func (r *Repository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE purchases SET deleted_at=NOW(), updated_at=NOW()
WHERE id=$1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft delete purchase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// HardDelete removes the document entirely. Used only to clean up after
// a failed stock commit on create.
func (r *Repository) HardDelete(ctx context.Context, id uuid.UUID) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM purchase_lines WHERE purchase_id=$1`, id); err != nil {
			return fmt.Errorf("delete purchase lines: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM purchases WHERE id=$1`, id); err != nil {
			return fmt.Errorf("delete purchase: %w", err)
		}
		return nil
	})
}

func (r *Repository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

func insertLines(ctx context.Context, tx pgx.Tx, id uuid.UUID, lines []Line) error {
	for _, line := range lines {
		_, err := tx.Exec(ctx, `INSERT INTO purchase_lines (purchase_id, product_id, warehouse_id, quantity, unit_price, expiry_date)
VALUES ($1,$2,$3,$4,$5,$6)`, id, line.ProductID, line.WarehouseID, line.Quantity, line.UnitPrice, nullDate(line.ExpiryDate))
		if err != nil {
			return fmt.Errorf("insert purchase line: %w", err)
		}
	}
	return nil
}

func nullDate(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}
