package sales

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

// Repository persists sale documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads a sale with its lines.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Sale, []Line, error) {
	var s Sale
	err := r.pool.QueryRow(ctx, `SELECT id, number, customer, note, total, deleted_at, created_by, created_at, updated_at
FROM sales WHERE id=$1`, id).
		Scan(&s.ID, &s.Number, &s.Customer, &s.Note, &s.Total, &s.DeletedAt, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, nil, shared.ErrNotFound
		}
		return Sale{}, nil, fmt.Errorf("get sale: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT id, sale_id, product_id, warehouse_id, quantity, unit_price, expiry_date
FROM sale_lines WHERE sale_id=$1 ORDER BY id`, id)
	if err != nil {
		return Sale{}, nil, fmt.Errorf("get sale lines: %w", err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ProductID, &line.WarehouseID, &line.Quantity, &line.UnitPrice, &line.ExpiryDate); err != nil {
			return Sale{}, nil, fmt.Errorf("scan sale line: %w", err)
		}
		lines = append(lines, line)
	}
	return s, lines, rows.Err()
}

// List returns active sales, newest first.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Sale, int, error) {
	where := []string{"deleted_at IS NULL"}
	args := []any{}
	if filters.Customer != "" {
		args = append(args, "%"+filters.Customer+"%")
		where = append(where, fmt.Sprintf("customer ILIKE $%d", len(args)))
	}
	predicate := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sales WHERE "+predicate, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sales: %w", err)
	}

	page := shared.NewPagination(filters.Page, filters.PerPage, total)
	args = append(args, page.PerPage, page.Offset())
	query := fmt.Sprintf(`SELECT id, number, customer, note, total, deleted_at, created_by, created_at, updated_at
FROM sales WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, predicate, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	var sales []Sale
	for rows.Next() {
		var s Sale
		if err := rows.Scan(&s.ID, &s.Number, &s.Customer, &s.Note, &s.Total, &s.DeletedAt, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan sale: %w", err)
		}
		sales = append(sales, s)
	}
	return sales, total, rows.Err()
}

// Insert writes a sale and its lines in one transaction.
func (r *Repository) Insert(ctx context.Context, s Sale, lines []Line) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO sales (id, number, customer, note, total, created_by)
VALUES ($1,$2,$3,$4,$5,$6)`, s.ID, s.Number, s.Customer, s.Note, s.Total, s.CreatedBy)
		if err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}
		return insertLines(ctx, tx, s.ID, lines)
	})
}

// ReplaceLines rewrites the document header and swaps all lines.
func (r *Repository) ReplaceLines(ctx context.Context, id uuid.UUID, total decimal.Decimal, customer, note string, lines []Line) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE sales SET customer=$2, note=$3, total=$4, updated_at=NOW()
WHERE id=$1 AND deleted_at IS NULL`, id, customer, note, total)
		if err != nil {
			return fmt.Errorf("update sale: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM sale_lines WHERE sale_id=$1`, id); err != nil {
			return fmt.Errorf("clear sale lines: %w", err)
		}
		return insertLines(ctx, tx, id, lines)
	})
}

// SoftDelete marks the sale deleted. Lines stay for the audit trail.
func (r *Repository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sales SET deleted_at=NOW(), updated_at=NOW()
WHERE id=$1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft delete sale: %w", err)
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
		if _, err := tx.Exec(ctx, `DELETE FROM sale_lines WHERE sale_id=$1`, id); err != nil {
			return fmt.Errorf("delete sale lines: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM sales WHERE id=$1`, id); err != nil {
			return fmt.Errorf("delete sale: %w", err)
		}
		return nil
	})
}

func (r *Repository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

func insertLines(ctx context.Context, tx pgx.Tx, id uuid.UUID, lines []Line) error {
	for _, line := range lines {
		_, err := tx.Exec(ctx, `INSERT INTO sale_lines (sale_id, product_id, warehouse_id, quantity, unit_price, expiry_date)
VALUES ($1,$2,$3,$4,$5,$6)`, id, line.ProductID, line.WarehouseID, line.Quantity, line.UnitPrice, nullDate(line.ExpiryDate))
		if err != nil {
			return fmt.Errorf("insert sale line: %w", err)
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
