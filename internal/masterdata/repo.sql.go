package masterdata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quartermast/quartermast/internal/ledger"
	"github.com/quartermast/quartermast/internal/shared"
)

// Repository persists products and warehouses in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const productColumns = `id, sku, name, unit, min_stock, active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Unit, &p.MinStock, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// GetProduct loads one product.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, shared.ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

// ListProducts returns one page plus the unpaged total.
func (r *Repository) ListProducts(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	where, args := productPredicates(filters)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	pagination := shared.NewPagination(filters.Page, filters.PerPage, total)
	args = append(args, pagination.PerPage, pagination.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT `+productColumns+` FROM products%s ORDER BY sku LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

// CreateProduct inserts and returns the product with its id.
func (r *Repository) CreateProduct(ctx context.Context, p Product) (Product, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO products (sku, name, unit, min_stock, active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		p.SKU, p.Name, p.Unit, p.MinStock, p.Active).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, translateUnique(err)
	}
	return p, nil
}

// UpdateProduct rewrites the mutable columns.
func (r *Repository) UpdateProduct(ctx context.Context, id int64, p Product) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET sku=$2, name=$3, unit=$4, min_stock=$5, active=$6, updated_at=NOW() WHERE id=$1`,
		id, p.SKU, p.Name, p.Unit, p.MinStock, p.Active)
	if err != nil {
		return translateUnique(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// MinStock resolves a product's configured minimum for the threshold monitor.
func (r *Repository) MinStock(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var minimum decimal.NullDecimal
	err := r.pool.QueryRow(ctx, `SELECT min_stock FROM products WHERE id=$1 AND active`, productID).Scan(&minimum)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ledger.ErrNoThreshold
		}
		return decimal.Zero, err
	}
	if !minimum.Valid {
		return decimal.Zero, ledger.ErrNoThreshold
	}
	return minimum.Decimal, nil
}

// ListActiveProductIDs returns ids for the periodic threshold sweep.
func (r *Repository) ListActiveProductIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM products WHERE active AND min_stock IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const warehouseColumns = `id, code, name, address, created_at, updated_at`

func scanWarehouse(row pgx.Row) (Warehouse, error) {
	var w Warehouse
	err := row.Scan(&w.ID, &w.Code, &w.Name, &w.Address, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

// GetWarehouse loads one warehouse.
func (r *Repository) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	w, err := scanWarehouse(r.pool.QueryRow(ctx, `SELECT `+warehouseColumns+` FROM warehouses WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Warehouse{}, shared.ErrNotFound
		}
		return Warehouse{}, err
	}
	return w, nil
}

// ListWarehouses returns all warehouses.
func (r *Repository) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+warehouseColumns+` FROM warehouses ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	warehouses := []Warehouse{}
	for rows.Next() {
		w, err := scanWarehouse(rows)
		if err != nil {
			return nil, err
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, rows.Err()
}

// CreateWarehouse inserts and returns the warehouse with its id.
func (r *Repository) CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO warehouses (code, name, address, created_at, updated_at)
VALUES ($1,$2,$3,NOW(),NOW()) RETURNING id, created_at, updated_at`,
		w.Code, w.Name, w.Address).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return Warehouse{}, translateUnique(err)
	}
	return w, nil
}

// UpdateWarehouse rewrites the mutable columns.
func (r *Repository) UpdateWarehouse(ctx context.Context, id int64, w Warehouse) error {
	tag, err := r.pool.Exec(ctx, `UPDATE warehouses SET code=$2, name=$3, address=$4, updated_at=NOW() WHERE id=$1`,
		id, w.Code, w.Name, w.Address)
	if err != nil {
		return translateUnique(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func productPredicates(filters ListFilters) (string, []any) {
	var conditions []string
	var args []any
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		conditions = append(conditions, fmt.Sprintf("(sku ILIKE $%d OR name ILIKE $%d)", len(args), len(args)))
	}
	if filters.Active != nil {
		args = append(args, *filters.Active)
		conditions = append(conditions, fmt.Sprintf("active=$%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func translateUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return shared.ErrDuplicate
	}
	return err
}
