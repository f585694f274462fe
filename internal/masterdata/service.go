package masterdata

import (
	"context"

	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts repository usage for Service.
type RepositoryPort interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, filters ListFilters) ([]Product, int, error)
	CreateProduct(ctx context.Context, p Product) (Product, error)
	UpdateProduct(ctx context.Context, id int64, p Product) error
	MinStock(ctx context.Context, productID int64) (decimal.Decimal, error)
	ListActiveProductIDs(ctx context.Context) ([]int64, error)
	GetWarehouse(ctx context.Context, id int64) (Warehouse, error)
	ListWarehouses(ctx context.Context) ([]Warehouse, error)
	CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error)
	UpdateWarehouse(ctx context.Context, id int64, w Warehouse) error
}

// InvalidatorPort drops cached threshold config when a product changes.
type InvalidatorPort interface {
	Invalidate(ctx context.Context, productID int64) error
}

// Service manages products and warehouses.
type Service struct {
	repo  RepositoryPort
	cache InvalidatorPort
}

// NewService constructs a masterdata service. Cache may be nil.
func NewService(repo RepositoryPort, cache InvalidatorPort) *Service {
	return &Service{repo: repo, cache: cache}
}

func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

func (s *Service) ListProducts(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	return s.repo.ListProducts(ctx, filters)
}

func (s *Service) CreateProduct(ctx context.Context, p Product) (Product, error) {
	if p.SKU == "" || p.Name == "" {
		return Product{}, ErrInvalidProduct
	}
	return s.repo.CreateProduct(ctx, p)
}

// UpdateProduct rewrites the product and drops any cached minimum so the
// threshold monitor sees the new value immediately.
func (s *Service) UpdateProduct(ctx context.Context, id int64, p Product) error {
	if p.SKU == "" || p.Name == "" {
		return ErrInvalidProduct
	}
	if err := s.repo.UpdateProduct(ctx, id, p); err != nil {
		return err
	}
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, id)
	}
	return nil
}

func (s *Service) ListActiveProductIDs(ctx context.Context) ([]int64, error) {
	return s.repo.ListActiveProductIDs(ctx)
}

func (s *Service) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	return s.repo.GetWarehouse(ctx, id)
}

func (s *Service) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	return s.repo.ListWarehouses(ctx)
}

func (s *Service) CreateWarehouse(ctx context.Context, w Warehouse) (Warehouse, error) {
	if w.Code == "" || w.Name == "" {
		return Warehouse{}, ErrInvalidWarehouse
	}
	return s.repo.CreateWarehouse(ctx, w)
}

func (s *Service) UpdateWarehouse(ctx context.Context, id int64, w Warehouse) error {
	if w.Code == "" || w.Name == "" {
		return ErrInvalidWarehouse
	}
	return s.repo.UpdateWarehouse(ctx, id, w)
}
