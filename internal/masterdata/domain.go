// Package masterdata holds the products and warehouses the ledger tracks
// stock for, including each product's minimum stock level.
package masterdata

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Product is a sellable item. MinStock is the low-stock threshold compared
// against the product's aggregate quantity; products without one are never
// reported as low.
type Product struct {
	ID        int64
	SKU       string
	Name      string
	Unit      string
	MinStock  decimal.NullDecimal
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Warehouse is a physical stock location.
type Warehouse struct {
	ID        int64
	Code      string
	Name      string
	Address   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListFilters narrows product and warehouse listings.
type ListFilters struct {
	Page    int
	PerPage int
	Search  string
	Active  *bool
}

var (
	// ErrInvalidProduct indicates missing SKU or name.
	ErrInvalidProduct = errors.New("masterdata: product requires sku and name")
	// ErrInvalidWarehouse indicates missing code or name.
	ErrInvalidWarehouse = errors.New("masterdata: warehouse requires code and name")
)
