package sales

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quartermast/quartermast/internal/ledger"
)

var (
	// ErrInvalidSale marks a sale that fails input validation.
	ErrInvalidSale = errors.New("sales: invalid sale")
	// ErrSaleDeleted rejects edits to an already deleted sale.
	ErrSaleDeleted = errors.New("sales: sale deleted")
)

// Sale is an outbound goods document. Its total is derived from the
// lines and is never edited independently.
type Sale struct {
	ID        uuid.UUID       `json:"id"`
	Number    string          `json:"number"`
	Customer  string          `json:"customer"`
	Note      string          `json:"note,omitempty"`
	Total     decimal.Decimal `json:"total"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
	CreatedBy int64           `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Line is one sold batch of a product out of a warehouse.
type Line struct {
	ID          int64           `json:"id"`
	SaleID      uuid.UUID       `json:"sale_id"`
	ProductID   int64           `json:"product_id"`
	WarehouseID int64           `json:"warehouse_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
}

// ListFilters narrows sale listings.
type ListFilters struct {
	Customer string
	Page     int
	PerPage  int
}

func (s Sale) ref() ledger.DocumentRef {
	return ledger.DocumentRef{Module: "sale", ID: s.ID}
}

func toLedgerLines(lines []Line) []ledger.LineItem {
	out := make([]ledger.LineItem, 0, len(lines))
	for _, line := range lines {
		out = append(out, ledger.LineItem{
			ProductID:   line.ProductID,
			WarehouseID: line.WarehouseID,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			ExpiryDate:  line.ExpiryDate,
		})
	}
	return out
}

func linesTotal(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Quantity.Mul(line.UnitPrice))
	}
	return total
}
