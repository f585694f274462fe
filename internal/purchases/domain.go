package purchases

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quartermast/quartermast/internal/ledger"
)

var (
	// ErrInvalidPurchase marks a purchase that fails input validation.
	ErrInvalidPurchase = errors.New("purchases: invalid purchase")
	// ErrPurchaseDeleted rejects edits to an already deleted purchase.
	ErrPurchaseDeleted = errors.New("purchases: purchase deleted")
)

// Purchase is an inbound goods document. Its total is derived from the
// lines and is never edited independently.
type Purchase struct {
	ID        uuid.UUID       `json:"id"`
	Number    string          `json:"number"`
	Supplier  string          `json:"supplier"`
	Note      string          `json:"note,omitempty"`
	Total     decimal.Decimal `json:"total"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
	CreatedBy int64           `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Line is one purchased batch of a product into a warehouse.
type Line struct {
	ID          int64           `json:"id"`
	PurchaseID  uuid.UUID       `json:"purchase_id"`
	ProductID   int64           `json:"product_id"`
	WarehouseID int64           `json:"warehouse_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
}

// ListFilters narrows purchase listings.
type ListFilters struct {
	Supplier string
	Page     int
	PerPage  int
}

func (p Purchase) ref() ledger.DocumentRef {
	return ledger.DocumentRef{Module: "purchase", ID: p.ID}
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
