package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quartermast/quartermast/internal/platform/httpx"
	"github.com/quartermast/quartermast/internal/shared"
)

// Handler wires the ledger's HTTP surface: manual adjustments, stock levels
// and the movement log.
type Handler struct {
	logger      *slog.Logger
	coordinator *Coordinator
	validate    *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, coordinator *Coordinator) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, coordinator: coordinator, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/adjustments", h.handleAdjustment)
	r.Get("/stock", h.handleStock)
	r.Get("/movements", h.handleMovements)
}

type adjustmentRequest struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity" validate:"required"`
	Kind        string          `json:"kind" validate:"required,oneof=damage lost found adjustment"`
	ExpiryDate  *string         `json:"expiry_date,omitempty"`
	Note        string          `json:"note,omitempty"`
}

type adjustmentResponse struct {
	MovementIDs []int64         `json:"movement_ids"`
	Records     []stockResponse `json:"records"`
}

type stockResponse struct {
	ProductID   int64           `json:"product_id"`
	WarehouseID int64           `json:"warehouse_id"`
	ExpiryDate  *string         `json:"expiry_date,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
}

var adjustmentCauses = map[string]Cause{
	"damage":     CauseDamage,
	"lost":       CauseLost,
	"found":      CauseFound,
	"adjustment": CauseAdjustment,
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if !req.Quantity.IsPositive() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "quantity must be positive")
		return
	}
	expiry, err := parseExpiry(req.ExpiryDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expiry_date must be YYYY-MM-DD")
		return
	}

	result, err := h.coordinator.Commit(r.Context(), CommitInput{
		Lines: []LineItem{{
			ProductID:   req.ProductID,
			WarehouseID: req.WarehouseID,
			Quantity:    req.Quantity,
			ExpiryDate:  expiry,
		}},
		Cause:   adjustmentCauses[req.Kind],
		Ref:     DocumentRef{Module: "adjustment", ID: uuid.New()},
		Note:    req.Note,
		ActorID: shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondLedgerError(w, err)
		return
	}

	httpx.JSON(w, http.StatusCreated, adjustmentResponse{
		MovementIDs: result.MovementIDs,
		Records:     stockResponses(result.Records),
	})
}

func (h *Handler) handleStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productID, err1 := strconv.ParseInt(q.Get("product_id"), 10, 64)
	warehouseID, err2 := strconv.ParseInt(q.Get("warehouse_id"), 10, 64)
	if err1 != nil || err2 != nil || productID <= 0 || warehouseID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id and warehouse_id are required")
		return
	}
	var expiry *time.Time
	if value := q.Get("expiry_date"); value != "" {
		parsed, err := parseExpiry(&value)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expiry_date must be YYYY-MM-DD")
			return
		}
		expiry = parsed
	}

	quantity, err := h.coordinator.CurrentQuantity(r.Context(), productID, warehouseID, expiry)
	if err != nil {
		h.respondLedgerError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stockResponse{
		ProductID:   productID,
		WarehouseID: warehouseID,
		ExpiryDate:  formatExpiry(expiry),
		Quantity:    quantity,
	})
}

type movementResponse struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	WarehouseID int64           `json:"warehouse_id"`
	ExpiryDate  *string         `json:"expiry_date,omitempty"`
	Delta       decimal.Decimal `json:"delta"`
	Cause       Cause           `json:"cause"`
	RefModule   string          `json:"ref_module"`
	RefID       uuid.UUID       `json:"ref_id"`
	Note        string          `json:"note,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type movementsPage struct {
	Movements  []movementResponse `json:"movements"`
	Pagination shared.Pagination  `json:"pagination"`
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := MovementFilter{}
	if value := q.Get("product_id"); value != "" {
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "product_id must be numeric")
			return
		}
		filter.ProductID = id
	}
	if value := q.Get("warehouse_id"); value != "" {
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "warehouse_id must be numeric")
			return
		}
		filter.WarehouseID = id
	}
	filter.Cause = Cause(q.Get("cause"))
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	movements, pagination, err := h.coordinator.QueryMovements(r.Context(), filter)
	if err != nil {
		h.respondLedgerError(w, err)
		return
	}

	page := movementsPage{Movements: make([]movementResponse, 0, len(movements)), Pagination: pagination}
	for _, m := range movements {
		page.Movements = append(page.Movements, movementResponse{
			ID:          m.ID,
			ProductID:   m.ProductID,
			WarehouseID: m.WarehouseID,
			ExpiryDate:  formatExpiry(m.ExpiryDate),
			Delta:       m.Delta,
			Cause:       m.Cause,
			RefModule:   m.Ref.Module,
			RefID:       m.Ref.ID,
			Note:        m.Note,
			CreatedAt:   m.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, page)
}

// respondLedgerError translates ledger errors for callers: insufficient
// stock names the product, warehouse and shortfall; everything else stays
// opaque.
func (h *Handler) respondLedgerError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", insufficient.Error())
	case errors.Is(err, ErrInvalidLineItem), errors.Is(err, ErrEmptyCommit), errors.Is(err, ErrInvalidCause):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("ledger request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func stockResponses(records []StockRecord) []stockResponse {
	out := make([]stockResponse, 0, len(records))
	for _, record := range records {
		out = append(out, stockResponse{
			ProductID:   record.ProductID,
			WarehouseID: record.WarehouseID,
			ExpiryDate:  formatExpiry(record.ExpiryDate),
			Quantity:    record.Quantity,
		})
	}
	return out
}

func parseExpiry(value *string) (*time.Time, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", *value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatExpiry(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.Format("2006-01-02")
	return &formatted
}
