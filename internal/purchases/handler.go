package purchases

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

	"github.com/quartermast/quartermast/internal/ledger"
	"github.com/quartermast/quartermast/internal/platform/httpx"
	"github.com/quartermast/quartermast/internal/shared"
)

// Handler wires purchase endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the purchase handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers purchase routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/purchases", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
}

type linePayload struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity" validate:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ExpiryDate  *string         `json:"expiry_date,omitempty"`
}

type purchasePayload struct {
	Supplier string        `json:"supplier" validate:"required"`
	Note     string        `json:"note"`
	Lines    []linePayload `json:"lines" validate:"required,min=1,dive"`
}

func (p purchasePayload) toLines() ([]Line, error) {
	lines := make([]Line, 0, len(p.Lines))
	for _, payload := range p.Lines {
		line := Line{
			ProductID:   payload.ProductID,
			WarehouseID: payload.WarehouseID,
			Quantity:    payload.Quantity,
			UnitPrice:   payload.UnitPrice,
		}
		if payload.ExpiryDate != nil && *payload.ExpiryDate != "" {
			expiry, err := time.Parse("2006-01-02", *payload.ExpiryDate)
			if err != nil {
				return nil, err
			}
			line.ExpiryDate = &expiry
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := ListFilters{Supplier: q.Get("supplier")}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	purchases, pagination, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchases": purchases, "pagination": pagination})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	payload, lines, ok := h.decode(w, r)
	if !ok {
		return
	}
	purchase, err := h.service.Create(r.Context(), CreateInput{
		Supplier:       payload.Supplier,
		Note:           payload.Note,
		Lines:          lines,
		ActorID:        shared.ActorFromContext(r.Context()),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, purchase)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid purchase id")
		return
	}
	purchase, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"purchase": purchase, "lines": lines})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid purchase id")
		return
	}
	payload, lines, ok := h.decode(w, r)
	if !ok {
		return
	}
	purchase, err := h.service.Update(r.Context(), id, UpdateInput{
		Supplier: payload.Supplier,
		Note:     payload.Note,
		Lines:    lines,
		ActorID:  shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, purchase)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid purchase id")
		return
	}
	if err := h.service.Delete(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (purchasePayload, []Line, bool) {
	var payload purchasePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return payload, nil, false
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return payload, nil, false
	}
	lines, err := payload.toLines()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expiry_date must be YYYY-MM-DD")
		return payload, nil, false
	}
	return payload, lines, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var insufficient *ledger.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", insufficient.Error())
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "purchase not found")
	case errors.Is(err, ErrInvalidPurchase), errors.Is(err, ledger.ErrInvalidLineItem), errors.Is(err, ledger.ErrEmptyCommit):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrPurchaseDeleted):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("purchase request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
