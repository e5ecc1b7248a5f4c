package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atlas-erp/atlas-erp/internal/platform/httpx"
	"github.com/atlas-erp/atlas-erp/internal/shared"
)

// ConflictCounter observes refused stock operations.
type ConflictCounter interface {
	StockConflict(kind string)
}

// Handler exposes stock rows, the reservation primitives, and the journal over
// JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	ledger    *Ledger
	conflicts ConflictCounter
	validate  *validator.Validate
}

// NewHandler constructs Handler. conflicts may be nil.
func NewHandler(logger *slog.Logger, service *Service, ledger *Ledger, conflicts ConflictCounter) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		ledger:    ledger,
		conflicts: conflicts,
		validate:  validator.New(),
	}
}

// MountRoutes attaches stock endpoints to the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/rows", h.ListRows)
	r.Get("/rows/{salespointID}/{productID}", h.GetRow)
	r.Put("/rows/{salespointID}/{productID}/opening", h.SetOpening)
	r.Post("/reserve", h.Reserve)
	r.Post("/release", h.Release)
	r.Post("/commit", h.Commit)
	r.Post("/adjust", h.Adjust)
	r.Get("/alerts", h.Alerts)
	r.Get("/journal", h.Journal)
	r.Post("/journal/{id}/reverse", h.ReverseEntry)
}

type moveRequest struct {
	SalesPointID int64 `json:"salespoint_id" validate:"required,gt=0"`
	ProductID    int64 `json:"product_id" validate:"required,gt=0"`
	Qty          int64 `json:"qty" validate:"required,gt=0"`
}

type commitRequest struct {
	SalesPointID int64  `json:"salespoint_id" validate:"required,gt=0"`
	ProductID    int64  `json:"product_id" validate:"required,gt=0"`
	Qty          int64  `json:"qty" validate:"required,gt=0"`
	Reference    string `json:"reference" validate:"required"`
}

type adjustRequest struct {
	SalesPointID int64  `json:"salespoint_id" validate:"required,gt=0"`
	ProductID    int64  `json:"product_id" validate:"required,gt=0"`
	Delta        int64  `json:"delta" validate:"required"`
	Reason       string `json:"reason" validate:"required,oneof=adjustment grn write_off cycle_count"`
	Reference    string `json:"reference"`
	Notes        string `json:"notes"`
}

type openingRequest struct {
	OpeningQty int64 `json:"opening_qty" validate:"gte=0"`
	AlertQty   int64 `json:"alert_qty" validate:"gte=0"`
}

type reverseRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type rowPage struct {
	Rows       []Row             `json:"rows"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !h.decode(w, r, &req) {
		return
	}
	row, err := h.service.Reserve(r.Context(), MoveInput{SalesPointID: req.SalesPointID, ProductID: req.ProductID, Qty: req.Qty})
	if err != nil {
		h.respondMoveError(w, r, "reserve", err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !h.decode(w, r, &req) {
		return
	}
	row, err := h.service.Release(r.Context(), MoveInput{SalesPointID: req.SalesPointID, ProductID: req.ProductID, Qty: req.Qty})
	if err != nil {
		h.respondMoveError(w, r, "release", err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}

func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if !h.decode(w, r, &req) {
		return
	}
	row, err := h.service.Commit(r.Context(), CommitInput{
		SalesPointID: req.SalesPointID,
		ProductID:    req.ProductID,
		Qty:          req.Qty,
		Reference:    req.Reference,
		ActorID:      shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondMoveError(w, r, "commit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}

func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !h.decode(w, r, &req) {
		return
	}
	row, err := h.service.Adjust(r.Context(), AdjustInput{
		SalesPointID: req.SalesPointID,
		ProductID:    req.ProductID,
		Delta:        req.Delta,
		Reason:       Reason(req.Reason),
		Reference:    req.Reference,
		ActorID:      shared.ActorFromContext(r.Context()),
		Notes:        req.Notes,
	})
	if err != nil {
		h.respondMoveError(w, r, "adjust", err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}

func (h *Handler) GetRow(w http.ResponseWriter, r *http.Request) {
	spID, pID, ok := h.rowParams(w, r)
	if !ok {
		return
	}
	row, err := h.service.GetRow(r.Context(), spID, pID)
	if err != nil {
		h.logger.Error("get stock row failed", "error", err, "salespoint_id", spID, "product_id", pID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}

func (h *Handler) ListRows(w http.ResponseWriter, r *http.Request) {
	spID, _ := strconv.ParseInt(r.URL.Query().Get("salespoint_id"), 10, 64)
	if spID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "salespoint_id is required")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	rows, total, err := h.service.ListRows(r.Context(), spID, perPage, (page-1)*perPage)
	if err != nil {
		h.logger.Error("list stock rows failed", "error", err, "salespoint_id", spID)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rowPage{Rows: rows, Pagination: shared.NewPagination(page, perPage, total)})
}

func (h *Handler) SetOpening(w http.ResponseWriter, r *http.Request) {
	spID, pID, ok := h.rowParams(w, r)
	if !ok {
		return
	}
	var req openingRequest
	if !h.decode(w, r, &req) {
		return
	}
	row, err := h.service.SetOpening(r.Context(), spID, pID, req.OpeningQty, req.AlertQty, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondMoveError(w, r, "set opening", err)
		return
	}
	httpx.JSON(w, http.StatusOK, row)
}

func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	spID, _ := strconv.ParseInt(r.URL.Query().Get("salespoint_id"), 10, 64)
	rows, err := h.service.LowStock(r.Context(), spID)
	if err != nil {
		h.logger.Error("low stock scan failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *Handler) Journal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := EntryFilter{
		Reference: q.Get("reference"),
		Reason:    Reason(q.Get("reason")),
	}
	filter.SalesPointID, _ = strconv.ParseInt(q.Get("salespoint_id"), 10, 64)
	filter.ProductID, _ = strconv.ParseInt(q.Get("product_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			filter.From = t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			filter.To = t.Add(24*time.Hour - time.Nanosecond)
		}
	}

	entries, err := h.ledger.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list stock journal failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) ReverseEntry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid journal entry id")
		return
	}
	var req reverseRequest
	if !h.decode(w, r, &req) {
		return
	}
	reversalID, err := h.ledger.Reverse(r.Context(), id, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrEntryNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrReverseReversal):
			httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
		default:
			h.logger.Error("reverse journal entry failed", "error", err, "entry_id", id)
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]int64{"reversal_id": reversalID})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return false
	}
	return true
}

func (h *Handler) rowParams(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	spID, err := strconv.ParseInt(chi.URLParam(r, "salespointID"), 10, 64)
	if err != nil || spID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid salespoint id")
		return 0, 0, false
	}
	pID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || pID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid product id")
		return 0, 0, false
	}
	return spID, pID, true
}

func (h *Handler) respondMoveError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrInsufficientReservation):
		if h.conflicts != nil {
			h.conflicts.StockConflict(op)
		}
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	default:
		h.logger.Error("stock "+op+" failed", "error", err)
		httpx.RespondError(w, err)
	}
}
