package restock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/atlas-erp/atlas-erp/internal/platform/httpx"
	"github.com/atlas-erp/atlas-erp/internal/shared"
	"github.com/atlas-erp/atlas-erp/internal/stock"
)

// Handler exposes the restock workflow over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes attaches restock endpoints to the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/drafts", h.SaveDraft)
	r.Post("/ship", h.Ship)
	r.Get("/{id}", h.Show)
	r.Get("/{id}/audits", h.Audits)
	r.Post("/{id}/send", h.Send)
	r.Post("/{id}/decide", h.Decide)
	r.Post("/{id}/validate", h.ValidateLines)
	r.Post("/{id}/cancel", h.Cancel)
}

type draftLineRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Qty       int64 `json:"qty" validate:"required,gt=0"`
}

type saveDraftRequest struct {
	SalesPointID int64              `json:"salespoint_id" validate:"required,gt=0"`
	Lines        []draftLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type shipRequest struct {
	ToSalesPointID int64              `json:"to_salespoint_id" validate:"required,gt=0"`
	Kind           string             `json:"kind" validate:"omitempty,oneof=P M"`
	Lines          []draftLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type decideRequest struct {
	Approve bool            `json:"approve"`
	Grants  map[int64]int64 `json:"grants,omitempty"`
}

type validateLineRequest struct {
	LineID    int64           `json:"line_id" validate:"required,gt=0"`
	CostPrice decimal.Decimal `json:"cost_price"`
}

type validateRequest struct {
	Lines []validateLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type requestResponse struct {
	Request Request `json:"request"`
	Lines   []Line  `json:"lines"`
}

func (h *Handler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	var req saveDraftRequest
	if !h.decode(w, r, &req) {
		return
	}
	created, lines, err := h.service.SaveDraft(r.Context(), req.SalesPointID, shared.ActorFromContext(r.Context()), toLineInputs(req.Lines))
	if err != nil {
		h.respondRestockError(w, "save restock draft", err)
		return
	}
	httpx.JSON(w, http.StatusOK, requestResponse{Request: created, Lines: lines})
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	req, dropped, err := h.service.Send(r.Context(), id)
	if err != nil {
		h.respondRestockError(w, "send restock request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"request": req, "duplicates_removed": dropped})
}

func (h *Handler) Ship(w http.ResponseWriter, r *http.Request) {
	var body shipRequest
	if !h.decode(w, r, &body) {
		return
	}
	req, lines, err := h.service.Ship(r.Context(), ShipInput{
		ToSalesPointID: body.ToSalesPointID,
		Kind:           body.Kind,
		Lines:          toLineInputs(body.Lines),
		ActorID:        shared.ActorFromContext(r.Context()),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.respondRestockError(w, "ship restock", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, requestResponse{Request: req, Lines: lines})
}

func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	var body decideRequest
	if !h.decode(w, r, &body) {
		return
	}
	grants := make([]Grant, 0, len(body.Grants))
	for pid, qty := range body.Grants {
		grants = append(grants, Grant{ProductID: pid, Qty: qty})
	}
	req, err := h.service.Decide(r.Context(), id, body.Approve, grants, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondRestockError(w, "decide restock request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) ValidateLines(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	var body validateRequest
	if !h.decode(w, r, &body) {
		return
	}
	inputs := make([]ValidationInput, 0, len(body.Lines))
	for _, l := range body.Lines {
		inputs = append(inputs, ValidationInput{LineID: l.LineID, CostPrice: l.CostPrice})
	}
	req, err := h.service.ValidateLines(r.Context(), id, inputs, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondRestockError(w, "validate restock lines", err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	req, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		h.respondRestockError(w, "cancel restock request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	req, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondRestockError(w, "get restock request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, requestResponse{Request: req, Lines: lines})
}

func (h *Handler) Audits(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	audits, err := h.service.Audits(r.Context(), id)
	if err != nil {
		h.logger.Error("list restock audits failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"audits": audits})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
	filter.SalesPointID, _ = strconv.ParseInt(q.Get("salespoint_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	if filter.Limit < 1 || filter.Limit > 200 {
		filter.Limit = 50
	}
	items, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list restock requests failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requests": items})
}

func toLineInputs(lines []draftLineRequest) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, LineInput{ProductID: l.ProductID, Qty: l.Qty})
	}
	return out
}

func (h *Handler) idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid id")
		return 0, false
	}
	return id, true
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

func (h *Handler) respondRestockError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrAllPending),
		errors.Is(err, shared.ErrIdempotencyConflict), errors.Is(err, stock.ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrNoLines), errors.Is(err, ErrNoWarehouse), errors.Is(err, stock.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	default:
		h.logger.Error(action+" failed", "error", err)
		httpx.RespondError(w, err)
	}
}
