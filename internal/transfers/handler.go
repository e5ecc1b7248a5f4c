package transfers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atlas-erp/atlas-erp/internal/platform/httpx"
	"github.com/atlas-erp/atlas-erp/internal/shared"
	"github.com/atlas-erp/atlas-erp/internal/stock"
)

// Handler exposes the transfer workflow over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes attaches transfer endpoints to the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.CreateDraft)
	r.Get("/{id}", h.Show)
	r.Post("/{id}/send", h.Send)
	r.Post("/{id}/decide", h.Decide)
	r.Post("/{id}/fulfill", h.Fulfill)
	r.Post("/{id}/cancel", h.Cancel)
}

type draftLineRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Qty       int64 `json:"qty" validate:"required,gt=0"`
}

type createDraftRequest struct {
	FromSalesPointID int64              `json:"from_salespoint_id" validate:"required,gt=0"`
	ToSalesPointID   int64              `json:"to_salespoint_id" validate:"required,gt=0"`
	Lines            []draftLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type decideRequest struct {
	Approve bool            `json:"approve"`
	Grants  map[int64]int64 `json:"grants,omitempty"`
}

type requestResponse struct {
	Request Request `json:"request"`
	Lines   []Line  `json:"lines"`
}

func (h *Handler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	var req createDraftRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines := make([]LineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, LineInput{ProductID: l.ProductID, Qty: l.Qty})
	}
	created, createdLines, err := h.service.CreateDraft(r.Context(), req.FromSalesPointID, req.ToSalesPointID, shared.ActorFromContext(r.Context()), lines)
	if err != nil {
		h.respondTransferError(w, "create transfer draft", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, requestResponse{Request: created, Lines: createdLines})
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	req, err := h.service.Send(r.Context(), id)
	if err != nil {
		h.respondTransferError(w, "send transfer request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
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
		h.respondTransferError(w, "decide transfer request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) Fulfill(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	req, err := h.service.Fulfill(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondTransferError(w, "fulfill transfer request", err)
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
		h.respondTransferError(w, "cancel transfer request", err)
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
		h.respondTransferError(w, "get transfer request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, requestResponse{Request: req, Lines: lines})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
	filter.FromSalesPointID, _ = strconv.ParseInt(q.Get("from_salespoint_id"), 10, 64)
	filter.ToSalesPointID, _ = strconv.ParseInt(q.Get("to_salespoint_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	if filter.Limit < 1 || filter.Limit > 200 {
		filter.Limit = 50
	}
	items, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list transfer requests failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requests": items})
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

func (h *Handler) respondTransferError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, stock.ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidRoute), errors.Is(err, ErrNoLines), errors.Is(err, stock.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	default:
		h.logger.Error(action+" failed", "error", err)
		httpx.RespondError(w, err)
	}
}
