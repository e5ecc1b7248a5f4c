package sales

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/atlas-erp/atlas-erp/internal/platform/httpx"
	"github.com/atlas-erp/atlas-erp/internal/shared"
	"github.com/atlas-erp/atlas-erp/internal/stock"
)

// Handler exposes the sale workflow over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes attaches sale endpoints to the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.CreateDraft)
	r.Get("/lookup", h.Lookup)
	r.Get("/{id}", h.Show)
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/cancel", h.Cancel)
	r.Post("/{id}/reverse", h.Reverse)
	r.Post("/{id}/cancellation-requests", h.CreateCancellationRequest)
	r.Get("/cancellation-requests/all", h.ListRequests)
	r.Get("/cancellation-requests/{id}", h.ShowRequest)
	r.Post("/cancellation-requests/{id}/approve", h.ApproveRequest)
	r.Post("/cancellation-requests/{id}/reject", h.RejectRequest)
}

type lineRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Qty       int64           `json:"qty" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"required"`
}

type createDraftRequest struct {
	SalesPointID  int64         `json:"salespoint_id" validate:"required,gt=0"`
	Kind          string        `json:"kind" validate:"omitempty,oneof=P V"`
	CustomerName  string        `json:"customer_name" validate:"max=150"`
	CustomerPhone string        `json:"customer_phone" validate:"max=30"`
	PaymentType   string        `json:"payment_type" validate:"omitempty,oneof=cash mobile credit"`
	Lines         []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type approveRequest struct {
	ReceivedAmount decimal.Decimal `json:"received_amount"`
}

type reverseRequest struct {
	LineQtys map[int64]int64 `json:"line_qtys,omitempty"`
	Reason   string          `json:"reason"`
}

type cancellationRequestBody struct {
	LineQtys map[int64]int64 `json:"line_qtys,omitempty"`
	Reason   string          `json:"reason" validate:"required"`
}

type saleResponse struct {
	Sale  Sale   `json:"sale"`
	Lines []Line `json:"lines"`
}

func (h *Handler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	var req createDraftRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines := make([]LineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, LineInput{ProductID: l.ProductID, Qty: l.Qty, UnitPrice: l.UnitPrice})
	}
	sale, saleLines, err := h.service.CreateDraft(r.Context(), CreateDraftInput{
		SalesPointID:  req.SalesPointID,
		SellerID:      shared.ActorFromContext(r.Context()),
		Kind:          req.Kind,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		PaymentType:   req.PaymentType,
		Lines:         lines,
	})
	if err != nil {
		h.respondSaleError(w, r, "create sale draft", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, saleResponse{Sale: sale, Lines: saleLines})
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if !h.decode(w, r, &req) {
		return
	}
	change, err := h.service.Approve(r.Context(), id, req.ReceivedAmount, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondSaleError(w, r, "approve sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"change": change})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	sale, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		h.respondSaleError(w, r, "cancel sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	var req reverseRequest
	if !h.decode(w, r, &req) {
		return
	}
	sale, err := h.service.ReverseSameDay(r.Context(), id, req.LineQtys, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.respondSaleError(w, r, "reverse sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) CreateCancellationRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	var req cancellationRequestBody
	if !h.decode(w, r, &req) {
		return
	}
	created, err := h.service.CreateCancellationRequest(r.Context(), id, req.LineQtys, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.respondSaleError(w, r, "create cancellation request", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	req, err := h.service.ApproveCancellationRequest(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondSaleError(w, r, "approve cancellation request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	req, err := h.service.RejectCancellationRequest(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondSaleError(w, r, "reject cancellation request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	sale, lines, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondSaleError(w, r, "get sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, saleResponse{Sale: sale, Lines: lines})
}

// Lookup finds a sale by invoice number, the way cashiers pull up a receipt.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	spID, _ := strconv.ParseInt(r.URL.Query().Get("salespoint_id"), 10, 64)
	number := r.URL.Query().Get("number")
	if spID <= 0 || number == "" {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "salespoint_id and number are required")
		return
	}
	sale, lines, err := h.service.GetByNumber(r.Context(), spID, number)
	if err != nil {
		h.respondSaleError(w, r, "lookup sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, saleResponse{Sale: sale, Lines: lines})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}
	filter := ListFilter{
		Status: Status(q.Get("status")),
		Kind:   q.Get("kind"),
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	}
	filter.SalesPointID, _ = strconv.ParseInt(q.Get("salespoint_id"), 10, 64)
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

	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list sales failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"sales":      items,
		"pagination": shared.NewPagination(page, perPage, total),
	})
}

func (h *Handler) ShowRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	req, lines, err := h.service.GetRequest(r.Context(), id)
	if err != nil {
		h.respondSaleError(w, r, "get cancellation request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"request": req, "lines": lines})
}

func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.service.ListRequests(r.Context(), RequestStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.logger.Error("list cancellation requests failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requests": reqs})
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

func (h *Handler) respondSaleError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrSaleNotFound), errors.Is(err, ErrRequestNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInsufficientPayment),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrSameDayOnly),
		errors.Is(err, ErrDuplicateReference):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, stock.ErrInsufficientStock), errors.Is(err, stock.ErrInsufficientReservation):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, stock.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	default:
		h.logger.Error(op+" failed", "error", err)
		httpx.RespondError(w, err)
	}
}
