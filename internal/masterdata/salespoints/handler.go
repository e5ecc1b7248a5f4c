package salespoints

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atlas-erp/atlas-erp/internal/platform/httpx"
)

type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/warehouse", h.Warehouse)
	r.Get("/{id}", h.Show)
	r.Put("/{id}", h.Update)
}

type salesPointRequest struct {
	Name        string `json:"name" validate:"required,max=150"`
	Code        string `json:"code" validate:"max=8"`
	Address     string `json:"address"`
	Phone       string `json:"phone" validate:"max=30"`
	IsWarehouse bool   `json:"is_warehouse"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	points, err := h.service.List(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		h.logger.Error("list salespoints failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"salespoints": points})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid salespoint id")
		return
	}
	sp, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sp)
}

func (h *Handler) Warehouse(w http.ResponseWriter, r *http.Request) {
	sp, err := h.service.Warehouse(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sp)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req salesPointRequest
	if !h.decode(w, r, &req) {
		return
	}
	sp, err := h.service.Create(r.Context(), SalesPoint{
		Name:        req.Name,
		Code:        req.Code,
		Address:     req.Address,
		Phone:       req.Phone,
		IsWarehouse: req.IsWarehouse,
	})
	if err != nil {
		h.logger.Error("create salespoint failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sp)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid salespoint id")
		return
	}
	var req salesPointRequest
	if !h.decode(w, r, &req) {
		return
	}
	sp, err := h.service.Update(r.Context(), id, SalesPoint{
		Name:        req.Name,
		Address:     req.Address,
		Phone:       req.Phone,
		IsWarehouse: req.IsWarehouse,
	})
	if err != nil {
		h.logger.Error("update salespoint failed", "error", err, "id", id)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sp)
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
