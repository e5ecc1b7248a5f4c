package notify

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/atlas-erp/atlas-erp/internal/platform/httpx"
)

// Handler exposes notifications over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes attaches notification endpoints to the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/{id}/read", h.MarkRead)
	r.Post("/read-all", h.MarkAllRead)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	spID, _ := strconv.ParseInt(q.Get("salespoint_id"), 10, 64)
	if spID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "salespoint_id is required")
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	items, err := h.service.List(r.Context(), spID, q.Get("unread") == "true", limit)
	if err != nil {
		h.logger.Error("list notifications failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid id")
		return
	}
	if err := h.service.MarkRead(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("mark notification read failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	spID, _ := strconv.ParseInt(r.URL.Query().Get("salespoint_id"), 10, 64)
	if spID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "salespoint_id is required")
		return
	}
	if err := h.service.MarkAllRead(r.Context(), spID); err != nil {
		h.logger.Error("mark all notifications read failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ok": true})
}
