package dashboards

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-bi/backoffice/internal/platform/httpx"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

// Handler exposes dashboard management and the BI viewer.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers management routes under /dashboards and viewer routes under /bi-dashboards.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/dashboards", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.show)
		r.Put("/{id}", h.update)
		r.Patch("/{id}", h.update)
		r.Delete("/{id}", h.discard)
		r.Post("/{id}/restore", h.restore)
	})
	r.Route("/bi-dashboards", func(r chi.Router) {
		r.Get("/", h.viewer)
		r.Get("/{id}", h.open)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httpx.Deny(w, r)
		return
	}
	page, perPage := shared.PageParams(r)
	params := ListParams{Page: page, PerPage: perPage, Discarded: r.URL.Query().Get("discarded") == "1"}
	projectID, err := optionalID(r, "project_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	params.ProjectID = projectID
	result, err := h.service.List(r.Context(), actor, params)
	if err != nil {
		httpx.Fail(w, r, h.logger, "list dashboards", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	dashboard, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		httpx.Fail(w, r, h.logger, "show dashboard", err)
		return
	}
	httpx.JSON(w, http.StatusOK, dashboard)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httpx.Deny(w, r)
		return
	}
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "is not valid JSON"))
		return
	}
	dashboard, err := h.service.Create(r.Context(), actor, in)
	if err != nil {
		httpx.Fail(w, r, h.logger, "create dashboard", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, dashboard)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "is not valid JSON"))
		return
	}
	dashboard, err := h.service.Update(r.Context(), actor, id, in)
	if err != nil {
		httpx.Fail(w, r, h.logger, "update dashboard", err)
		return
	}
	httpx.JSON(w, http.StatusOK, dashboard)
}

func (h *Handler) discard(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.service.Discard(r.Context(), actor, id); err != nil {
		httpx.Fail(w, r, h.logger, "discard dashboard", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	dashboard, err := h.service.Restore(r.Context(), actor, id)
	if err != nil {
		httpx.Fail(w, r, h.logger, "restore dashboard", err)
		return
	}
	httpx.JSON(w, http.StatusOK, dashboard)
}

func (h *Handler) viewer(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httpx.Deny(w, r)
		return
	}
	projectID, err := optionalID(r, "project_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	dashboardID, err := optionalID(r, "dashboard_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	view, err := h.service.Viewer(r.Context(), actor, projectID, dashboardID)
	if err != nil {
		httpx.Fail(w, r, h.logger, "bi viewer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	dashboard, err := h.service.Open(r.Context(), actor, id)
	if err != nil {
		httpx.Fail(w, r, h.logger, "open dashboard", err)
		return
	}
	httpx.JSON(w, http.StatusOK, dashboard)
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (rbac.Actor, int64, bool) {
	actor, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httpx.Deny(w, r)
		return rbac.Actor{}, 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Deny(w, r)
		return rbac.Actor{}, 0, false
	}
	return actor, id, true
}

func optionalID(r *http.Request, key string) (*int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, shared.NewValidationError(key, "must be a positive number")
	}
	return &id, nil
}
