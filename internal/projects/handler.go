package projects

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-bi/backoffice/internal/platform/httpx"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

// Handler exposes project endpoints.
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

// MountRoutes registers project routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/projects", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.show)
		r.Put("/{id}", h.update)
		r.Patch("/{id}", h.update)
		r.Delete("/{id}", h.discard)
		r.Post("/{id}/restore", h.restore)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httpx.Deny(w, r)
		return
	}
	page, perPage := shared.PageParams(r)
	params := ListParams{
		Page:      page,
		PerPage:   perPage,
		Search:    r.URL.Query().Get("q"),
		Status:    strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))),
		Discarded: r.URL.Query().Get("discarded") == "1",
	}
	if raw := r.URL.Query().Get("company_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, shared.NewValidationError("company_id", "must be a number"))
			return
		}
		params.CompanyID = &id
	}
	result, err := h.service.List(r.Context(), actor, params)
	if err != nil {
		httpx.Fail(w, r, h.logger, "list projects", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	project, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		httpx.Fail(w, r, h.logger, "show project", err)
		return
	}
	httpx.JSON(w, http.StatusOK, project)
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
	project, err := h.service.Create(r.Context(), actor, in)
	if err != nil {
		httpx.Fail(w, r, h.logger, "create project", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, project)
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
	project, err := h.service.Update(r.Context(), actor, id, in)
	if err != nil {
		httpx.Fail(w, r, h.logger, "update project", err)
		return
	}
	httpx.JSON(w, http.StatusOK, project)
}

func (h *Handler) discard(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.service.Discard(r.Context(), actor, id); err != nil {
		httpx.Fail(w, r, h.logger, "discard project", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	project, err := h.service.Restore(r.Context(), actor, id)
	if err != nil {
		httpx.Fail(w, r, h.logger, "restore project", err)
		return
	}
	httpx.JSON(w, http.StatusOK, project)
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
