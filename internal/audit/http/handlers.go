package audithttp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-bi/backoffice/internal/audit"
	"github.com/odyssey-bi/backoffice/internal/platform/httpx"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

const (
	dateLayout        = "2006-01-02"
	maxDateRangeHours = 24 * 366
)

// Service is the ledger read contract used by the handlers.
type Service interface {
	Find(ctx context.Context, actor rbac.Actor, filters audit.Filters) (audit.Page, error)
	Show(ctx context.Context, actor rbac.Actor, id int64) (audit.Entry, error)
	Export(ctx context.Context, actor rbac.Actor, filters audit.Filters, w io.Writer) (int, error)
}

// Handler menangani permintaan audit log.
type Handler struct {
	logger  *slog.Logger
	service Service
	now     func() time.Time
}

// NewHandler membuat handler audit baru.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, now: time.Now}
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httpx.Deny(w, r)
		return
	}
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := h.service.Find(r.Context(), actor, filters)
	if err != nil {
		httpx.Fail(w, r, h.logger, "list audit logs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleShow(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httpx.Deny(w, r)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Deny(w, r)
		return
	}
	entry, err := h.service.Show(r.Context(), actor, id)
	if err != nil {
		httpx.Fail(w, r, h.logger, "show audit log", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	actor, ok := rbac.ActorFromContext(r.Context())
	if !ok {
		httpx.Deny(w, r)
		return
	}
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var buf strings.Builder
	n, err := h.service.Export(r.Context(), actor, filters, &buf)
	if err != nil {
		httpx.Fail(w, r, h.logger, "export audit logs", err)
		return
	}
	filename := fmt.Sprintf("audit-logs-%s-%s.csv", h.now().UTC().Format("20060102"), uuid.NewString()[:8])
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("X-Total-Count", strconv.Itoa(n))
	if _, err := io.WriteString(w, buf.String()); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) parseFilters(r *http.Request) (audit.Filters, error) {
	q := r.URL.Query()
	page, perPage := shared.PageParams(r)
	filters := audit.Filters{
		Module:   strings.TrimSpace(q.Get("module")),
		Page:     page,
		PageSize: perPage,
	}
	if action := strings.ToLower(strings.TrimSpace(q.Get("action"))); action != "" {
		if !audit.ValidAction(action) {
			return audit.Filters{}, shared.NewValidationError("action", "is not a recognised action")
		}
		filters.Action = action
	}
	if raw := strings.TrimSpace(q.Get("actor_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return audit.Filters{}, shared.NewValidationError("actor_id", "must be a positive integer")
		}
		filters.ActorID = &id
	}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		from, err := time.Parse(dateLayout, raw)
		if err != nil {
			return audit.Filters{}, shared.NewValidationError("from", "must be a date (YYYY-MM-DD)")
		}
		filters.From = from
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		to, err := time.Parse(dateLayout, raw)
		if err != nil {
			return audit.Filters{}, shared.NewValidationError("to", "must be a date (YYYY-MM-DD)")
		}
		// Inclusive day: the bound is the start of the following day.
		filters.To = to.AddDate(0, 0, 1)
	}
	if !filters.From.IsZero() && !filters.To.IsZero() {
		if !filters.From.Before(filters.To) {
			return audit.Filters{}, shared.NewValidationError("range", "from must not be after to")
		}
		if filters.To.Sub(filters.From) > maxDateRangeHours*time.Hour {
			return audit.Filters{}, shared.NewValidationError("range", "must not exceed one year")
		}
	}
	return filters, nil
}
