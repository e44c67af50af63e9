package audit

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/odyssey-bi/backoffice/internal/platform/query"
	"github.com/odyssey-bi/backoffice/internal/policy"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

const (
	maxExportRows   = 10000
	moduleAuditLogs = "audit_logs"
)

// Reader is the read side of the ledger.
type Reader interface {
	Find(ctx context.Context, q query.Query) ([]Entry, error)
	Count(ctx context.Context, q query.Query) (int, error)
	Get(ctx context.Context, id int64) (Entry, error)
}

// Page is one page of ledger entries.
type Page struct {
	Entries    []Entry           `json:"entries"`
	Pagination shared.Pagination `json:"pagination"`
}

// Service serves ledger listings, single entries and exports.
type Service struct {
	repo   Reader
	authz  *policy.Engine
	ledger *Ledger
}

// NewService builds the ledger read service. ledger records export events and may be nil.
func NewService(repo Reader, authz *policy.Engine, ledger *Ledger) *Service {
	return &Service{repo: repo, authz: authz, ledger: ledger}
}

// Find lists entries visible to actor, newest first with ties broken by id.
func (s *Service) Find(ctx context.Context, actor rbac.Actor, filters Filters) (Page, error) {
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = shared.DefaultPerPage
	}
	if pageSize > shared.MaxPerPage {
		pageSize = shared.MaxPerPage
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}

	q, err := s.scoped(ctx, actor, filters)
	if err != nil {
		return Page{}, err
	}
	total, err := s.repo.Count(ctx, q)
	if err != nil {
		return Page{}, fmt.Errorf("audit: count: %w", err)
	}
	pagination := shared.NewPagination(page, pageSize, total)
	entries, err := s.repo.Find(ctx, ordered(q).Page(pageSize, pagination.Offset()))
	if err != nil {
		return Page{}, fmt.Errorf("audit: find: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return Page{Entries: entries, Pagination: pagination}, nil
}

// Show returns one entry. Entries outside the actor's scope are reported as not found.
func (s *Service) Show(ctx context.Context, actor rbac.Actor, id int64) (Entry, error) {
	return policy.Fetch(ctx, s.authz, actor, rbac.ResourceAuditLogs, rbac.ActionShow, func(ctx context.Context) (Entry, error) {
		return s.repo.Get(ctx, id)
	})
}

// Export writes every visible entry matching filters as CSV and records the export.
func (s *Service) Export(ctx context.Context, actor rbac.Actor, filters Filters, w io.Writer) (int, error) {
	if err := s.authz.Authorize(ctx, actor, rbac.ResourceAuditLogs, rbac.ActionExport, nil); err != nil {
		return 0, err
	}
	q, err := s.scoped(ctx, actor, filters)
	if err != nil {
		return 0, err
	}
	entries, err := s.repo.Find(ctx, ordered(q).Page(maxExportRows, 0))
	if err != nil {
		return 0, fmt.Errorf("audit: export: %w", err)
	}
	if err := WriteCSV(w, entries); err != nil {
		return 0, err
	}
	if s.ledger != nil {
		s.ledger.RecordBestEffort(ctx, Event{
			Action:     ActionExport,
			Module:     moduleAuditLogs,
			Actor:      &actor,
			TargetType: "AuditLog",
			Summary:    fmt.Sprintf("Exported %d audit log entries", len(entries)),
			After:      exportFilters(filters),
		})
	}
	return len(entries), nil
}

func (s *Service) scoped(ctx context.Context, actor rbac.Actor, filters Filters) (query.Query, error) {
	q := BaseQuery()
	if v := strings.TrimSpace(filters.Action); v != "" {
		q = q.Where("a.action = ?", v)
	}
	if v := strings.TrimSpace(filters.Module); v != "" {
		q = q.Where("a.module = ?", v)
	}
	if filters.ActorID != nil {
		q = q.Where("a.actor_id = ?", *filters.ActorID)
	}
	if !filters.From.IsZero() {
		q = q.Where("a.created_at >= ?", filters.From)
	}
	if !filters.To.IsZero() {
		q = q.Where("a.created_at < ?", filters.To)
	}
	return s.authz.Scope(ctx, actor, rbac.ResourceAuditLogs, q)
}

func ordered(q query.Query) query.Query {
	return q.OrderBy("a.created_at DESC", "a.id DESC")
}

func exportFilters(f Filters) map[string]any {
	out := map[string]any{}
	if f.Action != "" {
		out["action"] = f.Action
	}
	if f.Module != "" {
		out["module"] = f.Module
	}
	if f.ActorID != nil {
		out["actor_id"] = *f.ActorID
	}
	if !f.From.IsZero() {
		out["from"] = f.From.Format(time.RFC3339)
	}
	if !f.To.IsZero() {
		out["to"] = f.To.Format(time.RFC3339)
	}
	return out
}
