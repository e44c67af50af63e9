package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-bi/backoffice/internal/observability"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

const (
	systemActorName  = "system"
	bestEffortBudget = 5 * time.Second
)

// Writer appends entries. There is deliberately no update or delete.
type Writer interface {
	Insert(ctx context.Context, e Entry) (Entry, error)
}

// Recorder is what mutating services depend on to append entries after commit.
type Recorder interface {
	RecordBestEffort(ctx context.Context, ev Event)
}

// Event is what a caller knows about a mutation it just committed.
type Event struct {
	Action     string
	Module     string
	Actor      *rbac.Actor
	TargetType string
	TargetID   string
	Summary    string
	Before     any
	After      any
	// Meta overrides the request metadata carried by the context.
	Meta *shared.RequestMeta
}

// Ledger is the append-only audit trail.
type Ledger struct {
	writer  Writer
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewLedger constructs a Ledger.
func NewLedger(writer Writer, metrics *observability.Metrics, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{writer: writer, metrics: metrics, logger: logger, now: time.Now}
}

// Record appends one entry. The actor's display name is copied so the entry stays
// readable after the actor is deleted. Failures wrap ErrAuditWriteFailed.
func (l *Ledger) Record(ctx context.Context, ev Event) (Entry, error) {
	entry, err := l.build(ctx, ev)
	if err != nil {
		return Entry{}, err
	}
	saved, err := l.writer.Insert(ctx, entry)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: %s %s: %w: %v", entry.Module, entry.Action, shared.ErrAuditWriteFailed, err)
	}
	return saved, nil
}

// RecordBestEffort appends an entry after the primary mutation committed. A failure is
// logged and counted but never returned: the mutation already happened.
func (l *Ledger) RecordBestEffort(ctx context.Context, ev Event) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bestEffortBudget)
	defer cancel()
	if _, err := l.Record(writeCtx, ev); err != nil {
		l.metrics.AuditWriteFailed(ev.Module, ev.Action)
		attrs := []any{
			slog.String("module", ev.Module),
			slog.String("action", ev.Action),
			slog.String("target_type", ev.TargetType),
			slog.String("target_id", ev.TargetID),
			slog.Any("error", err),
		}
		if ev.Actor != nil {
			attrs = append(attrs, slog.Int64("actor_id", ev.Actor.ID))
		}
		l.logger.Error("audit write failed", attrs...)
	}
}

func (l *Ledger) build(ctx context.Context, ev Event) (Entry, error) {
	action := strings.ToLower(strings.TrimSpace(ev.Action))
	if !ValidAction(action) {
		return Entry{}, fmt.Errorf("audit: action %q: %w", ev.Action, shared.ErrValidationFailed)
	}
	module := strings.TrimSpace(ev.Module)
	if module == "" {
		return Entry{}, fmt.Errorf("audit: module required: %w", shared.ErrValidationFailed)
	}
	before, err := Snapshot(ev.Before)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: before snapshot: %w", errors.Join(shared.ErrAuditWriteFailed, err))
	}
	after, err := Snapshot(ev.After)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: after snapshot: %w", errors.Join(shared.ErrAuditWriteFailed, err))
	}
	meta := shared.RequestMetaFromContext(ctx)
	if ev.Meta != nil {
		meta = *ev.Meta
	}
	entry := Entry{
		ActorName:  systemActorName,
		Module:     module,
		Action:     action,
		TargetType: ev.TargetType,
		TargetID:   ev.TargetID,
		Summary:    ev.Summary,
		Before:     before,
		After:      after,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		CreatedAt:  l.now().UTC(),
	}
	if ev.Actor != nil {
		id := ev.Actor.ID
		entry.ActorID = &id
		entry.ActorName = ev.Actor.DisplayName()
	}
	return entry, nil
}

var _ Recorder = (*Ledger)(nil)
