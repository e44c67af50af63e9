package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-bi/backoffice/internal/observability"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

type userSnapshot struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
	Profile      struct {
		Token string `json:"token"`
		Title string `json:"title"`
	} `json:"profile"`
}

func TestRecordSnapshotsActorNameAndMeta(t *testing.T) {
	writer := &memWriter{}
	ledger := NewLedger(writer, nil, nil)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return fixed }

	ctx := shared.ContextWithRequestMeta(context.Background(), shared.RequestMeta{IP: "10.0.0.1", UserAgent: "curl/8"})
	actor := rbac.Actor{ID: 4, Name: "Dana", Email: "dana@example.com"}
	entry, err := ledger.Record(ctx, Event{
		Action:     "UPDATE",
		Module:     "projects",
		Actor:      &actor,
		TargetType: "Project",
		TargetID:   TargetRef(12),
		Before:     map[string]any{"name": "Old"},
		After:      map[string]any{"name": "New"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.ID)
	assert.Equal(t, ActionUpdate, entry.Action)
	assert.Equal(t, "Dana", entry.ActorName)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, int64(4), *entry.ActorID)
	assert.Equal(t, "10.0.0.1", entry.IP)
	assert.Equal(t, "curl/8", entry.UserAgent)
	assert.Equal(t, fixed, entry.CreatedAt)
	assert.JSONEq(t, `{"name":"Old"}`, string(entry.Before))
	assert.JSONEq(t, `{"name":"New"}`, string(entry.After))
}

func TestRecordWithoutActorUsesSystemName(t *testing.T) {
	writer := &memWriter{}
	entry, err := NewLedger(writer, nil, nil).Record(context.Background(), Event{Action: ActionUpdate, Module: "counters"})
	require.NoError(t, err)
	assert.Nil(t, entry.ActorID)
	assert.Equal(t, "system", entry.ActorName)
	assert.Nil(t, entry.Before)
}

func TestRecordRejectsUnknownAction(t *testing.T) {
	writer := &memWriter{}
	_, err := NewLedger(writer, nil, nil).Record(context.Background(), Event{Action: "purge", Module: "projects"})
	assert.ErrorIs(t, err, shared.ErrValidationFailed)
	assert.Empty(t, writer.entries)
}

func TestRecordWrapsWriteFailure(t *testing.T) {
	writer := &memWriter{err: errors.New("connection refused")}
	_, err := NewLedger(writer, nil, nil).Record(context.Background(), Event{Action: ActionDelete, Module: "companies"})
	assert.ErrorIs(t, err, shared.ErrAuditWriteFailed)
}

func TestRecordBestEffortCountsFailures(t *testing.T) {
	metrics := observability.NewMetrics()
	writer := &memWriter{err: errors.New("connection refused")}
	ledger := NewLedger(writer, metrics, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ledger.RecordBestEffort(ctx, Event{Action: ActionDelete, Module: "companies"})

	count, err := testutil.GatherAndCount(metrics.Gatherer(), "backoffice_audit_write_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecordBestEffortIgnoresCallerCancellation(t *testing.T) {
	writer := &memWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewLedger(writer, nil, nil).RecordBestEffort(ctx, Event{Action: ActionLogout, Module: "sessions"})
	assert.Len(t, writer.entries, 1)
}

func TestSnapshotStripsCredentialsAtAnyDepth(t *testing.T) {
	var u userSnapshot
	u.ID = 3
	u.Email = "a@example.com"
	u.PasswordHash = "$2a$10$hash"
	u.Profile.Token = "abc"
	u.Profile.Title = "Ops"

	raw, err := Snapshot([]userSnapshot{u})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":3,"email":"a@example.com","profile":{"title":"Ops"}}]`, string(raw))

	raw, err = Snapshot(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)
}
