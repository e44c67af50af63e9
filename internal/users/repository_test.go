package users

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-bi/backoffice/internal/platform/db/dbtest"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

func TestUpdateUserMoveRunsInOneTransaction(t *testing.T) {
	tx := &dbtest.Tx{Rows: []dbtest.Row{{int64(10), true}}}
	rec := Record{Name: "Ana", Email: "ana@acme.test", RoleID: ref(2), CompanyID: ref(20), IsActive: true}

	require.NoError(t, updateUser(context.Background(), tx, 5, rec, true))

	require.Len(t, tx.Statements, 6)
	assert.Contains(t, tx.Statements[0], "UPDATE users SET email = $2")
	assert.Contains(t, tx.Statements[1], "DELETE FROM projects_users WHERE user_id = $1")
	assert.Contains(t, tx.Statements[2], "FOR UPDATE")
	assert.Len(t, tx.Matching("users_count"), 2)
}

func TestUpdateUserWithoutMoveKeepsAssignments(t *testing.T) {
	tx := &dbtest.Tx{}

	require.NoError(t, updateUser(context.Background(), tx, 5, Record{Name: "Ana", Email: "ana@acme.test"}, false))
	assert.Len(t, tx.Statements, 1)
	assert.Empty(t, tx.Matching("projects_users"))
}

func TestUpdateUserSurfacesCounterFailure(t *testing.T) {
	boom := errors.New("connection reset")
	tx := &dbtest.Tx{Rows: []dbtest.Row{{int64(10), true}}, FailOn: "users_count", Err: boom}

	err := updateUser(context.Background(), tx, 5, Record{Name: "Renamed", Email: "ana@acme.test", CompanyID: ref(20)}, true)
	assert.ErrorIs(t, err, boom)
}

func TestUpdateUserMapsDuplicateEmail(t *testing.T) {
	tx := &dbtest.Tx{FailOn: "UPDATE users SET email", Err: &pgconn.PgError{Code: "23505"}}

	err := updateUser(context.Background(), tx, 5, Record{Name: "Ana", Email: "bo@techvision.test"}, false)
	var vErr *shared.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Fields, "email")
}
