package projects

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-bi/backoffice/internal/platform/db/dbtest"
)

func TestUpdateProjectMoveSharesTransaction(t *testing.T) {
	tx := &dbtest.Tx{Rows: []dbtest.Row{{int64(10), true}}}

	require.NoError(t, updateProject(context.Background(), tx, 1, Input{CompanyID: 20, Name: "Mine", Status: StatusActive}, true))

	require.Len(t, tx.Statements, 5)
	assert.Contains(t, tx.Statements[0], "UPDATE projects SET name = $2")
	assert.Contains(t, tx.Statements[1], `FROM "projects" WHERE id = $1 FOR UPDATE`)
	assert.Equal(t, []any{int64(10), int64(-1)}, tx.Args[3])
	assert.Equal(t, []any{int64(20), int64(1)}, tx.Args[4])
}

func TestUpdateProjectWithoutMoveTouchesOnlyRow(t *testing.T) {
	tx := &dbtest.Tx{}

	require.NoError(t, updateProject(context.Background(), tx, 1, Input{CompanyID: 10, Name: "Mine", Status: StatusActive}, false))
	assert.Len(t, tx.Statements, 1)
}

func TestUpdateProjectSurfacesCounterFailure(t *testing.T) {
	boom := errors.New("connection reset")
	tx := &dbtest.Tx{Rows: []dbtest.Row{{int64(10), true}}, FailOn: "projects_count", Err: boom}

	err := updateProject(context.Background(), tx, 1, Input{CompanyID: 20, Name: "Renamed", Status: StatusActive}, true)
	assert.ErrorIs(t, err, boom)
}
