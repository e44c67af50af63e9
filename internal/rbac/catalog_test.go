package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-bi/backoffice/internal/shared"
)

func TestValidateCode(t *testing.T) {
	valid := []string{"projects.index", "user_management.users.destroy", "a1.b_2"}
	for _, code := range valid {
		assert.NoError(t, ValidateCode(code), code)
	}
	invalid := []string{"", "projects", "Projects.index", "projects.", ".index", "1projects.index", "projects..index", "projects.in-dex", "projects.index "}
	for _, code := range invalid {
		err := ValidateCode(code)
		require.Error(t, err, code)
		assert.ErrorIs(t, err, shared.ErrValidationFailed, code)
	}
}

func TestBuildCodeNormalisesActions(t *testing.T) {
	assert.Equal(t, "projects.destroy", BuildCode(ResourceProjects, "confirm_delete"))
	assert.Equal(t, "projects.destroy", BuildCode(ResourceProjects, "restore"))
	assert.Equal(t, "projects.update", BuildCode(ResourceProjects, "edit"))
	assert.Equal(t, "projects.create", BuildCode(ResourceProjects, "new"))
	assert.Equal(t, "projects.index", BuildCode(ResourceProjects, ""))
	assert.Equal(t, "audit_logs.export", BuildCode(ResourceAuditLogs, "export"))
}

func TestDefaultCatalogIsValid(t *testing.T) {
	catalog := DefaultCatalog()
	require.NoError(t, catalog.Validate())

	var client RoleTemplate
	for _, r := range catalog.Roles {
		if r.Name == "Client" {
			client = r
		}
	}
	assert.ElementsMatch(t, []string{"dashboard.index", "projects.index", "projects.show", "bi_dashboards.index", "bi_dashboards.show"}, catalog.CodesFor(client))
	assert.Len(t, catalog.CodesFor(catalog.Roles[0]), len(catalog.Permissions))
}

func TestCatalogValidateRejectsUnknownRoleCode(t *testing.T) {
	catalog := Catalog{
		Permissions: []CatalogEntry{{Code: "projects.index"}},
		Roles:       []RoleTemplate{{Name: "Viewer", Codes: []string{"projects.show"}}},
	}
	assert.ErrorIs(t, catalog.Validate(), shared.ErrValidationFailed)
}

func TestCatalogEntryResource(t *testing.T) {
	assert.Equal(t, "user_management.users", CatalogEntry{Code: "user_management.users.index"}.Resource())
}
