package rbac

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/odyssey-bi/backoffice/internal/shared"
)

var codePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)

// Canonical actions.
const (
	ActionIndex   = "index"
	ActionShow    = "show"
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDestroy = "destroy"
	ActionExport  = "export"
)

// Resource prefixes used in permission codes.
const (
	ResourceDashboard    = "dashboard"
	ResourceProjects     = "projects"
	ResourceDashboards   = "dashboards"
	ResourceBIDashboards = "bi_dashboards"
	ResourceCompanies    = "companies"
	ResourceUsers        = "user_management.users"
	ResourceRoles        = "user_management.roles"
	ResourceAuditLogs    = "audit_logs"
)

// ValidateCode checks a permission code against the dotted lowercase format.
func ValidateCode(code string) error {
	if !codePattern.MatchString(code) {
		return shared.NewValidationError("code", fmt.Sprintf("%q must look like namespace.resource.action", code))
	}
	return nil
}

// NormalizeAction maps UI-level actions onto the permission action they require.
// Confirmation and restore steps need the same grant as the destructive action.
func NormalizeAction(action string) string {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "new", ActionCreate:
		return ActionCreate
	case "edit", ActionUpdate:
		return ActionUpdate
	case "confirm_delete", "delete", "restore", ActionDestroy:
		return ActionDestroy
	case "", ActionIndex:
		return ActionIndex
	default:
		return strings.ToLower(strings.TrimSpace(action))
	}
}

// BuildCode joins resource and normalised action into a permission code.
func BuildCode(resource, action string) string {
	return resource + "." + NormalizeAction(action)
}

// CatalogEntry describes one permission in the catalog.
type CatalogEntry struct {
	Code    string `yaml:"code"`
	Name    string `yaml:"name"`
	Section string `yaml:"section"`
}

// Resource derives the resource prefix of the entry's code.
func (e CatalogEntry) Resource() string {
	idx := strings.LastIndex(e.Code, ".")
	if idx <= 0 {
		return e.Code
	}
	return e.Code[:idx]
}

// RoleTemplate describes a default role and the codes it should hold.
type RoleTemplate struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Codes       []string `yaml:"codes"`
	AllCodes    bool     `yaml:"all_codes"`
}

// Catalog is the static permission set plus default roles.
type Catalog struct {
	Permissions []CatalogEntry `yaml:"permissions"`
	Roles       []RoleTemplate `yaml:"roles"`
}

// Validate checks every code, rejects duplicates and unknown role references.
func (c Catalog) Validate() error {
	seen := make(map[string]struct{}, len(c.Permissions))
	for _, p := range c.Permissions {
		if err := ValidateCode(p.Code); err != nil {
			return err
		}
		if _, dup := seen[p.Code]; dup {
			return shared.NewValidationError("code", fmt.Sprintf("%q listed twice", p.Code))
		}
		seen[p.Code] = struct{}{}
	}
	for _, r := range c.Roles {
		if strings.TrimSpace(r.Name) == "" {
			return shared.NewValidationError("role", "name required")
		}
		for _, code := range r.Codes {
			if _, ok := seen[code]; !ok {
				return shared.NewValidationError("role", fmt.Sprintf("%s references unknown code %q", r.Name, code))
			}
		}
	}
	return nil
}

// CodesFor resolves the codes a role template should be granted.
func (c Catalog) CodesFor(t RoleTemplate) []string {
	if !t.AllCodes {
		return append([]string(nil), t.Codes...)
	}
	codes := make([]string, 0, len(c.Permissions))
	for _, p := range c.Permissions {
		codes = append(codes, p.Code)
	}
	return codes
}

// DefaultCatalog returns the built-in permission catalog and roles.
func DefaultCatalog() Catalog {
	var perms []CatalogEntry
	add := func(section, resource, label string, actions ...string) {
		for _, action := range actions {
			perms = append(perms, CatalogEntry{
				Code:    resource + "." + action,
				Name:    strings.ToUpper(action[:1]) + action[1:] + " " + label,
				Section: section,
			})
		}
	}
	add("Dashboard", ResourceDashboard, "dashboard", ActionIndex)
	add("Projects", ResourceProjects, "projects", ActionIndex, ActionShow, ActionCreate, ActionUpdate, ActionDestroy)
	add("Projects", ResourceDashboards, "project dashboards", ActionIndex, ActionShow, ActionCreate, ActionUpdate, ActionDestroy)
	add("BI Dashboards", ResourceBIDashboards, "BI dashboards", ActionIndex, ActionShow)
	add("Companies", ResourceCompanies, "companies", ActionIndex, ActionShow, ActionCreate, ActionUpdate, ActionDestroy)
	add("User Management", ResourceUsers, "users", ActionIndex, ActionShow, ActionCreate, ActionUpdate, ActionDestroy)
	add("User Management", ResourceRoles, "roles", ActionIndex, ActionShow, ActionCreate, ActionUpdate, ActionDestroy)
	add("Audit Logs", ResourceAuditLogs, "audit logs", ActionIndex, ActionShow, ActionExport)

	return Catalog{
		Permissions: perms,
		Roles: []RoleTemplate{
			{Name: SuperadminRoleName, Description: "Full access to every resource", AllCodes: true},
			{
				Name:        "Client",
				Description: "Read access to the company's projects and BI dashboards",
				Codes: []string{
					"dashboard.index",
					"projects.index",
					"projects.show",
					"bi_dashboards.index",
					"bi_dashboards.show",
				},
			},
		},
	}
}
