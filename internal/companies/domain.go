package companies

import (
	"time"

	"github.com/odyssey-bi/backoffice/internal/shared"
)

// Statuses a company can be in. Members of an inactive company lose dashboard access.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Company is the tenant aggregate.
type Company struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	Status        string     `json:"status"`
	UsersCount    int64      `json:"users_count"`
	ProjectsCount int64      `json:"projects_count"`
	DiscardedAt   *time.Time `json:"discarded_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CompanyRef is the company's own id: a member may only see their company.
func (c Company) CompanyRef() int64 {
	return c.ID
}

// Kept reports whether the company is not discarded.
func (c Company) Kept() bool {
	return c.DiscardedAt == nil
}

// Input carries create and update fields.
type Input struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description" validate:"max=2000"`
	Status      string `json:"status" validate:"required,oneof=active inactive"`
}

// ListParams narrow a listing.
type ListParams struct {
	Page      int
	PerPage   int
	Search    string
	Status    string
	Discarded bool
}

// Page is one page of companies.
type Page struct {
	Companies  []Company         `json:"companies"`
	Pagination shared.Pagination `json:"pagination"`
}
