package projects

import (
	"time"

	"github.com/odyssey-bi/backoffice/internal/shared"
)

// Statuses a project can be in.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Project is a company-owned container for BI dashboards.
type Project struct {
	ID              int64      `json:"id"`
	CompanyID       int64      `json:"company_id"`
	CompanyName     string     `json:"company_name,omitempty"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	Status          string     `json:"status"`
	DashboardsCount int        `json:"dashboards_count"`
	DiscardedAt     *time.Time `json:"discarded_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CompanyRef identifies the owning company for tenant checks.
func (p Project) CompanyRef() int64 {
	return p.CompanyID
}

// Kept reports whether the project is not discarded.
func (p Project) Kept() bool {
	return p.DiscardedAt == nil
}

// Input carries create and update fields.
type Input struct {
	CompanyID   int64  `json:"company_id" validate:"required,gt=0"`
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
	CompanyID *int64
	Discarded bool
}

// Page is one page of projects.
type Page struct {
	Projects   []Project         `json:"projects"`
	Pagination shared.Pagination `json:"pagination"`
}
