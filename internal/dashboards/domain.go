package dashboards

import (
	"time"

	"github.com/odyssey-bi/backoffice/internal/shared"
)

// Statuses and embed types.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"

	EmbedIframe = "iframe"
	EmbedURL    = "embed_url"
)

// Dashboard is an embedded BI report attached to a project.
type Dashboard struct {
	ID          int64      `json:"id"`
	ProjectID   int64      `json:"project_id"`
	ProjectName string     `json:"project_name,omitempty"`
	CompanyID   int64      `json:"company_id"`
	Name        string     `json:"name"`
	EmbedURL    string     `json:"embed_url"`
	EmbedType   string     `json:"embed_type"`
	Status      string     `json:"status"`
	Position    int        `json:"position"`
	DiscardedAt *time.Time `json:"discarded_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// CompanyRef is the company owning the dashboard's project.
func (d Dashboard) CompanyRef() int64 {
	return d.CompanyID
}

// Kept reports whether the dashboard is not discarded.
func (d Dashboard) Kept() bool {
	return d.DiscardedAt == nil
}

// Input carries create and update fields.
type Input struct {
	ProjectID int64  `json:"project_id" validate:"required,gt=0"`
	Name      string `json:"name" validate:"required,max=255"`
	EmbedURL  string `json:"embed_url" validate:"required,max=2048,httpurl"`
	EmbedType string `json:"embed_type" validate:"required,oneof=iframe embed_url"`
	Status    string `json:"status" validate:"required,oneof=active inactive"`
	Position  int    `json:"position" validate:"gte=0"`
}

// ProjectRef is the part of a project a dashboard needs for authorization.
type ProjectRef struct {
	ID        int64
	CompanyID int64
	Kept      bool
}

// ListParams narrow the management listing.
type ListParams struct {
	Page      int
	PerPage   int
	ProjectID *int64
	Discarded bool
}

// Page is one page of dashboards.
type Page struct {
	Dashboards []Dashboard       `json:"dashboards"`
	Pagination shared.Pagination `json:"pagination"`
}

// ProjectGroup is one project in the BI viewer with its visible dashboards.
type ProjectGroup struct {
	ID         int64       `json:"id"`
	Name       string      `json:"name"`
	Dashboards []Dashboard `json:"dashboards"`
}

// Viewer is what the BI viewer shows: visible projects, the selected project and dashboard.
type Viewer struct {
	Projects          []ProjectGroup `json:"projects"`
	SelectedProject   *ProjectGroup  `json:"selected_project,omitempty"`
	SelectedDashboard *Dashboard     `json:"selected_dashboard,omitempty"`
}
