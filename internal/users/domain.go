package users

import (
	"time"

	"github.com/odyssey-bi/backoffice/internal/shared"
)

// User represents a back-office account.
type User struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	RoleID       *int64     `json:"role_id"`
	RoleName     string     `json:"role_name,omitempty"`
	CompanyID    *int64     `json:"company_id"`
	CompanyName  string     `json:"company_name,omitempty"`
	IsActive     bool       `json:"is_active"`
	PasswordHash string     `json:"-"`
	DiscardedAt  *time.Time `json:"discarded_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CompanyRef returns the user's company, zero when the user belongs to none.
func (u User) CompanyRef() int64 {
	if u.CompanyID == nil {
		return 0
	}
	return *u.CompanyID
}

// Kept reports whether the user is not discarded.
func (u User) Kept() bool {
	return u.DiscardedAt == nil
}

// Input carries create and update fields. Password is required on create only; an empty
// password on update keeps the current one.
type Input struct {
	Name                 string `json:"name" validate:"required,max=255"`
	Email                string `json:"email" validate:"required,email,max=255"`
	Password             string `json:"password" validate:"omitempty,min=8,max=72"`
	PasswordConfirmation string `json:"password_confirmation" validate:"omitempty,eqfield=Password"`
	RoleID               *int64 `json:"role_id" validate:"omitempty,gt=0"`
	CompanyID            *int64 `json:"company_id" validate:"omitempty,gt=0"`
	IsActive             *bool  `json:"is_active"`
}

// ProfileInput is what signed-in users may change on their own account. Changing the
// password requires the current one.
type ProfileInput struct {
	Name                 string `json:"name" validate:"required,max=255"`
	Email                string `json:"email" validate:"required,email,max=255"`
	Password             string `json:"password" validate:"omitempty,min=8,max=72"`
	PasswordConfirmation string `json:"password_confirmation" validate:"omitempty,eqfield=Password"`
	CurrentPassword      string `json:"current_password"`
}

// Record is what the repository writes: the validated input with the password hashed.
type Record struct {
	Name         string
	Email        string
	RoleID       *int64
	CompanyID    *int64
	IsActive     bool
	PasswordHash string
}

// RoleRef names the role being assigned.
type RoleRef struct {
	ID   int64
	Name string
}

// ListParams narrow the user listing.
type ListParams struct {
	Page      int
	PerPage   int
	Search    string
	RoleID    *int64
	CompanyID *int64
	Discarded bool
}

// Page is one page of users.
type Page struct {
	Users      []User            `json:"users"`
	Pagination shared.Pagination `json:"pagination"`
}
