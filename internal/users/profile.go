package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-bi/backoffice/internal/audit"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

// Profile returns the signed-in user's own account.
func (s *Service) Profile(ctx context.Context, actor rbac.Actor) (User, error) {
	return s.kept(actor.ID)(ctx)
}

// UpdateProfile changes the signed-in user's name, email and optionally password. Role,
// company and active flag are not editable here.
func (s *Service) UpdateProfile(ctx context.Context, actor rbac.Actor, in ProfileInput) (User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.validate.Struct(in); err != nil {
		return User{}, err
	}
	before, err := s.Profile(ctx, actor)
	if err != nil {
		return User{}, err
	}
	rec := Record{Name: in.Name, Email: in.Email, RoleID: before.RoleID, CompanyID: before.CompanyID, IsActive: before.IsActive}
	if in.Password != "" {
		if err := checkCurrentPassword(before.PasswordHash, in.CurrentPassword); err != nil {
			return User{}, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
		if err != nil {
			return User{}, fmt.Errorf("users: hash password: %w", err)
		}
		rec.PasswordHash = string(hash)
	}
	after, err := s.repo.Update(ctx, actor.ID, rec, false)
	if err != nil {
		return User{}, fmt.Errorf("users: update profile: %w", err)
	}
	s.log(ctx, actor, audit.ActionUpdate, after, "Updated profile: "+after.Email, before, after)
	return after, nil
}

func checkCurrentPassword(hash, current string) error {
	if current == "" {
		return shared.NewValidationError("current_password", "can't be blank")
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(current))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword), errors.Is(err, bcrypt.ErrHashTooShort):
		return shared.NewValidationError("current_password", "is invalid")
	}
	return fmt.Errorf("users: check password: %w", err)
}
