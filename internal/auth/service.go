package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-bi/backoffice/internal/audit"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

const auditModule = "auth"

// dummyHash is compared against when the email is unknown so both paths cost one bcrypt run.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("backoffice-dummy-password"), bcrypt.DefaultCost)

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	actors rbac.ActorLoader
	grants rbac.GrantSource
	audit  audit.Recorder
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a new Service.
func NewService(repo Repository, actors rbac.ActorLoader, grants rbac.GrantSource, recorder audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, actors: actors, grants: grants, audit: recorder, logger: logger, now: time.Now}
}

// Authenticate validates email/password credentials and loads the actor behind them.
func (s *Service) Authenticate(ctx context.Context, email, password string) (rbac.Actor, error) {
	creds, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return rbac.Actor{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		return rbac.Actor{}, shared.ErrInvalidCredentials
	}
	if !creds.IsActive {
		return rbac.Actor{}, shared.ErrInvalidCredentials
	}
	actor, err := s.actors.LoadActor(ctx, creds.ID)
	if err != nil {
		return rbac.Actor{}, fmt.Errorf("auth: load actor: %w", err)
	}
	return actor, nil
}

// Login authenticates, records the sign-in and picks the landing page.
func (s *Service) Login(ctx context.Context, email, password string) (rbac.Actor, Login, error) {
	actor, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return rbac.Actor{}, Login{}, err
	}
	meta := shared.RequestMetaFromContext(ctx)
	if err := s.repo.TrackSignIn(ctx, actor.ID, s.now(), meta.IP); err != nil {
		s.logger.Warn("auth: track sign in", slog.Int64("user_id", actor.ID), slog.Any("error", err))
	}
	path, err := rbac.NewResolver(s.grants).FirstAccessiblePath(ctx, actor)
	if err != nil {
		return rbac.Actor{}, Login{}, fmt.Errorf("auth: landing: %w", err)
	}
	if path == "" {
		path = "/"
	}
	s.audit.RecordBestEffort(ctx, audit.Event{
		Action:     audit.ActionLogin,
		Module:     auditModule,
		Actor:      &actor,
		TargetType: "User",
		TargetID:   audit.TargetRef(actor.ID),
		Summary:    "Signed in: " + actor.Email,
	})
	return actor, Login{UserID: actor.ID, Name: actor.DisplayName(), Redirect: path}, nil
}

// Logout records the sign-out of actor.
func (s *Service) Logout(ctx context.Context, actor rbac.Actor) {
	s.audit.RecordBestEffort(ctx, audit.Event{
		Action:     audit.ActionLogout,
		Module:     auditModule,
		Actor:      &actor,
		TargetType: "User",
		TargetID:   audit.TargetRef(actor.ID),
		Summary:    "Signed out: " + actor.Email,
	})
}
