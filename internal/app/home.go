package app

import (
	"net/http"

	"github.com/odyssey-bi/backoffice/internal/platform/httpx"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

type homeView struct {
	UserID     int64                `json:"user_id"`
	Name       string               `json:"name"`
	Email      string               `json:"email"`
	Role       string               `json:"role,omitempty"`
	CompanyID  *int64               `json:"company_id,omitempty"`
	Superadmin bool                 `json:"superadmin"`
	Flash      *shared.FlashMessage `json:"flash,omitempty"`
}

// home renders the signed-in summary shown on the dashboard landing page.
func home() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := rbac.ActorFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		view := homeView{
			UserID:     actor.ID,
			Name:       actor.DisplayName(),
			Email:      actor.Email,
			Role:       actor.RoleName,
			CompanyID:  actor.CompanyID,
			Superadmin: actor.IsSuperadmin(),
		}
		if sess := shared.SessionFromContext(r.Context()); sess != nil {
			view.Flash = sess.PopFlash()
		}
		httpx.JSON(w, http.StatusOK, view)
	}
}
