package audithttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-bi/backoffice/internal/platform/httpx"
	"github.com/odyssey-bi/backoffice/internal/rbac"
)

const (
	exportLimit  = 10
	exportWindow = time.Minute
)

// MountRoutes mendaftarkan endpoint audit log; ekspor CSV dibatasi per pengguna.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	exportLimiter := httprate.Limit(exportLimit, exportWindow,
		httprate.WithKeyFuncs(exportKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(exportWindow.Seconds())))
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "Export limit reached, try again in a minute.")
		}),
	)
	r.Route("/audit-logs", func(r chi.Router) {
		r.Get("/", h.handleIndex)
		r.With(exportLimiter).Get("/export.csv", h.handleExport)
		r.Get("/{id}", h.handleShow)
	})
}

// exportKey buckets by signed-in user; anonymous callers never reach the handler, the IP
// fallback only covers misconfigured mounts.
func exportKey(r *http.Request) (string, error) {
	if actor, ok := rbac.ActorFromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(actor.ID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
