package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-bi/backoffice/internal/platform/httpx"
	"github.com/odyssey-bi/backoffice/internal/platform/validate"
	"github.com/odyssey-bi/backoffice/internal/rbac"
	"github.com/odyssey-bi/backoffice/internal/shared"
)

const invalidLoginMessage = "Invalid email or password."

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validate.Validator
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validate.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	token, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		h.logger.Error("auth: csrf token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	body := map[string]any{"csrf_token": token}
	if sess != nil {
		if flash := sess.PopFlash(); flash != nil {
			body["flash"] = flash
		}
	}
	httpx.JSON(w, http.StatusOK, body)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("auth: session missing during login")
		httpx.RespondError(w, errors.New("session missing"))
		return
	}
	var form loginForm
	if isJSON(r) {
		if err := httpx.DecodeJSON(r, &form); err != nil {
			httpx.RespondError(w, shared.NewValidationError("body", "is not valid JSON"))
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			httpx.RespondError(w, shared.NewValidationError("body", "is not a valid form"))
			return
		}
		form = loginForm{Email: r.PostFormValue("email"), Password: r.PostFormValue("password")}
	}
	if err := h.validator.Struct(form); err != nil {
		h.reject(w, r, err)
		return
	}

	_, login, err := h.service.Login(r.Context(), form.Email, form.Password)
	if err != nil {
		if !errors.Is(err, shared.ErrInvalidCredentials) {
			h.logger.Error("auth: login", slog.Any("error", err))
		}
		h.reject(w, r, httpx.ErrUnauthorized)
		return
	}
	h.sessionManager.Rotate(sess)
	sess.SetUser(login.UserID)
	if shared.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, login)
		return
	}
	shared.RedirectWithFlash(w, r, login.Redirect, "success", "Signed in successfully.")
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if actor, ok := rbac.ActorFromContext(r.Context()); ok {
		h.service.Logout(r.Context(), actor)
	}
	h.sessionManager.Destroy(shared.SessionFromContext(r.Context()))
	if shared.WantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, err error) {
	if shared.WantsJSON(r) {
		if errors.Is(err, httpx.ErrUnauthorized) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", invalidLoginMessage)
			return
		}
		httpx.RespondError(w, err)
		return
	}
	shared.RedirectWithFlash(w, r, "/login", "error", invalidLoginMessage)
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "application/json")
}
