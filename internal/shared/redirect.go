package shared

import (
	"net/http"
	"net/url"
	"strings"
)

// DeniedMessage is the only text shown to an actor whose request was refused.
const DeniedMessage = "You are not authorized to perform this action."

// SafeRedirectTarget returns the referrer path when it points back at this host and is not
// the current URL; otherwise fallback.
func SafeRedirectTarget(r *http.Request, fallback string) string {
	if fallback == "" {
		fallback = "/"
	}
	raw := strings.TrimSpace(r.Referer())
	if raw == "" {
		return fallback
	}
	ref, err := url.Parse(raw)
	if err != nil || ref.Host == "" || !strings.EqualFold(ref.Host, r.Host) {
		return fallback
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return fallback
	}
	target := ref.EscapedPath()
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return fallback
	}
	if ref.RawQuery != "" {
		target += "?" + ref.RawQuery
	}
	if target == r.URL.RequestURI() {
		return fallback
	}
	return target
}

// WantsJSON reports whether the client negotiated a JSON response.
func WantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/json") || strings.Contains(accept, "application/problem+json") {
		return true
	}
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// RedirectWithFlash queues a flash message and issues a 303 to target.
func RedirectWithFlash(w http.ResponseWriter, r *http.Request, target, kind, message string) {
	if sess := SessionFromContext(r.Context()); sess != nil && message != "" {
		sess.AddFlash(FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// DenyRedirect sends the actor back to a safe location with the uniform denial message.
func DenyRedirect(w http.ResponseWriter, r *http.Request) {
	RedirectWithFlash(w, r, SafeRedirectTarget(r, "/"), "danger", DeniedMessage)
}
