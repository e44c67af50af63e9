package shared

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "backoffice:session:"

// FlashMessage is a one-time notice shown on the next response.
type FlashMessage struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SessionManager keeps session state in Redis behind a signed cookie carrying only the id.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
	secret     []byte
}

// Session is the per-request view of a stored session.
type Session struct {
	ID      string
	values  map[string]string
	userID  string
	flashes []FlashMessage

	// superseded is the id dropped by Rotate, deleted on commit.
	superseded string
	stored     bool
	dirty      bool
	destroyed  bool
}

type storedSession struct {
	Values  map[string]string `json:"values"`
	UserID  string            `json:"user_id"`
	Flashes []FlashMessage    `json:"flashes"`
}

// NewSessionManager constructs a SessionManager. secret signs the cookie value.
func NewSessionManager(client *redis.Client, cookieName string, secret string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
		secret:     []byte(secret),
	}
}

// Load returns the session named by the request cookie, or a fresh unsaved one when the
// cookie is missing, forged or expired.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if errors.Is(err, http.ErrNoCookie) {
		return sm.fresh(), nil
	}
	if err != nil {
		return nil, err
	}
	id, ok := sm.Verify(cookie.Value)
	if !ok {
		return sm.fresh(), nil
	}

	raw, err := sm.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return sm.fresh(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	var data storedSession
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	if data.Values == nil {
		data.Values = make(map[string]string)
	}
	return &Session{ID: id, values: data.Values, userID: data.UserID, flashes: data.Flashes, stored: true}, nil
}

// Commit writes pending changes, refreshes the expiry of untouched sessions and
// sets or clears the cookie.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *Session) error {
	if sess == nil {
		return nil
	}
	pipe := sm.client.TxPipeline()
	if sess.superseded != "" {
		pipe.Del(ctx, sessionKeyPrefix+sess.superseded)
	}
	switch {
	case sess.destroyed:
		pipe.Del(ctx, sessionKeyPrefix+sess.ID)
	case sess.dirty || !sess.stored:
		data, err := json.Marshal(storedSession{Values: sess.values, UserID: sess.userID, Flashes: sess.flashes})
		if err != nil {
			return fmt.Errorf("session: encode: %w", err)
		}
		pipe.Set(ctx, sessionKeyPrefix+sess.ID, data, sm.ttl)
	default:
		pipe.Expire(ctx, sessionKeyPrefix+sess.ID, sm.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session: commit: %w", err)
	}

	sess.superseded = ""
	if sess.destroyed {
		http.SetCookie(w, sm.cookie("", -1))
		return nil
	}
	sess.stored = true
	sess.dirty = false
	// The stored copy carries the flashes to the next request only.
	sess.flashes = nil
	http.SetCookie(w, sm.cookie(sm.CookieValue(sess.ID), 0))
	return nil
}

// Destroy marks the session for deletion on commit.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess != nil {
		sess.destroyed = true
	}
}

// Rotate gives the session a new id so a pre-login id cannot be reused after sign-in.
func (sm *SessionManager) Rotate(sess *Session) {
	if sess == nil {
		return
	}
	if sess.stored {
		sess.superseded = sess.ID
	}
	sess.ID = uuid.NewString()
	sess.stored = false
	sess.dirty = true
}

// CookieValue signs a session id for the cookie.
func (sm *SessionManager) CookieValue(id string) string {
	return id + "." + sm.sign(id)
}

// Verify checks a cookie value and returns the session id it carries.
func (sm *SessionManager) Verify(value string) (string, bool) {
	id, sig, found := strings.Cut(value, ".")
	if !found || id == "" {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(sm.sign(id))) {
		return "", false
	}
	return id, true
}

func (sm *SessionManager) sign(id string) string {
	mac := hmac.New(sha256.New, sm.secret)
	_, _ = mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (sm *SessionManager) fresh() *Session {
	return &Session{ID: uuid.NewString(), values: make(map[string]string), dirty: true}
}

func (sm *SessionManager) cookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     sm.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge == 0 {
		c.Expires = time.Now().Add(sm.ttl)
	}
	return c
}

// Set stores a key-value pair.
func (s *Session) Set(key, value string) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.dirty = true
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	return s.values[key]
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.dirty = true
	}
}

// SetUser binds the session to a signed-in user.
func (s *Session) SetUser(id int64) {
	s.userID = strconv.FormatInt(id, 10)
	s.dirty = true
}

// ClearUser removes the user binding.
func (s *Session) ClearUser() {
	s.userID = ""
	s.dirty = true
}

// UserID parses the stored user identifier.
func (s *Session) UserID() (int64, bool) {
	if s == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(s.userID), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// AddFlash queues a flash message.
func (s *Session) AddFlash(msg FlashMessage) {
	s.flashes = append(s.flashes, msg)
	s.dirty = true
}

// PopFlash retrieves and clears the oldest flash message.
func (s *Session) PopFlash() *FlashMessage {
	if len(s.flashes) == 0 {
		return nil
	}
	msg := s.flashes[0]
	s.flashes = s.flashes[1:]
	s.dirty = true
	return &msg
}
