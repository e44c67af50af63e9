package audit

import (
	"encoding/json"
	"strconv"
	"time"
)

// Actions accepted by the ledger.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionRestore = "restore"
	ActionLogin   = "login"
	ActionLogout  = "logout"
	ActionView    = "view"
	ActionExport  = "export"
)

var validActions = map[string]struct{}{
	ActionCreate: {}, ActionUpdate: {}, ActionDelete: {}, ActionRestore: {},
	ActionLogin: {}, ActionLogout: {}, ActionView: {}, ActionExport: {},
}

// ValidAction reports whether action is part of the ledger vocabulary.
func ValidAction(action string) bool {
	_, ok := validActions[action]
	return ok
}

// Entry is one immutable ledger row.
type Entry struct {
	ID         int64           `json:"id"`
	ActorID    *int64          `json:"actor_id,omitempty"`
	ActorName  string          `json:"actor_name"`
	Module     string          `json:"module"`
	Action     string          `json:"action"`
	TargetType string          `json:"target_type,omitempty"`
	TargetID   string          `json:"target_id,omitempty"`
	Summary    string          `json:"summary,omitempty"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	IP         string          `json:"ip,omitempty"`
	UserAgent  string          `json:"user_agent,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ActorRef identifies the actor the entry belongs to for visibility checks.
func (e Entry) ActorRef() *int64 {
	return e.ActorID
}

// Filters narrow a ledger listing.
type Filters struct {
	Action   string
	Module   string
	ActorID  *int64
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// TargetRef formats a numeric id as a target id.
func TargetRef(id int64) string {
	return strconv.FormatInt(id, 10)
}
