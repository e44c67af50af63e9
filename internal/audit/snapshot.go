package audit

import (
	"encoding/json"
	"strings"
)

// sensitiveKeys are removed from every snapshot regardless of the caller.
var sensitiveKeys = map[string]struct{}{
	"password":              {},
	"password_hash":         {},
	"passwordhash":          {},
	"encrypted_password":    {},
	"password_digest":       {},
	"password_confirmation": {},
	"reset_password_token":  {},
	"token":                 {},
	"secret":                {},
	"api_key":               {},
	"session_id":            {},
}

// Snapshot serialises v into a JSON document with credential fields stripped at any
// depth. A nil value yields nil.
func Snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return json.Marshal(strip(doc))
}

func strip(v any) any {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			if isSensitive(k) {
				delete(node, k)
				continue
			}
			node[k] = strip(child)
		}
		return node
	case []any:
		for i := range node {
			node[i] = strip(node[i])
		}
		return node
	default:
		return v
	}
}

func isSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}
