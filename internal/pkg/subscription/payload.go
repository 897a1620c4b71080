package subscription

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// payload is a loosely-typed provider payload. Providers nest the same
// logical field under different paths and rename it between event types, so
// every accessor takes a fallback chain of keys and tolerates absence.
type payload map[string]any

func parsePayload(raw []byte) (payload, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// obj descends into a nested object; returns nil when the key is absent or
// not an object.
func (p payload) obj(key string) payload {
	if p == nil {
		return nil
	}
	if m, ok := p[key].(map[string]any); ok {
		return payload(m)
	}
	return nil
}

// str returns the first non-empty string found under the given keys.
func (p payload) str(keys ...string) string {
	if p == nil {
		return ""
	}
	for _, k := range keys {
		switch v := p[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// num returns the first numeric value found under the given keys. JSON
// numbers and numeric strings both count.
func (p payload) num(keys ...string) int64 {
	if p == nil {
		return 0
	}
	for _, k := range keys {
		switch v := p[k].(type) {
		case float64:
			return int64(v)
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

// timeAt parses the first RFC3339-ish timestamp found under the given keys.
func (p payload) timeAt(keys ...string) *time.Time {
	if p == nil {
		return nil
	}
	for _, k := range keys {
		s, ok := p[k].(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
				return &t
			}
		}
	}
	return nil
}
