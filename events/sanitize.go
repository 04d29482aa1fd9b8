package events

import "strings"

// Redacted replaces the value of every sensitive key.
const Redacted = "[REDACTED]"

var sensitiveKeyParts = []string{"password", "token", "secret", "credential", "key", "session", "auth"}

// IsSensitiveKey reports whether a detail key must be redacted. Matching is
// a case-insensitive substring test, so "apiKey" and "Authorization" match.
func IsSensitiveKey(k string) bool {
	lk := strings.ToLower(k)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lk, part) {
			return true
		}
	}
	return false
}

// Sanitize returns a deep copy of details with sensitive values redacted in
// nested maps and in maps held by slices. The input is not modified.
func Sanitize(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if IsSensitiveKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Sanitize(t)
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return Sanitize(m)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = sanitizeValue(t[i])
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = Sanitize(t[i])
		}
		return out
	default:
		return v
	}
}
