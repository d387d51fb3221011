package observability

import (
	"strings"
	"unicode"
)

// sanitizeString drops control characters and caps the rune length to keep log lines intact.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	var b strings.Builder
	count := 0
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		if count == limit {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

// SanitizeRoute cleans a route pattern for logs and metric labels.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeUserID limits identifiers written to logs.
func SanitizeUserID(uid string) string {
	return sanitizeString(uid, 64)
}
