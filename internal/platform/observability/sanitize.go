package observability

import (
	"strings"
	"unicode"
)

// sanitizeString drops control characters (except common whitespace) and
// truncates to limit runes to keep attacker-supplied values out of log lines.
func sanitizeString(value string, limit int) string {
	value = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)

	if runes := []rune(value); limit > 0 && len(runes) > limit {
		return string(runes[:limit])
	}
	return value
}

// SanitizeRoute cleans a route pattern for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod cleans an HTTP method for logging.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeUserID limits potential identifiers to reduce PII leakage in logs.
func SanitizeUserID(uid string) string {
	return sanitizeString(uid, 64)
}
