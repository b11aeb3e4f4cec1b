package observability

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Header-supplied values (tenant, customer, idempotency key) reach logs verbatim, so control
// characters are stripped and lengths are capped before they are written.
const (
	routeLimit  = 180
	methodLimit = 10
	idLimit     = 64
)

func sanitizeString(value string, limit int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if utf8.RuneCountInString(cleaned) <= limit {
		return cleaned
	}
	runes := []rune(cleaned)
	return string(runes[:limit])
}

// SanitizeRoute bounds a route pattern or path; empty becomes "/".
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, routeLimit)
}

func SanitizeMethod(method string) string {
	return strings.ToUpper(sanitizeString(method, methodLimit))
}

// SanitizeID bounds caller-supplied identifiers such as tenant and customer ids.
func SanitizeID(id string) string {
	return sanitizeString(strings.TrimSpace(id), idLimit)
}
