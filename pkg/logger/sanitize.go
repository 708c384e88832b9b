package logger

import (
	"strings"
)

// SanitizedEmail masks an email address for logging (e.g. "a****@*******.example").
// Logs carry enough to correlate, never enough to identify a tenant.
func SanitizedEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "[invalid-email]"
	}

	local := email[:at]
	domain := email[at+1:]

	if len(local) > 1 {
		local = local[:1] + strings.Repeat("*", len(local)-1)
	}

	// Keep only the TLD of the domain.
	if dot := strings.LastIndex(domain, "."); dot > 0 {
		domain = strings.Repeat("*", dot) + domain[dot:]
	}

	return local + "@" + domain
}

// Query parameters whose presence means the whole query string is dropped
// from request logs. Tokens and codes must never land in log storage.
var sensitiveQueryParams = []string{
	"password",
	"token",
	"secret",
	"code",
	"auth",
	"session",
}

// SanitizeQueryString reports whether the raw query string carries a
// sensitive parameter and should be redacted wholesale.
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveQueryParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
