package log

import (
	"strings"
)

// sensitiveKeyFragments marks field keys whose values must never reach a log
// sink in the clear: the upstream API key, proxy credentials, and the MySQL
// DSN. Plain "token" is deliberately absent — in this service tokens are
// counts, not credentials, and fields like total_tokens must stay readable.
var sensitiveKeyFragments = []string{
	"password", "passwd", "pwd",
	"api_key", "apikey", "api-key",
	"access_token", "refresh_token", "bearer",
	"secret", "auth", "authorization",
	"credential", "private_key", "privatekey",
	"dsn",
}

// SanitizeField masks the value when the key names a credential-bearing field.
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lowerKey, fragment) {
			return maskSecret(value)
		}
	}

	return value
}

// maskSecret keeps the first and last four characters of long values so
// operators can tell keys apart; short values are masked almost entirely.
func maskSecret(value string) string {
	switch {
	case len(value) <= 2:
		return strings.Repeat("*", len(value))
	case len(value) <= 8:
		return value[:1] + strings.Repeat("*", len(value)-2) + value[len(value)-1:]
	default:
		return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
	}
}
