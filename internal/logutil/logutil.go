package logutil

import (
	"strings"
)

// IsSensitiveLogField returns true when a key likely contains sensitive data.
// Keys may be plain names ("password_two") or CSS selectors ("#auth_user_password").
func IsSensitiveLogField(key string) bool {
	normalized := normalizeKey(key)

	switch {
	case normalized == "authorization":
		return true
	case strings.Contains(normalized, "token"):
		return true
	case strings.Contains(normalized, "secret"):
		return true
	case strings.Contains(normalized, "password"):
		return true
	case strings.Contains(normalized, "apikey"):
		return true
	case strings.Contains(normalized, "cookie"):
		return true
	case strings.Contains(normalized, "sessionid"):
		return true
	default:
		return false
	}
}

// RedactValue redacts a value when its key looks sensitive.
func RedactValue(key, value string) string {
	if IsSensitiveLogField(key) {
		return "[REDACTED]"
	}
	return value
}

// TruncateForLog returns a single-line truncated preview for unstructured values.
func TruncateForLog(value string, maxChars int) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	normalized := strings.ReplaceAll(trimmed, "\n", "\\n")
	if maxChars <= 0 || len(normalized) <= maxChars {
		return normalized
	}
	return normalized[:maxChars] + "... [truncated]"
}

func normalizeKey(key string) string {
	normalized := strings.ToLower(strings.TrimSpace(key))
	// Selector syntax: keep only the identifying characters.
	normalized = strings.NewReplacer(
		"#", "", ".", "", "[", "", "]", "", "'", "", `"`, "", "=", "", "name", "",
		"-", "", "_", "",
	).Replace(normalized)
	return normalized
}
