// Package logging scrubs secrets and personal data from values before they
// reach a log line.
package logging

import (
	"regexp"
	"unicode/utf8"

	"github.com/ekaya-inc/evidence-engine/pkg/redact"
)

const (
	// MaxQueryLogLength is the maximum number of runes of a search query to log
	MaxQueryLogLength = 100
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Bearer tokens, including session JWTs
	bearerPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-_]+(?:\.[A-Za-z0-9\-_]+){0,2}`)

	// api_key=..., key=... query or form parameters
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9\-_]{20,}`)

	// Provider secret keys that show up verbatim in SDK error messages
	// (OpenAI/Anthropic "sk-...", Pinecone "pcsk_...")
	providerKeyPattern = regexp.MustCompile(`\b(?:sk-(?:ant-)?|pcsk_)[A-Za-z0-9\-_]{16,}`)

	// user:pass@host in connection strings
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeConnectionString removes credentials from a connection string.
// Use this before logging any database or Redis URL.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeError returns err's message with credentials and tokens removed.
// Use this before logging errors from upstream providers and the database.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)
	sanitized = providerKeyPattern.ReplaceAllString(sanitized, RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeSearchQuery prepares free-text search input for logging: personal
// data is redacted and the result truncated to MaxQueryLogLength runes.
func SanitizeSearchQuery(query string) string {
	if query == "" {
		return ""
	}
	return TruncateString(redact.Text(query), MaxQueryLogLength)
}

// TruncateString truncates s to maxLen runes and adds an ellipsis if needed.
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
