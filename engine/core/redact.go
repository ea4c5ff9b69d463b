package core

import (
	"regexp"
	"strings"
)

// Precompiled patterns for common secret shapes in error/log strings. The
// pipeline never writes raw provider or store errors to logs without passing
// them through here first.
var (
	bearerTokenRe = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-\._~\+\/]+=*`)
	kvSecretRe    = regexp.MustCompile(
		`(?i)(api[_-]?key|token|secret|password|pass|pwd|credential|authorization|access_token)\s*[:=]\s*["']?[^"'\s]+["']?`,
	)
	genericKeyRe = regexp.MustCompile(
		`\b(sk-[A-Za-z0-9_\-]{16,}|pk-[A-Za-z0-9_\-]{16,}|key-[A-Za-z0-9_\-]{16,})\b`,
	)
	connectionRe = regexp.MustCompile(
		`(?i)((postgres|postgresql|redis|rediss|amqp|https?)://)[^@\s]+@[^\s]+`,
	)
	logEmailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
)

// RedactString trims, truncates, and scrubs common secret patterns so error
// text is safe to log.
func RedactString(s string) string {
	const maxLen = 256
	s = strings.TrimSpace(s)
	s = connectionRe.ReplaceAllString(s, "$1[REDACTED]")
	s = bearerTokenRe.ReplaceAllString(s, "$1[REDACTED]")
	s = kvSecretRe.ReplaceAllString(s, "$1=[REDACTED]")
	s = genericKeyRe.ReplaceAllString(s, "[REDACTED]")
	s = logEmailRe.ReplaceAllString(s, "[EMAIL_REDACTED]")
	if len(s) > maxLen {
		s = s[:maxLen] + "…"
	}
	return s
}

// RedactError applies RedactString to an error, returning an empty string when nil.
func RedactError(err error) string {
	if err == nil {
		return ""
	}
	return RedactString(err.Error())
}
