package security

import (
	"regexp"
	"strings"
	"sync"
)

// Common patterns for sensitive data
var (
	// GitHub tokens
	githubTokenPattern = regexp.MustCompile(`(gh[pousr]_[a-zA-Z0-9]{36}|github_pat_[a-zA-Z0-9]{22}_[a-zA-Z0-9]{59})`)

	// Generic API keys
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|api[_-]?secret|api[_-]?token)[[:space:]]*[:=][[:space:]]*['"` + "`" + `]?([a-zA-Z0-9_\-]{16,})['"` + "`" + `]?`)

	// Bearer tokens
	bearerTokenPattern = regexp.MustCompile(`(?i)bearer[[:space:]]+([a-zA-Z0-9_\-\.]+)`)

	// Private keys
	privateKeyPattern = regexp.MustCompile(`(?s)-----BEGIN[[:space:]]+(?:RSA[[:space:]]+|OPENSSH[[:space:]]+|EC[[:space:]]+)?PRIVATE[[:space:]]+KEY-----.*?-----END[[:space:]]+(?:RSA[[:space:]]+|OPENSSH[[:space:]]+|EC[[:space:]]+)?PRIVATE[[:space:]]+KEY-----`)

	// Credentials in clone URLs
	urlCredentialPattern = regexp.MustCompile(`(?i)(https?|ssh|git)://[^/@\s]+@`)
)

// LogSanitizer masks credentials in log messages, clone logs and
// subprocess output before they leave the process.
type LogSanitizer struct {
	mu             sync.RWMutex
	customPatterns []*regexp.Regexp
	secrets        map[string]bool
}

// NewLogSanitizer creates a new log sanitizer
func NewLogSanitizer() *LogSanitizer {
	return &LogSanitizer{
		customPatterns: make([]*regexp.Regexp, 0),
		secrets:        make(map[string]bool),
	}
}

// AddCustomPattern adds a custom pattern to sanitize
func (ls *LogSanitizer) AddCustomPattern(pattern *regexp.Regexp) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.customPatterns = append(ls.customPatterns, pattern)
}

// AddSecret redacts an exact secret value, such as a token fetched at
// runtime, wherever it appears.
func (ls *LogSanitizer) AddSecret(secret string) {
	if strings.TrimSpace(secret) == "" {
		return
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.secrets[secret] {
		return
	}
	ls.secrets[secret] = true
	ls.customPatterns = append(ls.customPatterns, regexp.MustCompile(regexp.QuoteMeta(secret)))
}

// Sanitize removes or masks sensitive information from log messages
func (ls *LogSanitizer) Sanitize(message string) string {
	// Exact secrets first so partial pattern matches cannot split them
	ls.mu.RLock()
	for _, pattern := range ls.customPatterns {
		message = pattern.ReplaceAllString(message, "[REDACTED]")
	}
	ls.mu.RUnlock()

	message = githubTokenPattern.ReplaceAllString(message, "[REDACTED-GITHUB-TOKEN]")
	message = apiKeyPattern.ReplaceAllString(message, "${1}=[REDACTED]")
	message = bearerTokenPattern.ReplaceAllString(message, "Bearer [REDACTED]")
	message = privateKeyPattern.ReplaceAllString(message, "[REDACTED-PRIVATE-KEY]")
	message = urlCredentialPattern.ReplaceAllString(message, "${1}://[REDACTED]@")

	return message
}

// SanitizeError sanitizes error messages that might contain sensitive info
func (ls *LogSanitizer) SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return ls.Sanitize(err.Error())
}

// SanitizeMap sanitizes all values in a map (useful for labels/metadata)
func (ls *LogSanitizer) SanitizeMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	sanitized := make(map[string]string, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = ls.Sanitize(v)
	}
	return sanitized
}

// isSensitiveKey checks if a key name suggests sensitive content
func isSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	sensitiveKeywords := []string{
		"password", "passwd", "secret", "token",
		"credential", "private", "bearer", "apikey", "api_key",
	}

	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return true
		}
	}
	return false
}
