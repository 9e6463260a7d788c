package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/recipe-enricher/pkg/core"
)

// Security limits and configuration
const (
	// MaxPayloadSize is the maximum size in bytes for job payloads (1MB)
	MaxPayloadSize = 1 << 20

	// MaxAttempts is the hard limit for attempts per job
	MaxAttempts = 25

	// MaxConcurrency is the hard limit for per-queue worker concurrency
	MaxConcurrency = 64

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxQueueNameLength is the maximum length for queue names
	MaxQueueNameLength = 255

	// MaxDedupKeyLength is the maximum length for dedup keys
	MaxDedupKeyLength = 255
)

var (
	validQueueName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)
	validDedupKey  = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.:]*$`)

	// credentials that providers sometimes echo back inside error text
	secretPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(api[_-]?key|key|token|password|secret)=([^\s&"']+)`),
		regexp.MustCompile(`sk-ant-[a-zA-Z0-9_\-]+`),
		regexp.MustCompile(`AIza[0-9A-Za-z_\-]{20,}`),
		regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.=]+`),
	}
)

// ValidateQueueName validates a queue name
func ValidateQueueName(name string) error {
	if name == "" {
		return core.ErrInvalidQueueName
	}
	if len(name) > MaxQueueNameLength {
		return core.ErrQueueNameTooLong
	}
	if !validQueueName.MatchString(name) {
		return core.ErrInvalidQueueName
	}
	return nil
}

// ValidateDedupKey validates a dedup key. Empty keys are allowed and mean
// "no deduplication".
func ValidateDedupKey(key string) error {
	if key == "" {
		return nil
	}
	if len(key) > MaxDedupKeyLength {
		return core.ErrDedupKeyTooLong
	}
	if !validDedupKey.MatchString(key) {
		return core.ErrInvalidDedupKey
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := RedactSecrets(sanitized.String())

	// Truncate if too long
	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// RedactSecrets masks API keys and bearer tokens in free text.
func RedactSecrets(msg string) string {
	for i, re := range secretPatterns {
		if i == 0 {
			msg = re.ReplaceAllString(msg, "$1=[REDACTED]")
			continue
		}
		msg = re.ReplaceAllString(msg, "[REDACTED]")
	}
	return msg
}

// ClampAttempts ensures an attempt count is within limits
func ClampAttempts(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxAttempts {
		return MaxAttempts
	}
	return n
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
