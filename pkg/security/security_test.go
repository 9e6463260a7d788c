package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jdziat/recipe-enricher/pkg/core"
)

func TestValidateQueueName_Valid(t *testing.T) {
	validNames := []string{
		"import-url",
		"nutrition-estimation",
		"calendar_sync",
		"q.v2",
	}

	for _, name := range validNames {
		assert.NoError(t, ValidateQueueName(name), "Expected %q to be valid", name)
	}
}

func TestValidateQueueName_Invalid(t *testing.T) {
	assert.ErrorIs(t, ValidateQueueName(""), core.ErrInvalidQueueName)
	assert.ErrorIs(t, ValidateQueueName("1queue"), core.ErrInvalidQueueName)
	assert.ErrorIs(t, ValidateQueueName("queue name"), core.ErrInvalidQueueName)
	assert.ErrorIs(t, ValidateQueueName(strings.Repeat("a", 300)), core.ErrQueueNameTooLong)
}

func TestValidateDedupKey(t *testing.T) {
	valid := []string{
		"",
		"allergy-detect-8d1f1f0e-5d0b-4b8e-9d61-3f1a3b1a2b3c",
		"auto-tag-42",
		"scheduled:cleanup:2026-10-19T03:00:00Z",
	}
	for _, key := range valid {
		assert.NoError(t, ValidateDedupKey(key), "Expected %q to be valid", key)
	}

	assert.ErrorIs(t, ValidateDedupKey("-leading"), core.ErrInvalidDedupKey)
	assert.ErrorIs(t, ValidateDedupKey("has space"), core.ErrInvalidDedupKey)
	assert.ErrorIs(t, ValidateDedupKey(strings.Repeat("k", 256)), core.ErrDedupKeyTooLong)
}

func TestSanitizeErrorMessage(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, "", SanitizeErrorMessage(""))
	})

	t.Run("control characters removed", func(t *testing.T) {
		assert.Equal(t, "bad\nthing", SanitizeErrorMessage("bad\x00\nthing\x07"))
	})

	t.Run("truncated", func(t *testing.T) {
		long := strings.Repeat("x", MaxErrorMessageLength+100)
		result := SanitizeErrorMessage(long)
		assert.Equal(t, MaxErrorMessageLength, len([]rune(result)))
		assert.True(t, strings.HasSuffix(result, "..."))
	})

	t.Run("secrets redacted", func(t *testing.T) {
		msg := "request failed: https://api.example.com/v1?key=abc123&x=1 Authorization: Bearer eyJhbGciOi"
		result := SanitizeErrorMessage(msg)
		assert.NotContains(t, result, "abc123")
		assert.NotContains(t, result, "eyJhbGciOi")
		assert.Contains(t, result, "key=[REDACTED]")
	})

	t.Run("provider keys redacted", func(t *testing.T) {
		result := RedactSecrets("invalid x-api-key sk-ant-REDACTED")
		assert.NotContains(t, result, "sk-ant-api03")
	})
}

func TestClampAttempts(t *testing.T) {
	assert.Equal(t, 1, ClampAttempts(0))
	assert.Equal(t, 1, ClampAttempts(-3))
	assert.Equal(t, 3, ClampAttempts(3))
	assert.Equal(t, MaxAttempts, ClampAttempts(1000))
}

func TestClampConcurrency(t *testing.T) {
	assert.Equal(t, 1, ClampConcurrency(0))
	assert.Equal(t, 2, ClampConcurrency(2))
	assert.Equal(t, MaxConcurrency, ClampConcurrency(10000))
}
