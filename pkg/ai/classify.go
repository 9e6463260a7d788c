package ai

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/go-playground/validator/v10"
	"google.golang.org/genai"
)

func asError(err error, target **Error) bool {
	return errors.As(err, target)
}

// ClassifyError maps an error to an ErrorCode from its type and text alone,
// so the mapping is stable across providers and testable without one.
func ClassifyError(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var aiErr *Error
	if errors.As(err, &aiErr) {
		return aiErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeTimeout
	}

	if code, ok := classifyStatus(err); ok {
		return code
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return CodeValidationError
	}
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return CodeValidationError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CodeTimeout
		}
		return CodeNetworkError
	}

	return classifyText(err.Error())
}

// classifyStatus handles the SDKs' typed HTTP errors.
func classifyStatus(err error) (ErrorCode, bool) {
	status := 0
	var claudeErr *anthropic.Error
	var geminiErr genai.APIError
	switch {
	case errors.As(err, &claudeErr):
		status = claudeErr.StatusCode
	case errors.As(err, &geminiErr):
		status = geminiErr.Code
	default:
		return "", false
	}

	switch {
	case status == http.StatusTooManyRequests:
		return CodeRateLimit, true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CodeAuthError, true
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return CodeTimeout, true
	case status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge:
		return CodeInvalidInput, true
	case status >= 500:
		return CodeProviderError, true
	}
	return "", false
}

// statusIn matches an HTTP status only where one is reported: at the start
// of the message or right after "error", "status", "code" or "http".
func statusIn(codes string) string {
	return `(?:^|\b(?:error|status|code|http)\b[\s:=]*)(?:` + codes + `)\b`
}

var textRules = []struct {
	code    ErrorCode
	pattern *regexp.Regexp
}{
	{CodeRateLimit, regexp.MustCompile(`rate[ _]?limit|too many requests|resource_exhausted|\bquota\b|` + statusIn("429"))},
	{CodeAuthError, regexp.MustCompile(`unauthorized|invalid api key|api key not valid|permission denied|authentication|` + statusIn("401|403"))},
	{CodeTimeout, regexp.MustCompile(`timeout|timed out|deadline exceeded`)},
	{CodeNetworkError, regexp.MustCompile(`connection refused|connection reset|no such host|\bnetwork\b|econnrefused|enotfound|\beof\b|tls handshake`)},
	{CodeValidationError, regexp.MustCompile(`validation|schema|unmarshal|invalid character|\bparse`)},
	{CodeInvalidInput, regexp.MustCompile(`invalid argument|invalid_argument|invalid input|too large|unsupported mime`)},
}

func classifyText(msg string) ErrorCode {
	lower := strings.ToLower(msg)
	for _, rule := range textRules {
		if rule.pattern.MatchString(lower) {
			return rule.code
		}
	}
	return CodeProviderError
}

var retryDelayRegex = regexp.MustCompile(`(?i)(?:retry in |retrydelay[":\s]+|retry-after[:\s]+)(\d+(?:\.\d+)?)\s*s`)

// RetryDelay extracts a provider-suggested wait from a rate-limit error,
// returning 0 when none is present.
func RetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}
	var claudeErr *anthropic.Error
	if errors.As(err, &claudeErr) && claudeErr.Response != nil {
		if secs, convErr := strconv.Atoi(claudeErr.Response.Header.Get("Retry-After")); convErr == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	m := retryDelayRegex.FindStringSubmatch(err.Error())
	if len(m) < 2 {
		return 0
	}
	secs, parseErr := strconv.ParseFloat(m[1], 64)
	if parseErr != nil {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
