package ai

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jdziat/recipe-enricher/pkg/core"
)

// ErrorCode classifies why a model call did not produce a result.
type ErrorCode string

const (
	CodeAIDisabled      ErrorCode = "AI_DISABLED"
	CodeProviderError   ErrorCode = "PROVIDER_ERROR"
	CodeValidationError ErrorCode = "VALIDATION_ERROR"
	CodeEmptyResponse   ErrorCode = "EMPTY_RESPONSE"
	CodeRateLimit       ErrorCode = "RATE_LIMIT"
	CodeAuthError       ErrorCode = "AUTH_ERROR"
	CodeNetworkError    ErrorCode = "NETWORK_ERROR"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeInvalidInput    ErrorCode = "INVALID_INPUT"
	CodeUnknown         ErrorCode = "UNKNOWN"
)

// Transient reports whether retrying the same call later may succeed.
func (c ErrorCode) Transient() bool {
	switch c {
	case CodeRateLimit, CodeNetworkError, CodeTimeout, CodeProviderError, CodeEmptyResponse, CodeUnknown:
		return true
	}
	return false
}

// TokenUsage reports the tokens a call consumed.
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Result is the outcome of a model call: either Data (Success) or an Error
// message with its Code. Use OK and Fail to build one.
type Result[T any] struct {
	Success bool
	Data    T
	Usage   *TokenUsage
	Error   string
	Code    ErrorCode
	// RetryAfter is the provider's suggested wait on RATE_LIMIT, if it gave one.
	RetryAfter time.Duration
}

// OK builds a successful result.
func OK[T any](data T, usage *TokenUsage) Result[T] {
	return Result[T]{Success: true, Data: data, Usage: usage}
}

// Fail builds a failed result.
func Fail[T any](code ErrorCode, msg string) Result[T] {
	if code == "" {
		code = CodeUnknown
	}
	return Result[T]{Code: code, Error: msg}
}

// Err converts a failed result into an *Error, or nil on success.
func (r Result[T]) Err() error {
	if r.Success {
		return nil
	}
	return &Error{Code: r.Code, Message: r.Error, RetryAfter: r.RetryAfter}
}

type successJSON[T any] struct {
	Success bool        `json:"success"`
	Data    T           `json:"data"`
	Usage   *TokenUsage `json:"usage,omitempty"`
}

type failureJSON struct {
	Success bool      `json:"success"`
	Error   string    `json:"error"`
	Code    ErrorCode `json:"code"`
}

// MarshalJSON emits data on success and error+code on failure, never both.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	if r.Success {
		return json.Marshal(successJSON[T]{Success: true, Data: r.Data, Usage: r.Usage})
	}
	return json.Marshal(failureJSON{Error: r.Error, Code: r.Code})
}

// Error is a failed model call as a Go error.
type Error struct {
	Code       ErrorCode
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("ai: %s: %s", e.Code, e.Message)
}

// JobError maps a model failure onto the queue's retry semantics: permanent
// codes stop retries, rate limits honour the provider's delay, and the rest
// retry with the queue's backoff.
func JobError(err error) error {
	var aiErr *Error
	if !asError(err, &aiErr) {
		return err
	}
	if !aiErr.Code.Transient() {
		return core.NoRetry(err)
	}
	if aiErr.Code == CodeRateLimit && aiErr.RetryAfter > 0 {
		return core.RetryAfter(aiErr.RetryAfter, err)
	}
	return err
}
