package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"
)

func TestClassifyError_Text(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorCode
	}{
		{"Error 429: Too Many Requests", CodeRateLimit},
		{"RESOURCE_EXHAUSTED: quota exceeded for metric", CodeRateLimit},
		{"rate limit reached for requests", CodeRateLimit},
		{"RATE_LIMIT: slow down", CodeRateLimit},
		{"401 Unauthorized", CodeAuthError},
		{"API key not valid. Please pass a valid API key.", CodeAuthError},
		{"request timed out", CodeTimeout},
		{"dial tcp: lookup api.example.com: no such host", CodeNetworkError},
		{"read: connection reset by peer", CodeNetworkError},
		{"json: cannot unmarshal string into Go value", CodeValidationError},
		{"response did not match schema", CodeValidationError},
		{"INVALID_ARGUMENT: request payload too large", CodeInvalidInput},
		{"model overloaded", CodeProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(errors.New(tt.msg)))
		})
	}
}

func TestClassifyError_NumbersOutsideStatusAreIgnored(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorCode
	}{
		{"model overloaded after 401 tokens", CodeProviderError},
		{"recipe 1403 could not be generated", CodeProviderError},
		{"request id 4290ab failed", CodeProviderError},
		{"geofence lookup failed", CodeProviderError},
		{"status 403 forbidden", CodeAuthError},
		{"http 429", CodeRateLimit},
		{"unexpected EOF", CodeNetworkError},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(errors.New(tt.msg)))
		})
	}
}

func TestClassifyError_Types(t *testing.T) {
	assert.Equal(t, ErrorCode(""), ClassifyError(nil))
	assert.Equal(t, CodeTimeout, ClassifyError(context.DeadlineExceeded))
	assert.Equal(t, CodeTimeout, ClassifyError(fmt.Errorf("call: %w", context.Canceled)))
	assert.Equal(t, CodeEmptyResponse, ClassifyError(&Error{Code: CodeEmptyResponse}))

	assert.Equal(t, CodeRateLimit, ClassifyError(genai.APIError{Code: 429, Message: "slow down"}))
	assert.Equal(t, CodeAuthError, ClassifyError(genai.APIError{Code: 403}))
	assert.Equal(t, CodeProviderError, ClassifyError(genai.APIError{Code: 503}))
	assert.Equal(t, CodeInvalidInput, ClassifyError(genai.APIError{Code: 400}))

	assert.Equal(t, CodeAuthError, ClassifyError(&anthropic.Error{StatusCode: 401}))
	assert.Equal(t, CodeTimeout, ClassifyError(&anthropic.Error{StatusCode: 504}))
	assert.Equal(t, CodeRateLimit, ClassifyError(fmt.Errorf("wrapped: %w", &anthropic.Error{StatusCode: 429})))

	v := validator.New()
	err := v.Var("", "required")
	assert.Equal(t, CodeValidationError, ClassifyError(err))
}

func TestClassifyError_Stable(t *testing.T) {
	err := errors.New("429 too many requests")
	first := ClassifyError(err)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ClassifyError(err))
	}
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 12*time.Second, RetryDelay(errors.New("quota exceeded. Please retry in 12s.")))
	assert.Equal(t, 1500*time.Millisecond, RetryDelay(errors.New(`"retryDelay": "1.5s"`)))
	assert.Equal(t, time.Duration(0), RetryDelay(errors.New("429")))
	assert.Equal(t, time.Duration(0), RetryDelay(nil))
}

func TestErrorCode_Transient(t *testing.T) {
	for _, c := range []ErrorCode{CodeRateLimit, CodeNetworkError, CodeTimeout, CodeProviderError} {
		assert.True(t, c.Transient(), c)
	}
	for _, c := range []ErrorCode{CodeAIDisabled, CodeAuthError, CodeInvalidInput, CodeValidationError} {
		assert.False(t, c.Transient(), c)
	}
}
