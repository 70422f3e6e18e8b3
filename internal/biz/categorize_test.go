package biz

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"PromptGate/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestCategorizeError_StatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   ErrorCategory
	}{
		{"rate limited", 429, CategoryRateLimit},
		{"unauthorized", 401, CategoryAuthError},
		{"forbidden", 403, CategoryAuthError},
		{"payment required", 402, CategoryQuotaExceeded},
		{"payload too large", 413, CategoryQuotaExceeded},
		{"internal error", 500, CategoryServiceError},
		{"bad gateway", 502, CategoryServiceError},
		{"gateway timeout body", 504, CategoryServiceError},
		{"bad request", 400, CategoryValidation},
		{"not found", 404, CategoryValidation},
		{"unprocessable", 422, CategoryValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &model.UpstreamError{StatusCode: tt.status, Message: "upstream failure"}
			assert.Equal(t, tt.want, CategorizeError(err))
		})
	}
}

func TestCategorizeError_MessagePatterns(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    ErrorCategory
	}{
		{"connection refused", "dial tcp 10.0.0.1:443: connection refused", CategoryTransient},
		{"connection reset", "read: connection reset by peer", CategoryTransient},
		{"dns failure", "lookup api.cursor.sh: no such host", CategoryTransient},
		{"timeout text", "request timeout", CategoryTransient},
		{"deadline", "context deadline exceeded", CategoryTransient},
		{"rate limit text", "rate limit exceeded, retry later", CategoryRateLimit},
		{"quota text", "monthly quota exceeded", CategoryRateLimit},
		{"auth text", "authentication failed", CategoryAuthError},
		{"invalid key", "invalid API key provided", CategoryAuthError},
		{"overloaded", "model is overloaded", CategoryServiceError},
		{"validation text", "invalid request: missing messages", CategoryValidation},
		{"unknown", "something inexplicable happened", CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CategorizeError(errors.New(tt.message)))
		})
	}
}

func TestCategorizeError_TransientBeatsStatus(t *testing.T) {
	// A connection-level message wins even when a status code is attached
	err := &model.UpstreamError{StatusCode: 400, Message: "connection reset by peer"}
	assert.Equal(t, CategoryTransient, CategorizeError(err))
}

func TestCategorizeError_WrappedUpstreamError(t *testing.T) {
	err := fmt.Errorf("completion request failed: %w",
		&model.UpstreamError{StatusCode: 429, Message: "slow down"})
	assert.Equal(t, CategoryRateLimit, CategorizeError(err))
}

func TestCategorizeError_DeadlineExceeded(t *testing.T) {
	assert.Equal(t, CategoryTransient, CategorizeError(context.DeadlineExceeded))
}

func TestCategorizeError_Nil(t *testing.T) {
	assert.Equal(t, CategoryUnknown, CategorizeError(nil))
}

func TestShouldCountAsFailure(t *testing.T) {
	assert.True(t, ShouldCountAsFailure(CategoryTransient))
	assert.True(t, ShouldCountAsFailure(CategoryRateLimit))
	assert.True(t, ShouldCountAsFailure(CategoryQuotaExceeded))
	assert.True(t, ShouldCountAsFailure(CategoryServiceError))
	assert.True(t, ShouldCountAsFailure(CategoryUnknown))

	// Bad requests and bad credentials say nothing about upstream health
	assert.False(t, ShouldCountAsFailure(CategoryValidation))
	assert.False(t, ShouldCountAsFailure(CategoryAuthError))
}
