package biz

import (
	"context"
	"errors"
	"strings"

	"PromptGate/internal/model"
)

// ErrorCategory is a coarse classification of an upstream failure used to
// decide whether it should affect circuit health.
type ErrorCategory string

const (
	CategoryTransient     ErrorCategory = "transient"
	CategoryRateLimit     ErrorCategory = "rate_limit"
	CategoryAuthError     ErrorCategory = "auth_error"
	CategoryQuotaExceeded ErrorCategory = "quota_exceeded"
	CategoryServiceError  ErrorCategory = "service_error"
	CategoryValidation    ErrorCategory = "validation_error"
	CategoryPermanent     ErrorCategory = "permanent"
	CategoryUnknown       ErrorCategory = "unknown"
)

// CategorizeError classifies an error by its message text and, when available,
// the HTTP status carried by a model.UpstreamError. The function is pure and
// deterministic; it never inspects circuit state.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}

	message := strings.ToLower(err.Error())

	// Network and connection errors are transient regardless of status
	if containsAny(message,
		"timeout", "deadline exceeded",
		"connection reset", "connection refused",
		"no such host", "dns", "broken pipe", "eof") {
		return CategoryTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	// HTTP status code based categorization
	var upstream *model.UpstreamError
	if errors.As(err, &upstream) && upstream.StatusCode > 0 {
		status := upstream.StatusCode
		switch {
		case status == 429:
			return CategoryRateLimit
		case status == 401 || status == 403:
			return CategoryAuthError
		case status == 402 || status == 413:
			return CategoryQuotaExceeded
		case status >= 500 && status < 600:
			return CategoryServiceError
		case status >= 400 && status < 500:
			return CategoryValidation
		}
	}

	// AI-specific error patterns
	if containsAny(message, "rate limit", "quota exceeded", "too many requests") {
		return CategoryRateLimit
	}
	if containsAny(message, "authentication", "unauthorized", "invalid api key") {
		return CategoryAuthError
	}
	if containsAny(message, "service unavailable", "overloaded") {
		return CategoryServiceError
	}
	if containsAny(message, "invalid request", "bad request") {
		return CategoryValidation
	}

	return CategoryUnknown
}

// ShouldCountAsFailure reports whether a failure of the given category moves
// the circuit toward open. Validation and auth failures indicate a bad
// request, not a sick upstream, so they are surfaced but never counted.
func ShouldCountAsFailure(category ErrorCategory) bool {
	return category != CategoryValidation && category != CategoryAuthError
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
