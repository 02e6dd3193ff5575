package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SDKError is the base error type for all unified LLM errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError represents an error returned by an LLM provider.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	ErrorCode  string
	Retryable  bool
	RetryAfter *float64
	Raw        string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Concrete provider error types.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }
type QuotaExceededError struct{ ProviderError }

// Non-provider errors.

type RequestTimeoutError struct{ SDKError }
type AbortError struct{ SDKError }
type NetworkError struct{ SDKError }
type StreamErrorType struct{ SDKError }
type ConfigurationError struct{ SDKError }

// NewConfigurationError builds a ConfigurationError with a formatted message.
func NewConfigurationError(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{SDKError: SDKError{Message: fmt.Sprintf(format, args...)}}
}

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
// Vendor error codes refine 429 into quota exhaustion when they say so.
func ErrorFromStatusCode(statusCode int, message, provider, errorCode string, retryAfter *float64) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		RetryAfter: retryAfter,
	}

	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{ProviderError: pe}
	case 401:
		return &AuthenticationError{ProviderError: pe}
	case 402:
		return &QuotaExceededError{ProviderError: pe}
	case 403:
		return &AccessDeniedError{ProviderError: pe}
	case 404:
		return &NotFoundError{ProviderError: pe}
	case 408:
		return &RequestTimeoutError{SDKError: SDKError{Message: message}}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 429:
		if isQuotaMessage(errorCode) || isQuotaMessage(message) {
			return &QuotaExceededError{ProviderError: pe}
		}
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504, 529:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		// Unknown errors default to retryable.
		pe.Retryable = true
		return &pe
	}
}

func isQuotaMessage(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "insufficient_quota") ||
		strings.Contains(s, "quota") ||
		strings.Contains(s, "billing") ||
		strings.Contains(s, "payment") ||
		strings.Contains(s, "credit balance")
}

// classifyMessage converts an untyped backend error into the unified error
// hierarchy by inspecting its message.
func classifyMessage(provider string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	pe := ProviderError{SDKError: SDKError{Message: msg, Cause: err}, Provider: provider}

	switch {
	case isQuotaMessage(lower) || strings.Contains(lower, "402"):
		pe.StatusCode = 402
		return &QuotaExceededError{ProviderError: pe}
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "resource_exhausted") || strings.Contains(lower, "too many requests"):
		pe.StatusCode = 429
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid key") || strings.Contains(lower, "invalid api key") || strings.Contains(lower, "api key not valid") || strings.Contains(lower, "unauthenticated"):
		pe.StatusCode = 401
		return &AuthenticationError{ProviderError: pe}
	case strings.Contains(lower, "403") || strings.Contains(lower, "forbidden") || strings.Contains(lower, "permission_denied"):
		pe.StatusCode = 403
		return &AccessDeniedError{ProviderError: pe}
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found"):
		pe.StatusCode = 404
		return &NotFoundError{ProviderError: pe}
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens"):
		pe.StatusCode = 413
		return &ContextLengthError{ProviderError: pe}
	case strings.Contains(lower, "500") || strings.Contains(lower, "503") || strings.Contains(lower, "internal server") || strings.Contains(lower, "unavailable"):
		pe.StatusCode = 500
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return &RequestTimeoutError{SDKError: SDKError{Message: msg, Cause: err}}
	case strings.Contains(lower, "content filter") || strings.Contains(lower, "safety"):
		return &ContentFilterError{ProviderError: pe}
	default:
		pe.Retryable = true
		return &pe
	}
}

// ContextError classifies an error caused by a context: an expired
// deadline is a RequestTimeoutError, a cancellation an AbortError. Other
// errors, and errors already classified, are returned unchanged.
func ContextError(err error) error {
	var (
		te *RequestTimeoutError
		ab *AbortError
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		if errors.As(err, &te) {
			return err
		}
		return &RequestTimeoutError{SDKError: SDKError{Message: "request timed out", Cause: err}}
	case errors.Is(err, context.Canceled):
		if errors.As(err, &ab) {
			return err
		}
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: err}}
	}
	return err
}

// IsRetryable returns true if the error is safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		rl  *RateLimitError
		se  *ServerError
		ne  *NetworkError
		st  *StreamErrorType
		te  *RequestTimeoutError
		pe  *ProviderError
		ae  *AuthenticationError
		ade *AccessDeniedError
		nfe *NotFoundError
		ire *InvalidRequestError
		cle *ContextLengthError
		qe  *QuotaExceededError
		cfe *ContentFilterError
		ce  *ConfigurationError
		ab  *AbortError
	)
	switch {
	case errors.As(err, &ae), errors.As(err, &ade), errors.As(err, &nfe),
		errors.As(err, &ire), errors.As(err, &cle), errors.As(err, &qe),
		errors.As(err, &cfe), errors.As(err, &ce), errors.As(err, &ab):
		return false
	case errors.As(err, &rl), errors.As(err, &se), errors.As(err, &ne), errors.As(err, &st), errors.As(err, &te):
		return true
	case errors.As(err, &pe):
		return pe.Retryable
	default:
		// Unknown errors default to retryable.
		return true
	}
}

// IsRateLimit reports whether err is a rate limit rejection.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsQuota reports whether err is a quota or payment rejection.
func IsQuota(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// ErrorKind returns a stable label for err, used in events, logs and
// persisted LLM call records.
func ErrorKind(err error) string {
	var (
		ae *AuthenticationError
		ce *ConfigurationError
		te *RequestTimeoutError
		ab *AbortError
	)
	switch {
	case err == nil:
		return ""
	case IsRateLimit(err):
		return "rate_limit"
	case IsQuota(err):
		return "quota"
	case errors.As(err, &ae):
		return "auth"
	case errors.As(err, &ce):
		return "config"
	case errors.As(err, &te):
		return "timeout"
	case errors.As(err, &ab):
		return "aborted"
	default:
		return "provider"
	}
}
