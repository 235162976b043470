package llm

import "fmt"

// SDKError is the base error type for all model-capability errors.
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

// ProviderError represents an error returned by a model provider.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	ErrorCode  string
	Retryable  bool

	// RetryAfter is an explicit provider-supplied wait hint in seconds,
	// typically from a Retry-After header on rate limit responses.
	RetryAfter *float64
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
type QuotaExceededError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }

// Non-provider errors.

type RequestTimeoutError struct{ SDKError }
type AbortError struct{ SDKError }
type NetworkError struct{ SDKError }
type StreamFailure struct{ SDKError }
type ConfigurationError struct{ SDKError }

// ErrorCategory is the classification the retry engine operates on.
type ErrorCategory string

const (
	// CategoryTransient covers network failures and request timeouts.
	CategoryTransient ErrorCategory = "transient"

	// CategoryRateLimitWait is a rate limit carrying an explicit wait hint.
	CategoryRateLimitWait ErrorCategory = "rate_limit_wait"

	// CategoryRateLimit is a rate limit with no hint (backoff applies).
	CategoryRateLimit ErrorCategory = "rate_limit"

	// CategoryQuota is a terminal rate limit: the quota is spent and
	// waiting will not help.
	CategoryQuota ErrorCategory = "quota"

	// CategoryClient covers malformed or rejected requests (4xx).
	CategoryClient ErrorCategory = "client"

	// CategoryAuth covers authentication and authorization failures.
	CategoryAuth ErrorCategory = "auth"

	// CategoryContextLength means the prompt exceeded the model window.
	CategoryContextLength ErrorCategory = "context_length"

	// CategoryServer covers provider-side failures (5xx).
	CategoryServer ErrorCategory = "server"

	// CategoryUnknown is everything else.
	CategoryUnknown ErrorCategory = "unknown"
)

// Retryable reports whether the category is worth retrying at all.
func (c ErrorCategory) Retryable() bool {
	switch c {
	case CategoryTransient, CategoryRateLimitWait, CategoryRateLimit, CategoryServer, CategoryUnknown:
		return true
	default:
		return false
	}
}

// Classify maps an error to its retry category.
func Classify(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}
	switch e := err.(type) {
	case *AuthenticationError, *AccessDeniedError:
		return CategoryAuth
	case *InvalidRequestError, *NotFoundError, *ContentFilterError:
		return CategoryClient
	case *ContextLengthError:
		return CategoryContextLength
	case *QuotaExceededError:
		return CategoryQuota
	case *RateLimitError:
		if e.RetryAfter != nil {
			return CategoryRateLimitWait
		}
		return CategoryRateLimit
	case *ServerError:
		return CategoryServer
	case *NetworkError, *StreamFailure, *RequestTimeoutError:
		return CategoryTransient
	case *ConfigurationError, *AbortError:
		return CategoryClient
	case *ProviderError:
		if e.Retryable {
			return CategoryServer
		}
		return CategoryClient
	default:
		return CategoryUnknown
	}
}

// IsRetryable reports whether the error is safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).Retryable()
}

// RetryAfterHint extracts an explicit provider wait hint in seconds, if any.
func RetryAfterHint(err error) (float64, bool) {
	switch e := err.(type) {
	case *RateLimitError:
		if e.RetryAfter != nil {
			return *e.RetryAfter, true
		}
	case *ProviderError:
		if e.RetryAfter != nil {
			return *e.RetryAfter, true
		}
	}
	return 0, false
}

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
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
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		// Unknown status codes default to retryable.
		pe.Retryable = true
		return &pe
	}
}
