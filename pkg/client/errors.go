package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Sternrassler/wxm-history/pkg/record"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrAuthExpired matches any 401 response. The bearer token must be refreshed.
	ErrAuthExpired = errors.New("bearer token expired or rejected")
)

// ErrorClass represents a classification of request errors.
type ErrorClass string

const (
	// ErrorClassAuth represents 401 responses.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassClient represents other 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 responses and local rate limit blocks.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassMalformed represents 2xx responses whose body is not a history page.
	ErrorClassMalformed ErrorClass = "malformed"
)

// APIError is a failed request against the station API.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error

	// RetryAfter is the upstream's requested pause, zero when unknown.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wxm %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("wxm %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is makes every auth-class APIError match ErrAuthExpired.
func (e *APIError) Is(target error) bool {
	return target == ErrAuthExpired && e.ErrorClass == ErrorClassAuth
}

// classifyStatus maps an HTTP status code to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 401:
		return ErrorClassAuth
	case status == 429:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// ClassOf returns the error class of err, or "" if it is not a request error.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	if errors.Is(err, record.ErrMalformedResponse) {
		return ErrorClassMalformed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassNetwork
	}
	return ""
}

// retryAfterOf returns the pause requested by a rate limit error.
func retryAfterOf(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

// IsTransient reports whether err is worth retrying with backoff.
func IsTransient(err error) bool {
	return shouldRetry(ClassOf(err))
}

// IsAuthExpired reports whether err is a 401 from the API.
func IsAuthExpired(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		// 401 is handled by token refresh, other 4xx will not change on retry
		return false
	}
}
