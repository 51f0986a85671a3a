package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrAuthExpired indicates the provider rejected the session (HTTP 401/403).
type ErrAuthExpired struct {
	Status int
	Err    error
}

func (e ErrAuthExpired) Error() string {
	return fmt.Errorf("auth_expired (%d): %w", e.Status, e.Err).Error()
}

func (e ErrAuthExpired) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the provider throttled the request (HTTP 429).
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrUnexpectedStatus is any other non-200 response.
type ErrUnexpectedStatus struct {
	Status int
	Err    error
}

func (e ErrUnexpectedStatus) Error() string {
	return fmt.Errorf("status %d: %w", e.Status, e.Err).Error()
}

func (e ErrUnexpectedStatus) Unwrap() error {
	return e.Err
}

// ErrMalformed indicates a response that could not be decoded into a page.
type ErrMalformed struct {
	Err error
}

func (e ErrMalformed) Error() string {
	return fmt.Errorf("malformed: %w", e.Err).Error()
}

func (e ErrMalformed) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err is a throttling response.
func IsRateLimited(err error) bool {
	var rl ErrRateLimited
	return errors.As(err, &rl)
}

// IsAuthExpired reports whether err is a session rejection.
func IsAuthExpired(err error) bool {
	var ae ErrAuthExpired
	return errors.As(err, &ae)
}

// IsRetryable reports whether err gets bounded page retries: timeouts,
// connection failures, unexpected statuses and malformed bodies. Anti-bot
// interstitials surface as the last two.
func IsRetryable(err error) bool {
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return true
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return true
	}
	var status ErrUnexpectedStatus
	if errors.As(err, &status) {
		return true
	}
	var malformed ErrMalformed
	return errors.As(err, &malformed)
}

// ErrorTypeLabel maps err onto a metric and ledger reason label.
func ErrorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var auth ErrAuthExpired
	if errors.As(err, &auth) {
		return "auth_expired"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var status ErrUnexpectedStatus
	if errors.As(err, &status) {
		if status.Status >= http.StatusInternalServerError {
			return "server_error"
		}
		return "unexpected_status"
	}
	var malformed ErrMalformed
	if errors.As(err, &malformed) {
		return "malformed"
	}
	return "other"
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if statusCode != 0 && statusCode != http.StatusOK {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrAuthExpired{Status: statusCode, Err: wrapped}
		default:
			return ErrUnexpectedStatus{Status: statusCode, Err: wrapped}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	if err == nil {
		return nil
	}
	// Anything else without a status never reached the provider.
	return ErrConnection{Err: err}
}
