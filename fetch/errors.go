package fetch

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

func (e ErrTimeout) Error() string { return fmt.Sprintf("timeout: %v", e.Err) }
func (e ErrTimeout) Unwrap() error { return e.Err }

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string { return fmt.Sprintf("connection: %v", e.Err) }
func (e ErrConnection) Unwrap() error { return e.Err }

// ErrForbidden indicates a forbidden response (HTTP 403), usually a blocked session.
type ErrForbidden struct {
	Err error
}

func (e ErrForbidden) Error() string { return fmt.Sprintf("forbidden: %v", e.Err) }
func (e ErrForbidden) Unwrap() error { return e.Err }

// ErrNotFound indicates a missing resource (HTTP 404).
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string { return fmt.Sprintf("not_found: %v", e.Err) }
func (e ErrNotFound) Unwrap() error { return e.Err }

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string { return fmt.Sprintf("rate_limited: %v", e.Err) }
func (e ErrRateLimited) Unwrap() error { return e.Err }

// ErrServer indicates a 5xx response.
type ErrServer struct {
	Err error
}

func (e ErrServer) Error() string { return fmt.Sprintf("server: %v", e.Err) }
func (e ErrServer) Unwrap() error { return e.Err }

// Classify maps a transport error or HTTP status onto the typed errors above.
// It returns nil for a successful status with no error.
func Classify(err error, statusCode int) error {
	if err == nil && statusCode < http.StatusBadRequest {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode >= http.StatusBadRequest {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch {
		case statusCode == http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case statusCode == http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case statusCode == http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case statusCode >= http.StatusInternalServerError:
			return ErrServer{Err: wrapped}
		}
		return wrapped
	}
	return err
}

// ErrorLabel returns the metrics label for a classified error.
func ErrorLabel(err error) string {
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
	var forbidden ErrForbidden
	if errors.As(err, &forbidden) {
		return "forbidden"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var server ErrServer
	if errors.As(err, &server) {
		return "server"
	}
	return "other"
}

// Retryable reports whether a fresh session might succeed where this attempt failed.
func Retryable(err error) bool {
	switch ErrorLabel(err) {
	case "timeout", "connection", "forbidden", "rate_limited", "server":
		return true
	}
	return false
}
