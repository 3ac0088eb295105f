package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError marks a failure that is expected to clear on its own
// (rate limiting, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the upstream status, or 0 for transport failures.
func (e *TransientError) HTTPStatus() int {
	return e.StatusCode
}

// NewTransientError wraps err as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// statusCarrier is implemented by client errors that record an HTTP status.
type statusCarrier interface {
	HTTPStatus() int
}

var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
}

// IsTransient reports whether err is a TransientError, carries a transient
// HTTP status, or looks like a network-level failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var sc statusCarrier
	if errors.As(err, &sc) && sc.HTTPStatus() > 0 {
		return IsTransientHTTPStatus(sc.HTTPStatus())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsUpstreamOutage reports whether err indicates the upstream itself is
// unhealthy: a transient failure or a deadline hit while waiting on it.
func IsUpstreamOutage(err error) bool {
	return IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

// IsTransientHTTPStatus reports whether statusCode indicates a server-side
// or rate-limit condition.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
