package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError marks a failure worth retrying: a throttled or failing FX
// provider, a warehouse connection blip, a busy result sink.
type TransientError struct {
	Err        error
	StatusCode int // HTTP status when the source was an HTTP provider, else 0
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as retryable. statusCode may be 0 for
// non-HTTP sources.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// transientFragments are lower-cased substrings of errors the engine's
// dependencies emit for recoverable conditions: the net/http transport, the
// Postgres warehouse and sink, and the Redis rate cache.
var transientFragments = []string{
	// transport
	"connection reset by peer",
	"broken pipe",
	"i/o timeout",
	"tls handshake timeout",
	"temporary failure in name resolution",
	"no such host",
	"server closed idle connection",
	"transport connection broken",
	// postgres
	"conn busy",
	"sorry, too many clients already",
	"the database system is starting up",
	"connection pool exhausted",
	// redis
	"loading the dataset in memory",
}

// IsTransient reports whether err is safe to retry: an explicit
// TransientError anywhere in the chain, a network timeout, a refused or
// reset connection, or a known recoverable message from one of the engine's
// dependencies.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
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
	for _, f := range transientFragments {
		if strings.Contains(msg, f) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether an HTTP status from the live FX
// provider indicates a retryable server-side condition.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
