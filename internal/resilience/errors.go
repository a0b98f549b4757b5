package resilience

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// RequestError is one failed remote request. StatusCode is zero when no
// response was received.
type RequestError struct {
	Err        error
	StatusCode int
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// NewRequestError wraps err with the HTTP status of the failed response.
func NewRequestError(err error, statusCode int) *RequestError {
	return &RequestError{Err: err, StatusCode: statusCode}
}

// StatusCode returns the HTTP status carried anywhere in err's chain, or 0.
func StatusCode(err error) int {
	var re *RequestError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

// IsRateLimited reports whether err carries an HTTP 429 status.
func IsRateLimited(err error) bool {
	return StatusCode(err) == http.StatusTooManyRequests
}

// RetryAlways is a ShouldRetry predicate that retries every failure.
func RetryAlways(error) bool { return true }

// IsTransient reports whether err is worth retrying: a request that got no
// response, a 408/429/5xx status, or a network timeout or reset.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var re *RequestError
	if errors.As(err, &re) {
		return re.StatusCode == 0 || IsTransientHTTPStatus(re.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"i/o timeout",
		"client.timeout exceeded",
		"no such host",
		"unexpected eof",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether statusCode is a server-side or
// throttling failure that may succeed on retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
