// Package catalog implements the resilient client for remote STAC catalogs:
// error classification, the retrying request executor, and search/lookup
// operations.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// ErrorKind is the closed taxonomy every transport failure maps onto.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTimeout
	KindConnectionFailed
	KindRemoteServerError
	KindThrottled
	KindClientError
	KindValidationError
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnectionFailed:
		return "connection_failed"
	case KindRemoteServerError:
		return "remote_server_error"
	case KindThrottled:
		return "throttled"
	case KindClientError:
		return "client_error"
	case KindValidationError:
		return "validation_error"
	default:
		return "unknown"
	}
}

// Retriable reports whether the kind is retried by the default policy.
func (k ErrorKind) Retriable() bool {
	switch k {
	case KindTimeout, KindConnectionFailed, KindRemoteServerError, KindThrottled:
		return true
	default:
		return false
	}
}

// Error is the terminal failure surfaced by catalog operations.
type Error struct {
	Op       string
	Kind     ErrorKind
	Status   int
	Attempts int
	Elapsed  time.Duration
	// RetryAfter is the server-suggested wait for throttled responses,
	// already capped.
	RetryAfter time.Duration
	Hint       string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (http %d)", e.Status)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts in %s", e.Attempts, e.Elapsed.Round(time.Millisecond))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the classified kind from any error chain.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// NewValidationError builds a terminal, never-retried local input error.
func NewValidationError(op, msg string) *Error {
	return &Error{
		Op:       op,
		Kind:     KindValidationError,
		Attempts: 1,
		Err:      errors.New(msg),
	}
}

// Classify maps a transport-level failure (no HTTP response received) to a
// kind. Pure function of the failure signal.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnectionFailed
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnectionFailed
	}
	var se interface{ Syscall() string }
	if errors.As(err, &se) {
		return KindConnectionFailed
	}
	return KindUnknown
}

// ClassifyStatus maps an HTTP status code to a kind. 501 and 505 signal a
// capability the server will never grow on retry, so they classify with the
// 4xx family.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindThrottled
	case status == http.StatusNotImplemented || status == http.StatusHTTPVersionNotSupported:
		return KindClientError
	case status >= 500:
		return KindRemoteServerError
	case status >= 400:
		return KindClientError
	default:
		return KindUnknown
	}
}

// ParseRetryAfter reads a Retry-After header value (delta-seconds or HTTP
// date) and caps it. Returns 0 when absent or unparseable.
func ParseRetryAfter(v string, cap time.Duration) time.Duration {
	if v == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(v); err == nil {
		d = time.Until(t)
	} else {
		return 0
	}
	if d < 0 {
		return 0
	}
	if cap > 0 && d > cap {
		return cap
	}
	return d
}

// hintFor returns remediation text attached to terminal errors.
func hintFor(kind ErrorKind) string {
	switch kind {
	case KindTimeout:
		return "consider raising REQUEST_TIMEOUT or checking network connectivity"
	case KindConnectionFailed:
		return "check the catalog URL and DNS/proxy settings"
	case KindRemoteServerError:
		return "the catalog is failing upstream; retry later"
	case KindThrottled:
		return "reduce request rate or honor the suggested wait"
	case KindClientError:
		return "the request was rejected; verify collection and item identifiers"
	default:
		return ""
	}
}
