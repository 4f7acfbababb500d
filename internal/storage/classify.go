package storage

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/aws/smithy-go"
)

// StatusError is an HTTP response failure carrying the status code.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return "unexpected HTTP status: " + e.Status
	}
	return "unexpected HTTP status: " + http.StatusText(e.StatusCode)
}

// HTTPStatusCode returns the response status code.
func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// httpStatusError matches *StatusError and the AWS SDK response errors.
type httpStatusError interface {
	HTTPStatusCode() int
}

var retryableCodes = map[string]bool{
	"RequestTimeout":           true,
	"RequestTimeoutException":  true,
	"SlowDown":                 true,
	"ServiceUnavailable":       true,
	"InternalError":            true,
	"Throttling":               true,
	"ThrottlingException":      true,
	"RequestLimitExceeded":     true,
	"TooManyRequestsException": true,
}

var nonRetryableCodes = map[string]bool{
	"AccessDenied":          true,
	"AllAccessDisabled":     true,
	"AccountProblem":        true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"ExpiredToken":          true,
	"InvalidToken":          true,
	"NoSuchBucket":          true,
	"NoSuchKey":             true,
	"InvalidBucketName":     true,
	"EntityTooLarge":        true,
}

// Checked in order; non-retryable keywords win over retryable ones.
var nonRetryableKeywords = []string{
	"access denied",
	"accessdenied",
	"forbidden",
	"unauthorized",
	"permission",
	"invalid access key",
	"signature",
	"credential",
	"no such key",
	"nosuchkey",
	"no such bucket",
	"nosuchbucket",
}

var retryableKeywords = []string{
	"timeout",
	"timed out",
	"socket",
	"network",
	"connection reset",
	"connection refused",
	"broken pipe",
	"temporarily unavailable",
	"unexpected eof",
	"throttl",
	"slow down",
}

// IsRetryable reports whether err is a transient failure worth retrying.
// Unknown errors are not retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if nonRetryableCodes[code] {
			return false
		}
		if retryableCodes[code] {
			return true
		}
	}

	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		if retry, ok := classifyStatus(statusErr.HTTPStatusCode()); ok {
			return retry
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, kw := range nonRetryableKeywords {
		if strings.Contains(msg, kw) {
			return false
		}
	}
	for _, kw := range retryableKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// classifyStatus returns (retryable, known).
func classifyStatus(code int) (bool, bool) {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true, true
	case code >= 500:
		return true, true
	case code >= 400:
		return false, true
	default:
		return false, false
	}
}
