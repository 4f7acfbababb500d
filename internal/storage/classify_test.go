package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", fmt.Errorf("put: %w", context.DeadlineExceeded), true},
		{"HTTP 408", &StatusError{StatusCode: 408}, true},
		{"HTTP 429", &StatusError{StatusCode: 429}, true},
		{"HTTP 500", &StatusError{StatusCode: 500}, true},
		{"HTTP 503 wrapped", fmt.Errorf("upload to S3: %w", &StatusError{StatusCode: 503}), true},
		{"HTTP 401", &StatusError{StatusCode: 401}, false},
		{"HTTP 403", &StatusError{StatusCode: 403}, false},
		{"HTTP 404", &StatusError{StatusCode: 404}, false},
		{"S3 AccessDenied", &smithy.GenericAPIError{Code: "AccessDenied", Message: "Access Denied"}, false},
		{"S3 NoSuchBucket", &smithy.GenericAPIError{Code: "NoSuchBucket"}, false},
		{"S3 SlowDown", &smithy.GenericAPIError{Code: "SlowDown"}, true},
		{"S3 RequestTimeout", &smithy.GenericAPIError{Code: "RequestTimeout"}, true},
		{"DNS failure", &net.DNSError{Err: "no such host", Name: "bucket.example"}, true},
		{"connection reset", &net.OpError{Op: "write", Net: "tcp", Err: syscall.ECONNRESET}, true},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"unexpected EOF", io.ErrUnexpectedEOF, true},
		{"socket keyword", errors.New("socket hang up"), true},
		{"network keyword", errors.New("Network is unreachable"), true},
		{"timeout keyword", errors.New("operation Timeout"), true},
		{"no such key keyword", errors.New("The specified key does not exist: no such key"), false},
		{"permission keyword beats timeout", errors.New("permission denied after timeout"), false},
		{"unknown error", errors.New("something odd"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
			// Classification is a pure function of the error.
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestStatusError(t *testing.T) {
	err := &StatusError{StatusCode: 502}
	assert.Equal(t, "unexpected HTTP status: Bad Gateway", err.Error())

	err = &StatusError{StatusCode: 502, Status: "502 Bad Gateway"}
	assert.Equal(t, "unexpected HTTP status: 502 Bad Gateway", err.Error())
}
