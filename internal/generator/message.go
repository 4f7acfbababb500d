package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/maauso/mediagen-api/internal/domain"
	"github.com/maauso/mediagen-api/internal/httpx"
)

// PublicMessage renders err for storage in a task's error message. Provider
// response bodies and transport internals are not included.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}

	var unknown *UnknownAdapterError
	if errors.As(err, &unknown) {
		return unknown.Error()
	}
	if errors.Is(err, domain.ErrValidation) {
		return err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "provider request timed out"
	}

	prefix := "provider request failed"
	var de *DispatchError
	if errors.As(err, &de) {
		prefix = fmt.Sprintf("%s %s failed", de.Adapter, de.Op)
	}

	var se *httpx.StatusError
	if errors.As(err, &se) {
		return fmt.Sprintf("%s: HTTP %d %s", prefix, se.StatusCode, http.StatusText(se.StatusCode))
	}
	return prefix
}
