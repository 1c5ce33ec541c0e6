package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// HTTPError is returned when the server answered with an unexpected HTTP
// status. Transport-level failures (timeouts, connection errors) are never
// wrapped in HTTPError.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected HTTP status: %s", e.Status)
}

// errorFromResponse drains the body and builds an *HTTPError for resp.
func errorFromResponse(resp *http.Response) error {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 8192))
	return &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
}

// StatusCode extracts the HTTP status code from an error chain, or 0 if the
// error is not an HTTP-level failure.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// IsClientError reports whether err is an HTTP error in the 4xx class.
func IsClientError(err error) bool {
	code := StatusCode(err)
	return code >= 400 && code <= 499
}

// IsDefinitiveAbsence reports whether err indicates the resource no longer
// exists or is permanently inaccessible (403, 404 or 410).
func IsDefinitiveAbsence(err error) bool {
	switch StatusCode(err) {
	case http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return true
	}
	return false
}

// IsNotFound reports whether err is an HTTP 404 or 410.
func IsNotFound(err error) bool {
	code := StatusCode(err)
	return code == http.StatusNotFound || code == http.StatusGone
}

// IsPreconditionFailed reports whether err is an HTTP 412, the answer to a
// failed If-Match/If-None-Match upload precondition.
func IsPreconditionFailed(err error) bool {
	return StatusCode(err) == http.StatusPreconditionFailed
}
