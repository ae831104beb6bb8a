package httputil

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// Permanent reports whether retrying the request cannot help. Every 4xx
// except 429 is permanent; 429 and server errors are transient.
func (e *StatusError) Permanent() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}

// MalformedBodyError is a 2xx response whose body is not valid JSON.
type MalformedBodyError struct {
	Size int
}

func (e *MalformedBodyError) Error() string {
	return fmt.Sprintf("malformed JSON body (%d bytes)", e.Size)
}

// FetchError is returned once a request has used up its attempts or hit a
// permanent failure.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("GET %s failed after %d attempts: %v", ShortURL(e.URL), e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsPermanent reports whether err carries a non-retryable HTTP status.
func IsPermanent(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Permanent()
}

// Retryable is the predicate used by RetryClient: everything except a
// permanent status is worth another attempt.
func Retryable(err error) bool {
	return !IsPermanent(err)
}

// ShortURL truncates long URLs for log lines.
func ShortURL(u string) string {
	const n = 100
	if len(u) <= n {
		return u
	}
	return u[:n] + "…"
}

func failureReason(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		return fmt.Sprintf("status_%d", se.Code)
	}
	var mb *MalformedBodyError
	if errors.As(err, &mb) {
		return "malformed_body"
	}
	return "transport"
}
