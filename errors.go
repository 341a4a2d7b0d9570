package webfile

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
)

// Error classes. Operations wrap these with %w so callers can match with
// errors.Is regardless of the underlying transport error.
var (
	// ErrConnection covers network-level failures (refused, reset, DNS).
	ErrConnection = errors.New("connection error")
	// ErrTimeout covers requests that exceeded the configured timeout.
	ErrTimeout = errors.New("request timed out")
	// ErrClient covers 4xx responses. Not retried.
	ErrClient = errors.New("client error")
	// ErrServer covers 5xx responses.
	ErrServer = errors.New("server error")
	// ErrSeek is returned for seeks outside the valid range.
	ErrSeek = errors.New("seek error")
	// ErrSizeMismatch indicates a downloaded file did not match the size
	// declared by the server.
	ErrSizeMismatch = errors.New("downloaded size mismatch")
	// ErrStalePart indicates a partial download no longer matched the
	// remote resource and was removed. The operation can be retried from
	// scratch.
	ErrStalePart = errors.New("stale partial download removed")
	// ErrTool indicates an external tool (ffmpeg) failed.
	ErrTool = errors.New("external tool failed")
)

// ErrRangeNotSupported is a seek error raised when the server does not
// advertise byte-range support, making any reposition impossible.
var ErrRangeNotSupported = fmt.Errorf("%w: server does not support range requests", ErrSeek)

// StatusError is an unexpected HTTP response status. It unwraps to
// ErrClient or ErrServer depending on the status class.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "unexpected response status: " + e.Status
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.Code >= 400 && e.Code < 500:
		return ErrClient
	case e.Code >= 500:
		return ErrServer
	default:
		return nil
	}
}

// statusError converts a non-2xx response into a *StatusError.
func statusError(resp *http.Response) error {
	return &StatusError{Code: resp.StatusCode, Status: resp.Status}
}

// transportError classifies an error returned by the HTTP client or while
// reading a response body into ErrTimeout or ErrConnection.
func transportError(err error) error {
	if err == nil {
		return nil
	}
	// already classified, e.g. by timeoutBody
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnection) {
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}

// Retryable reports whether err belongs to one of the transient classes
// that may succeed on a later attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrServer) ||
		errors.Is(err, ErrSizeMismatch) ||
		errors.Is(err, ErrStalePart)
}
