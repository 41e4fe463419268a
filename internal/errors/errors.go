// internal/errors/errors.go - Kind-tagged errors and failure classification
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"syscall"

	"github.com/valpere/MediaScrapexter/pkg/types"
)

// Error is an error tagged with an ErrorKind
type Error struct {
	Kind       types.ErrorKind
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a kind-tagged error with a formatted message
func New(kind types.ErrorKind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind types.ErrorKind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// HTTPStatus returns a kind-tagged error for a non-2xx response
func HTTPStatus(statusCode int, rawURL string) error {
	return &Error{
		Kind:       KindForStatus(statusCode),
		Message:    fmt.Sprintf("HTTP %d %s (URL: %s)", statusCode, http.StatusText(statusCode), rawURL),
		StatusCode: statusCode,
	}
}

// KindForStatus maps an HTTP status code onto the error taxonomy
func KindForStatus(statusCode int) types.ErrorKind {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusProxyAuthRequired:
		return types.ErrAuthRequired
	case statusCode == http.StatusForbidden:
		return types.ErrForbidden
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return types.ErrNotFound
	case statusCode == http.StatusTooManyRequests:
		return types.ErrRateLimited
	case statusCode >= 500:
		return types.ErrUpstream5xx
	case statusCode >= 400:
		return types.ErrUpstream4xx
	default:
		return types.ErrParse
	}
}

// KindOf classifies err. A nil error has no kind.
func KindOf(err error) types.ErrorKind {
	if err == nil {
		return ""
	}

	var tagged *Error
	if stderrors.As(err, &tagged) {
		return tagged.Kind
	}

	if stderrors.Is(err, context.Canceled) {
		return types.ErrCancelled
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return types.ErrTimeout
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return types.ErrTimeout
	}

	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) || stderrors.Is(err, exec.ErrNotFound) {
		return types.ErrExtractorFailed
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &syntaxErr) || stderrors.As(err, &typeErr) {
		return types.ErrParse
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	var urlErr *url.Error
	switch {
	case stderrors.As(err, &opErr), stderrors.As(err, &dnsErr), stderrors.As(err, &urlErr):
		return types.ErrNetwork
	case stderrors.Is(err, io.ErrUnexpectedEOF), stderrors.Is(err, syscall.ECONNRESET),
		stderrors.Is(err, syscall.ECONNREFUSED), stderrors.Is(err, syscall.EPIPE):
		return types.ErrNetwork
	}

	return types.ErrParse
}

// Is reports whether err classifies as kind
func Is(err error, kind types.ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
