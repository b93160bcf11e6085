package veo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"
)

var (
	// ErrMissingOperationName is returned when a 2xx submit response has no handle
	ErrMissingOperationName = errors.New("veo: response carries no operation name")

	// ErrMalformedResponse is returned when a 2xx body is not valid JSON
	ErrMalformedResponse = errors.New("veo: malformed response body")
)

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("veo http error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 StatusError.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

type RequestErrorKind string

const (
	KindTimeout RequestErrorKind = "timeout"
	KindNetwork RequestErrorKind = "network error"
	KindRequest RequestErrorKind = "request error"
)

// RequestError is a transport-level failure: the request never produced a response.
type RequestError struct {
	Kind RequestErrorKind
	Err  error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("veo %s: %v", e.Kind, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

func classifyRequestError(ctx context.Context, err error) error {
	if isTimeoutError(ctx, err) {
		return &RequestError{Kind: KindTimeout, Err: err}
	}
	if isNetworkError(err) {
		return &RequestError{Kind: KindNetwork, Err: err}
	}
	return &RequestError{Kind: KindRequest, Err: err}
}

func isTimeoutError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}

	return false
}
