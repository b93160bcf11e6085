package generation

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorKind names one failure class of a generation attempt.
type ErrorKind string

const (
	KindConfig              ErrorKind = "config_error"
	KindInvalidRequest      ErrorKind = "invalid_request"
	KindInProgress          ErrorKind = "in_progress"
	KindInsufficientCredits ErrorKind = "insufficient_credits"
	KindSubmission          ErrorKind = "submission_error"
	KindNetwork             ErrorKind = "network_error"
	KindHTTP                ErrorKind = "http_error"
	KindOperationNotFound   ErrorKind = "operation_not_found"
	KindRemoteFailed        ErrorKind = "remote_generation_failed"
	KindTimeout             ErrorKind = "timeout"
	KindUnrecognizedResult  ErrorKind = "unrecognized_result_format"
	KindPersistence         ErrorKind = "persistence_error"
)

// Error is the structured failure returned by every stage of a generation.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int             // HttpError only
	Body       string          // HttpError only
	Detail     json.RawMessage // provider error object for RemoteGenerationFailed
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrConfig              = &Error{Kind: KindConfig}
	ErrInvalidRequest      = &Error{Kind: KindInvalidRequest}
	ErrInProgress          = &Error{Kind: KindInProgress}
	ErrInsufficientCredits = &Error{Kind: KindInsufficientCredits}
	ErrSubmission          = &Error{Kind: KindSubmission}
	ErrNetwork             = &Error{Kind: KindNetwork}
	ErrHTTP                = &Error{Kind: KindHTTP}
	ErrOperationNotFound   = &Error{Kind: KindOperationNotFound}
	ErrRemoteFailed        = &Error{Kind: KindRemoteFailed}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrUnrecognizedResult  = &Error{Kind: KindUnrecognizedResult}
	ErrPersistence         = &Error{Kind: KindPersistence}
)

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// HTTPStatus maps a failure kind to the status the API answers with.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindInvalidRequest:
		return http.StatusUnprocessableEntity
	case KindInProgress:
		return http.StatusConflict
	case KindInsufficientCredits:
		return http.StatusPaymentRequired
	case KindSubmission, KindNetwork, KindHTTP, KindOperationNotFound, KindRemoteFailed, KindUnrecognizedResult:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
