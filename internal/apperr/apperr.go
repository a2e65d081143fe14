package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a failure. Validation and permission failures are final
// and never retried; upload and inference failures abort the single
// operation and leave existing state untouched; realtime disconnects are
// absorbed by resubscribing. No code here is process-fatal.
type Code string

const (
	CodeValidation    Code = "validation"
	CodePermission    Code = "permission"
	CodeNotFound      Code = "not_found"
	CodeUpload        Code = "upload"
	CodeTranscription Code = "transcription"
	CodeGeneration    Code = "generation"
	CodeRealtime      Code = "realtime_disconnect"
)

// Error carries a taxonomy code alongside the message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return newError(CodeValidation, format, args...)
}

func Permission(format string, args ...interface{}) *Error {
	return newError(CodePermission, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newError(CodeNotFound, format, args...)
}

func Upload(format string, args ...interface{}) *Error {
	return newError(CodeUpload, format, args...)
}

func Transcription(err error) *Error {
	return &Error{Code: CodeTranscription, Message: "transcription failed", Err: err}
}

func Generation(err error) *Error {
	return &Error{Code: CodeGeneration, Message: "generation failed", Err: err}
}

func Realtime(err error) *Error {
	return &Error{Code: CodeRealtime, Message: "realtime stream interrupted", Err: err}
}

// CodeOf extracts the taxonomy code, or "" for untyped errors.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps a taxonomy code to the response status used by handlers.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodePermission:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUpload:
		return http.StatusUnprocessableEntity
	case CodeTranscription, CodeGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
