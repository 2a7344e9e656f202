// Package errors provides error kinds that map onto RFC 7807 problem responses
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// FieldError represents a validation error for a specific field
type FieldError struct {
	Kind    string `json:"kind" validate:"required"`
	Field   string `json:"field" validate:"required"`
	Message string `json:"message,omitempty" validate:"required"`
}

func (f *FieldError) Error() string {
	return fmt.Sprintf("%s (%s): %s", f.Field, f.Kind, f.Message)
}

func NewFieldError(kind, field, reason string) FieldError {
	return FieldError{Kind: kind, Field: field, Message: reason}
}

// StatusCode represents an HTTP status code error
type StatusCode int

// Error implements error
func (status StatusCode) Error() string {
	return http.StatusText(int(status))
}

func Status(code int) *Error {
	return Wrap(StatusCode(code)).Reason(http.StatusText(code))
}

var (
	Invalid       *Error = Status(http.StatusBadRequest)
	NotFound      *Error = Status(http.StatusNotFound)
	Conflict      *Error = Status(http.StatusConflict)
	Unavailable   *Error = Status(http.StatusServiceUnavailable)
	Unprocessable *Error = Status(http.StatusUnprocessableEntity)
)

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the returned error type
	Kind string `json:"kind"`
	// Message is the human readable string that indicate the error
	Message string `json:"message"`
	// Fields used when there's validation error for a field.
	Fields []FieldError `json:"fields,omitempty"`

	trace []byte
	cause error
}

var _ error = (*Error)(nil)

func New(message string) *Error {
	return &Error{Kind: "Unknown", Message: message}
}

func Wrap(err error) *Error {
	return &Error{cause: err}
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] ", e.Kind)
	if e.Message != "" {
		str += e.Message
	}
	if e.cause != nil {
		if _, isStatus := e.cause.(StatusCode); !isStatus {
			str += fmt.Sprintf(" (%s)", e.cause)
		}
	}
	if len(e.trace) > 0 {
		str = str + fmt.Sprintf("\n\nTrace: %s", string(e.trace))
	}
	return str
}

// Reason returns a copy of the error with kind set to given value
func (e *Error) Reason(kind string) *Error {
	err := *e
	err.Kind = kind
	return &err
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// Trace sets the error stack trace
func (e *Error) Trace() *Error {
	stack := make([]byte, 2048)
	n := runtime.Stack(stack, false)
	e.trace = stack[:n]
	return e
}

// WithField returns a copy of error with the field appended.
func (e *Error) WithField(kind, field, message string) *Error {
	newError := *e
	newError.Fields = append(append([]FieldError(nil), e.Fields...), NewFieldError(kind, field, message))
	return &newError
}

// Is implements the needed interface for errors.Is
// It checks kind for equality
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	if e.cause != nil {
		return Is(e.cause, target)
	}
	return false
}

// HTTPStatus resolves the status code carried by err, 500 when none.
func HTTPStatus(err error) int {
	var code StatusCode
	if As(err, &code) {
		return int(code)
	}
	return http.StatusInternalServerError
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	Errors   []FieldError `json:"errors,omitempty"`
}

// Error implements the error interface
func (p *ProblemDetails) Error() string {
	return p.Detail
}

// Problem renders err as problem details for the given request path.
// Errors without a status are reported as opaque internal errors.
func Problem(err error, instance string) *ProblemDetails {
	status := HTTPStatus(err)
	p := &ProblemDetails{
		Type:     "about:blank",
		Title:    http.StatusText(status),
		Status:   status,
		Instance: instance,
	}
	var e *Error
	if As(err, &e) && status != http.StatusInternalServerError {
		p.Detail = e.Message
		p.Errors = e.Fields
	} else {
		p.Detail = "internal error"
	}
	return p
}

// MarshalJSON keeps the wire shape stable
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	type alias ProblemDetails
	return json.Marshal((*alias)(p))
}
