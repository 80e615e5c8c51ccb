// Package protocol defines the JSON envelope spoken over the room WebSocket.
//
// Clients send requests {id, event, data} and receive exactly one ack per
// request: {id, ok, data} on success or {id, ok:false, error} on failure.
// Server-initiated pushes carry {event, data} with no id.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Error codes returned in acks. Every handler failure is mapped to one of
// these; a connection is never torn down because an operation failed.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotFound        = "NOT_FOUND"
	CodeForbidden       = "FORBIDDEN"
	CodeUnavailable     = "UNAVAILABLE"
	CodeInternal        = "INTERNAL"
)

// Error is a declared operation failure.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func InvalidArgument(msg string) *Error { return &Error{Code: CodeInvalidArgument, Message: msg} }
func NotFound(msg string) *Error        { return &Error{Code: CodeNotFound, Message: msg} }
func Forbidden(msg string) *Error       { return &Error{Code: CodeForbidden, Message: msg} }
func Unavailable(msg string) *Error     { return &Error{Code: CodeUnavailable, Message: msg} }
func Internal(msg string) *Error        { return &Error{Code: CodeInternal, Message: msg} }

// AsError coerces any handler error into a declared *Error, hiding internal
// detail behind CodeInternal.
func AsError(err error) *Error {
	if perr, ok := err.(*Error); ok {
		return perr
	}
	return &Error{Code: CodeInternal, Message: "internal error"}
}

// Request is a client operation.
type Request struct {
	ID    int64           `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Response acknowledges exactly one Request.
type Response struct {
	ID    int64  `json:"id"`
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Push is a server-initiated broadcast event.
type Push struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Ack builds a success response.
func Ack(id int64, data any) *Response {
	return &Response{ID: id, OK: true, Data: data}
}

// Nack builds a failure response.
func Nack(id int64, err error) *Response {
	return &Response{ID: id, OK: false, Error: AsError(err)}
}
