package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Code classifies a failed Result.
type Code string

const (
	CodeChannelNotFound     Code = "CHANNEL_NOT_FOUND"
	CodeDuplicateResource   Code = "DUPLICATE_RESOURCE"
	CodeSpawnFailure        Code = "SPAWN_FAILURE"
	CodeProcessExited       Code = "PROCESS_EXITED_UNEXPECTEDLY"
	CodeQueryCancelled      Code = "QUERY_CANCELLED"
	CodeQueryFailed         Code = "QUERY_FAILED"
	CodeWatchSetupFailure   Code = "WATCH_SETUP_FAILURE"
	CodeIOFailure           Code = "IO_FAILURE"
	CodeInvalidMessage      Code = "INVALID_MESSAGE"
	CodeSessionNotFound     Code = "SESSION_NOT_FOUND"
	CodeSessionNotAccepting Code = "SESSION_NOT_ACCEPTING"
	CodeAccessDenied        Code = "ACCESS_DENIED"
	CodeInternal            Code = "INTERNAL"
)

// Error is the failure half of a Result.
type Error struct {
	Code    Code   `json:"code" cbor:"code"`
	Message string `json:"message" cbor:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds an *Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Result is the tagged outcome of every invoke. Failures travel as data;
// nothing is thrown across the boundary.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// OK wraps data in a successful Result. A nil data yields no data field.
func OK(data any) Result {
	if data == nil {
		return Result{Success: true}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Fail(Errorf(CodeInternal, "marshal result: %v", err))
	}
	return Result{Success: true, Data: raw}
}

// Fail converts err into a failed Result. Errors that are not *Error are
// reported as INTERNAL.
func Fail(err error) Result {
	var perr *Error
	if !errors.As(err, &perr) {
		perr = &Error{Code: CodeInternal, Message: err.Error()}
	}
	return Result{Success: false, Error: perr}
}

// Decode unmarshals the data of a successful Result into v.
func (r Result) Decode(v any) error {
	if !r.Success {
		if r.Error == nil {
			return &Error{Code: CodeInternal, Message: "unsuccessful result"}
		}
		return r.Error
	}
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}
