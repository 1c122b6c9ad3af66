package common

import "fmt"

// Error is a coded error, the shape every package in this module returns
// instead of a bare fmt.Errorf: a stable machine-checkable Code plus a
// human message. Callers compare errors with errors.Is against the
// sentinel values each package exports, never by inspecting Msg.
type Error struct {
	Code string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is makes every *Error with the same Code equal under errors.Is,
// regardless of Msg - the Code is the identity, the Msg is context.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a coded error.
func NewError(code, msg string) error {
	return &Error{Code: code, Msg: msg}
}

// NewErrorf creates a coded error with a formatted message.
func NewErrorf(code, format string, args ...interface{}) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// InvalidRequest wraps a validation failure message with the
// invalid_request code.
func InvalidRequest(msg string) error {
	return NewErrorf("invalid_request", "Invalid request (%v)", msg)
}
