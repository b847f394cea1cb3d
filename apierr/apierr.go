// Package apierr defines the daemon's wire-visible error taxonomy.
//
// Every mutating operation handler in ops/ returns either nil or an *Error
// carrying one of the Code constants below; transport adapters (dbusapi/)
// translate a Code straight into the matching wire error name.
package apierr

import "fmt"

// Code is a wire-visible error code.
type Code string

const (
	Failed Code = "Failed"
	PermissionDenied Code = "PermissionDenied"
	Inhibited Code = "Inhibited"
	Busy Code = "Busy"
	Cancelled Code = "Cancelled"
	InvalidOption Code = "InvalidOption"
	NotSupported Code = "NotSupported"
	AtaSmartWouldWakeup Code = "AtaSmartWouldWakeup"
	FilesystemDriverMissing Code = "FilesystemDriverMissing"
	FilesystemToolsMissing Code = "FilesystemToolsMissing"
)

// Error is the concrete error type returned by every ops/ handler.
type Error struct {
	Code Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an *Error with a formatted message.
func New(code Code, format string, args...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Failedf is shorthand for New(Failed,...), the catch-all code.
func Failedf(format string, args...interface{}) *Error {
	return New(Failed, format, args...)
}

// Timeoutf builds the Failed error used for every convergence-wait timeout.
func Timeoutf(format string, args...interface{}) *Error {
	return New(Failed, "timeout waiting for "+format, args...)
}

// Is reports whether err is an *Error with the given code.
func Is(err error, code Code) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}

// CodeOf extracts the Code of err, defaulting to Failed for plain errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return Failed
}
