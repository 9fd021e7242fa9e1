package tool

import (
	"errors"
	"fmt"
)

// Error codes reported on both the control protocol and the HTTP API.
var (
	ErrDuplicateName = errors.New("DuplicateNameError")
	ErrUnknownTool   = errors.New("UnknownToolError")
	ErrUnknownMethod = errors.New("UnknownMethodError")
	ErrArgument      = errors.New("ArgumentError")
	ErrToolOperation = errors.New("ToolOperationError")
	ErrBind          = errors.New("BindError")
)

// codes lists the sentinels in match order for Code.
var codes = []error{
	ErrDuplicateName,
	ErrUnknownTool,
	ErrUnknownMethod,
	ErrArgument,
	ErrToolOperation,
	ErrBind,
}

// CommandError ties a failure to one of the error codes above.
type CommandError struct {
	Code    error  // Error code sentinel
	Subject string // Tool, member or address the failure is about
	Err     error  // Underlying cause, may be nil
}

// NewError creates a CommandError.
func NewError(code error, subject string, err error) *CommandError {
	return &CommandError{Code: code, Subject: subject, Err: err}
}

// Errorf creates a CommandError whose cause is a formatted message.
func Errorf(code error, subject, format string, args ...interface{}) *CommandError {
	return &CommandError{Code: code, Subject: subject, Err: fmt.Errorf(format, args...)}
}

func (e *CommandError) Error() string {
	switch {
	case e.Subject == "" && e.Err == nil:
		return e.Code.Error()
	case e.Err == nil:
		return e.Subject
	case e.Subject == "":
		return e.Err.Error()
	default:
		return fmt.Sprintf("%s: %v", e.Subject, e.Err)
	}
}

// Unwrap exposes both the code and the cause to errors.Is and errors.As.
func (e *CommandError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Code}
	}
	return []error{e.Code, e.Err}
}

// Code returns the wire name of the error code carried by err.
// Errors without a known code are reported as ToolOperationError.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code != nil {
		return cmdErr.Code.Error()
	}
	for _, code := range codes {
		if errors.Is(err, code) {
			return code.Error()
		}
	}
	return ErrToolOperation.Error()
}

// Message returns the human part of an error reply.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Error()
	}
	return err.Error()
}
