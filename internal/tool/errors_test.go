package tool

import (
	"errors"
	"fmt"
	"testing"
)

func TestCommandErrorUnwrap(t *testing.T) {
	cause := errors.New("sensor offline")
	err := NewError(ErrToolOperation, "tempcon.get_temperatures", cause)

	if !errors.Is(err, ErrToolOperation) {
		t.Error("Expected error to match its code")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected error to match its cause")
	}
	if err.Error() != "tempcon.get_temperatures: sensor offline" {
		t.Errorf("Unexpected message %q", err.Error())
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"command error", NewError(ErrUnknownTool, "bogus", nil), "UnknownToolError"},
		{"wrapped command error", fmt.Errorf("dispatch: %w", NewError(ErrArgument, "x", nil)), "ArgumentError"},
		{"bare sentinel", fmt.Errorf("port 2402: %w", ErrBind), "BindError"},
		{"foreign error", errors.New("disk full"), "ToolOperationError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Expected code %q, got %q", tt.want, got)
			}
		})
	}
}

func TestMessageSubjectOnly(t *testing.T) {
	err := NewError(ErrUnknownTool, "bogus", nil)
	if Message(err) != "bogus" {
		t.Errorf("Expected message 'bogus', got %q", Message(err))
	}
}
