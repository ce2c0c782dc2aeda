package tools

import (
	"errors"
	"fmt"
)

// ErrMalformedToolArguments reports tool call arguments that are not a
// JSON object. Match it with errors.Is.
var ErrMalformedToolArguments = errors.New("malformed tool arguments")

// MalformedArgumentsError carries the tool name and decoding failure
// for a call whose arguments could not be decoded.
type MalformedArgumentsError struct {
	ToolName string
	Err      error
}

// Error implements the error interface.
func (e *MalformedArgumentsError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrMalformedToolArguments, e.ToolName, e.Err)
}

// Unwrap exposes both the sentinel and the decoding error.
func (e *MalformedArgumentsError) Unwrap() []error {
	return []error{ErrMalformedToolArguments, e.Err}
}

// IsMalformedArguments reports whether err stems from undecodable tool
// arguments.
func IsMalformedArguments(err error) bool {
	return errors.Is(err, ErrMalformedToolArguments)
}
