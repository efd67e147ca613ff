package at

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when no terminal reply arrived within the
	// command's window.
	ErrTimeout = errors.New("timeout waiting for response")

	// ErrMalformedReply is returned when a reply line does not match the
	// field pattern the active parser expects.
	ErrMalformedReply = errors.New("malformed reply")

	// ErrInvalidHex is returned when a hex payload has an odd length or
	// contains characters outside 0-9 and A-F.
	ErrInvalidHex = errors.New("invalid hex payload")

	// errNoData signals that the line reader saw no byte before its deadline.
	errNoData = errors.New("no data")
)

// CommandError is returned when the modem explicitly rejected a command with
// ERROR, +CME ERROR: or +CMS ERROR:.
type CommandError struct {
	// Line is the final reply line as received, e.g. "+CME ERROR: 4".
	Line string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("modem error: %s", e.Line)
}
