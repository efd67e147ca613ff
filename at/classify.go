package at

import (
	"strings"
)

// Classify identifies final result codes by prefix. Any trailing text after
// the prefix is ignored, so "OK" followed by garbage is still final.
//
// Lines that are not a final result code classify as ResponseNotFound and
// are left to the active Parser.
func Classify(line string) ResponseKind {
	switch {
	case strings.HasPrefix(line, OK):
		return ResponseOK
	case strings.HasPrefix(line, ERROR),
		strings.HasPrefix(line, CmeError),
		strings.HasPrefix(line, CmsError):
		return ResponseError
	default:
		return ResponseNotFound
	}
}

// Parser consumes intermediate reply lines of a single command.
//
// Parse returns ResponseEmpty once it has what it needs (the dispatcher stops
// calling it and keeps waiting for the final result code),
// ResponsePendingExtra to keep receiving lines, or any other kind to end the
// wait with that verdict. ResponseError marks the line as malformed.
type Parser interface {
	Parse(line string) ResponseKind
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(line string) ResponseKind

// Parse calls f(line).
func (f ParserFunc) Parse(line string) ResponseKind {
	return f(line)
}
