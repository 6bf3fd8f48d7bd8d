package compiler

import (
	"errors"
	"fmt"
	"strings"
)

// SyntaxError is a positioned lexing or parsing error.
type SyntaxError struct {
	Pos Position
	Msg string

	// Incomplete is set when the error was caused by input ending early,
	// such as an unclosed brace or an unterminated string.
	Incomplete bool
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

// ErrorList is the set of errors found while parsing one input.
type ErrorList []*SyntaxError

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", l[0], len(l)-1) + "\n" + strings.Join(msgs[1:], "\n")
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (l ErrorList) Unwrap() []error {
	errs := make([]error, len(l))
	for i, e := range l {
		errs[i] = e
	}
	return errs
}

// IsIncomplete reports whether err describes input that ended before a
// construct was closed. The REPL uses it to prompt for continuation lines.
func IsIncomplete(err error) bool {
	var list ErrorList
	if errors.As(err, &list) {
		return len(list) > 0 && list[0].Incomplete
	}
	var se *SyntaxError
	if errors.As(err, &se) {
		return se.Incomplete
	}
	return false
}
