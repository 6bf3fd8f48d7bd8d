package vm

import (
	"errors"
	"fmt"

	"github.com/chazu/mote/compiler"
)

var (
	// ErrNoScope is returned when binding or popping with no scope pushed.
	ErrNoScope = errors.New("no scope")

	// ErrRedefined is returned when a name is bound twice in one scope.
	ErrRedefined = errors.New("symbol redefined")

	// ErrUndefined is returned when a name is not bound in any scope.
	ErrUndefined = errors.New("symbol undefined")

	// ErrImmutable is returned when assigning to a const binding or mutating
	// a frozen object.
	ErrImmutable = errors.New("immutable")

	// ErrScopeOverflow is returned when the scope stack is full.
	ErrScopeOverflow = errors.New("scope stack overflow")

	// ErrType is returned when an operation is applied to the wrong type.
	ErrType = errors.New("type error")

	// ErrIndex is returned for out-of-range indexes and missing keys.
	ErrIndex = errors.New("index error")

	// ErrArity is returned when a function is called with the wrong number of
	// arguments.
	ErrArity = errors.New("wrong number of arguments")

	// ErrDivideByZero is returned by / and % with a zero divisor.
	ErrDivideByZero = errors.New("division by zero")
)

// RuntimeError is an error raised while evaluating a program. Err holds the
// underlying cause, so errors.Is(err, heap.ErrOutOfMemory) and the
// environment sentinels work through it.
type RuntimeError struct {
	Pos compiler.Position
	Msg string
	Err error
}

func (e *RuntimeError) Error() string {
	if e.Pos.Line == 0 {
		return e.Msg
	}
	return fmt.Sprintf("line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// errorAt wraps err with the position of node n. Errors that already carry a
// position are returned unchanged so the innermost location wins.
func errorAt(n compiler.Node, err error) error {
	if err == nil {
		return nil
	}
	var re *RuntimeError
	if errors.As(err, &re) {
		return err
	}
	return &RuntimeError{Pos: n.Span().Start, Msg: err.Error(), Err: err}
}

// errorf builds a positioned runtime error wrapping a sentinel.
func errorf(n compiler.Node, sentinel error, format string, args ...any) error {
	return &RuntimeError{
		Pos: n.Span().Start,
		Msg: fmt.Sprintf("%s: %s", sentinel, fmt.Sprintf(format, args...)),
		Err: sentinel,
	}
}

// failf builds a positioned runtime error with no underlying sentinel.
func failf(n compiler.Node, format string, args ...any) error {
	return &RuntimeError{Pos: n.Span().Start, Msg: fmt.Sprintf(format, args...)}
}
