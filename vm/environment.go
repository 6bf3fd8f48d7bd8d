package vm

import (
	"fmt"
	"iter"

	"github.com/chazu/mote/heap"
)

// ---------------------------------------------------------------------------
// Environment: the scope stack and the collector's root set
// ---------------------------------------------------------------------------

// DefaultMaxScopeDepth bounds the scope stack when no other limit is set.
const DefaultMaxScopeDepth = 512

// BindFlags qualify a binding.
type BindFlags uint8

const (
	// BindConst makes the binding immutable.
	BindConst BindFlags = 1 << iota

	// BindHidden keeps the binding out of listings such as env().
	BindHidden
)

// binding is one link of a scope's chain.
type binding struct {
	name  string
	value heap.Ref
	flags BindFlags
	next  *binding
}

// scope is the head of a singly-linked chain of bindings. New bindings are
// prepended.
type scope struct {
	head *binding
}

// Environment is a bounded stack of scopes. Every value bound in a pushed
// scope is a collection root; popping a scope drops its bindings from the
// root set.
type Environment struct {
	scopes   []scope
	maxDepth int
}

// NewEnvironment creates an empty environment. maxDepth <= 0 selects
// DefaultMaxScopeDepth. No scope is pushed.
func NewEnvironment(maxDepth int) *Environment {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxScopeDepth
	}
	return &Environment{maxDepth: maxDepth}
}

// Depth returns the number of pushed scopes.
func (e *Environment) Depth() int {
	return len(e.scopes)
}

// MaxDepth returns the scope stack bound.
func (e *Environment) MaxDepth() int {
	return e.maxDepth
}

// PushScope pushes an empty scope.
func (e *Environment) PushScope() error {
	if len(e.scopes) >= e.maxDepth {
		return fmt.Errorf("%w: depth %d", ErrScopeOverflow, e.maxDepth)
	}
	e.scopes = append(e.scopes, scope{})
	return nil
}

// PopScope removes the innermost scope.
func (e *Environment) PopScope() error {
	if len(e.scopes) == 0 {
		return ErrNoScope
	}
	e.scopes[len(e.scopes)-1] = scope{}
	e.scopes = e.scopes[:len(e.scopes)-1]
	return nil
}

// truncate pops scopes until depth remain.
func (e *Environment) truncate(depth int) {
	for len(e.scopes) > depth {
		_ = e.PopScope()
	}
}

// Bind adds name to the innermost scope. Shadowing an outer binding is
// allowed; binding the same name twice in one scope is not.
func (e *Environment) Bind(name string, obj heap.Ref, flags BindFlags) error {
	if len(e.scopes) == 0 {
		return fmt.Errorf("%w: cannot bind %s", ErrNoScope, name)
	}
	s := &e.scopes[len(e.scopes)-1]
	for b := s.head; b != nil; b = b.next {
		if b.name == name {
			return fmt.Errorf("%w: %s", ErrRedefined, name)
		}
	}
	s.head = &binding{name: name, value: obj, flags: flags, next: s.head}
	return nil
}

// find searches from the innermost scope outward.
func (e *Environment) find(name string) *binding {
	for i := len(e.scopes) - 1; i >= 0; i-- {
		for b := e.scopes[i].head; b != nil; b = b.next {
			if b.name == name {
				return b
			}
		}
	}
	return nil
}

// Lookup returns the value bound to name in the innermost scope that has it.
func (e *Environment) Lookup(name string) (heap.Ref, error) {
	if b := e.find(name); b != nil {
		return b.value, nil
	}
	return heap.Nil, fmt.Errorf("%w: %s", ErrUndefined, name)
}

// Flags returns the bind flags of the innermost binding of name.
func (e *Environment) Flags(name string) (BindFlags, bool) {
	if b := e.find(name); b != nil {
		return b.flags, true
	}
	return 0, false
}

// Assign replaces the value of the innermost binding of name.
func (e *Environment) Assign(name string, obj heap.Ref) error {
	b := e.find(name)
	if b == nil {
		return fmt.Errorf("%w: %s", ErrUndefined, name)
	}
	if b.flags&BindConst != 0 {
		return fmt.Errorf("%w: %s is const", ErrImmutable, name)
	}
	b.value = obj
	return nil
}

// Roots yields the value of every binding in every pushed scope.
func (e *Environment) Roots() iter.Seq[heap.Ref] {
	return func(yield func(heap.Ref) bool) {
		for i := range e.scopes {
			for b := e.scopes[i].head; b != nil; b = b.next {
				if !yield(b.value) {
					return
				}
			}
		}
	}
}

// Binding is a visible name and its value.
type Binding struct {
	Name  string
	Value heap.Ref
	Const bool
}

// Visible lists the bindings a program can see, innermost first, skipping
// hidden and shadowed names.
func (e *Environment) Visible() []Binding {
	var out []Binding
	seen := make(map[string]bool)
	for i := len(e.scopes) - 1; i >= 0; i-- {
		for b := e.scopes[i].head; b != nil; b = b.next {
			if seen[b.name] {
				continue
			}
			seen[b.name] = true
			if b.flags&BindHidden != 0 {
				continue
			}
			out = append(out, Binding{Name: b.name, Value: b.value, Const: b.flags&BindConst != 0})
		}
	}
	return out
}
