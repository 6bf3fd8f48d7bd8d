package vm

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chazu/mote/compiler"
	"github.com/chazu/mote/heap"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Interp: the tree-walking interpreter
// ---------------------------------------------------------------------------

// DefaultGCThreshold returns the number of bytes allocated between
// automatic collections when none is configured: a quarter of the arena.
func DefaultGCThreshold(capacity int) int {
	return capacity / 4
}

// Names bound in the builtin scope that programs cannot spell.
const (
	nullName  = " null"
	trueName  = " true"
	falseName = " false"
	lastName  = "_"
)

// Interp evaluates Mote programs. Every value it creates lives in its heap.
// An Interp is not safe for concurrent use.
type Interp struct {
	heap *heap.Heap
	env  *Environment
	gc   *Collector
	log  commonlog.Logger
	out  io.Writer

	funcs   []*compiler.FuncLiteral
	funcIDs map[*compiler.FuncLiteral]int

	null, trueRef, falseRef heap.Ref

	// globalDepth is the scope depth at which top-level statements run.
	globalDepth int

	// callDepth counts active function calls. Collection only happens at
	// statement boundaries while it is zero, where no value is held outside
	// the environment.
	callDepth int

	threshold   uint64
	lastAlloc   uint64
	gcRequested bool
}

type options struct {
	heap      *heap.Heap
	capacity  int
	placement heap.Placement
	out       io.Writer
	threshold *int
	strict    bool
	maxDepth  int
}

// Option configures an Interp.
type Option func(*options)

// WithHeap runs the interpreter on an existing heap. The heap is reset.
func WithHeap(h *heap.Heap) Option {
	return func(o *options) { o.heap = h }
}

// WithCapacity sets the arena size of the interpreter's own heap.
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithPlacement sets the placement policy of the interpreter's own heap.
func WithPlacement(p heap.Placement) Option {
	return func(o *options) { o.placement = p }
}

// WithOutput redirects print output. The default is os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithGCThreshold sets how many bytes may be allocated between automatic
// collections. Zero or less disables automatic collection. Without this
// option the threshold is DefaultGCThreshold of the heap's capacity.
func WithGCThreshold(n int) Option {
	return func(o *options) { o.threshold = &n }
}

// WithStrict makes collector consistency violations panic.
func WithStrict(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithMaxScopeDepth bounds the scope stack, and with it recursion depth.
func WithMaxScopeDepth(n int) Option {
	return func(o *options) { o.maxDepth = n }
}

// New creates an interpreter with its builtins installed.
func New(opts ...Option) (*Interp, error) {
	o := options{
		capacity: heap.DefaultCapacity,
		out:      os.Stdout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	h := o.heap
	if h == nil {
		var err error
		h, err = heap.New(o.capacity, heap.WithPlacement(o.placement))
		if err != nil {
			return nil, err
		}
	} else {
		h.Reset()
	}

	in := &Interp{
		heap:    h,
		env:     NewEnvironment(o.maxDepth),
		gc:      NewCollector(h, o.strict),
		log:     commonlog.GetLogger("mote.vm"),
		out:     o.out,
		funcIDs: make(map[*compiler.FuncLiteral]int),
	}
	threshold := o.threshold
	if threshold == nil {
		n := DefaultGCThreshold(h.Capacity())
		threshold = &n
	}
	if *threshold > 0 {
		in.threshold = uint64(*threshold)
	}
	if err := in.bootstrap(); err != nil {
		return nil, fmt.Errorf("vm: bootstrap: %w", err)
	}
	in.lastAlloc = h.Allocated()
	return in, nil
}

// bootstrap pushes the builtin scope and the global scope. The singletons
// and natives are bound hidden in the builtin scope so they stay rooted and
// user globals may shadow builtin names.
func (in *Interp) bootstrap() error {
	if err := in.env.PushScope(); err != nil {
		return err
	}

	var err error
	if in.null, err = in.alloc(TypeNull, 0); err != nil {
		return err
	}
	if in.trueRef, err = in.alloc(TypeBool, 0); err != nil {
		return err
	}
	payload(in.heap, in.trueRef)[0] = 1
	if in.falseRef, err = in.alloc(TypeBool, 0); err != nil {
		return err
	}

	const fixed = BindConst | BindHidden
	for name, r := range map[string]heap.Ref{nullName: in.null, trueName: in.trueRef, falseName: in.falseRef} {
		if err := in.bind(name, r, fixed); err != nil {
			return err
		}
	}
	for id, b := range builtins {
		r, err := in.newNative(id)
		if err != nil {
			return err
		}
		if err := in.bind(b.name, r, fixed); err != nil {
			return err
		}
	}

	if err := in.env.PushScope(); err != nil {
		return err
	}
	in.globalDepth = in.env.Depth()
	return in.env.Bind(lastName, in.null, BindHidden)
}

// bind binds name and marks the object as bound (and frozen for const).
func (in *Interp) bind(name string, r heap.Ref, flags BindFlags) error {
	if err := in.env.Bind(name, r, flags); err != nil {
		return err
	}
	f := FlagBound
	if flags&BindConst != 0 {
		f |= FlagFrozen
	}
	setFlags(in.heap, r, f)
	return nil
}

// Heap returns the interpreter's heap.
func (in *Interp) Heap() *heap.Heap {
	return in.heap
}

// Env returns the interpreter's environment.
func (in *Interp) Env() *Environment {
	return in.env
}

// Collector returns the interpreter's collector.
func (in *Interp) Collector() *Collector {
	return in.gc
}

// SetOutput redirects print output.
func (in *Interp) SetOutput(w io.Writer) {
	in.out = w
}

// Lookup returns the value bound to name.
func (in *Interp) Lookup(name string) (heap.Ref, error) {
	return in.env.Lookup(name)
}

// Bind binds name in the innermost scope.
func (in *Interp) Bind(name string, r heap.Ref, flags BindFlags) error {
	return in.bind(name, r, flags)
}

// ---------------------------------------------------------------------------
// Collection pacing
// ---------------------------------------------------------------------------

// Collect runs a collection cycle now. It must not be called while a Run is
// in progress.
func (in *Interp) Collect() CollectStats {
	stats := in.gc.Collect(in.env)
	in.lastAlloc = in.heap.Allocated()
	in.gcRequested = false
	return stats
}

// RequestCollect schedules a collection at the next safe point.
func (in *Interp) RequestCollect() {
	in.gcRequested = true
}

// safePoint collects when requested or when the allocation threshold has
// been crossed. Callers guarantee no value is held outside the environment.
func (in *Interp) safePoint() {
	if in.callDepth != 0 {
		return
	}
	due := in.threshold > 0 && in.heap.Allocated()-in.lastAlloc >= in.threshold
	if in.gcRequested || due {
		in.Collect()
	}
}

// ---------------------------------------------------------------------------
// Running programs
// ---------------------------------------------------------------------------

// Run parses and executes src. It returns the value of the last expression
// statement, or null. Parse failures return a compiler.ErrorList; execution
// failures return a *RuntimeError. After an error the environment is back
// at global scope and the interpreter remains usable.
func (in *Interp) Run(src string) (heap.Ref, error) {
	prog, err := compiler.Parse(src)
	if err != nil {
		return heap.Nil, err
	}
	return in.Exec(prog)
}

// Exec executes a parsed program at global scope.
func (in *Interp) Exec(prog *compiler.Program) (result heap.Ref, err error) {
	defer func() {
		if err != nil {
			in.env.truncate(in.globalDepth)
			in.callDepth = 0
			if errors.Is(err, heap.ErrOutOfMemory) {
				in.gcRequested = true
			}
			in.log.Debugf("run failed: %v", err)
		}
	}()

	result = in.null
	for _, stmt := range prog.Stmts {
		in.safePoint()

		fl, v, err := in.exec(stmt)
		if err != nil {
			return heap.Nil, err
		}
		if err := in.checkFlow(stmt, fl); err != nil {
			return heap.Nil, err
		}

		result = in.null
		if _, ok := stmt.(*compiler.ExprStmt); ok {
			result = v
			if err := in.env.Assign(lastName, v); err != nil {
				return heap.Nil, err
			}
		}
	}
	in.safePoint()
	return result, nil
}

// checkFlow rejects break, continue and return that escaped to top level.
func (in *Interp) checkFlow(stmt compiler.Stmt, fl flow) error {
	switch fl {
	case flowBreak:
		return failf(stmt, "break outside loop")
	case flowContinue:
		return failf(stmt, "continue outside loop")
	case flowReturn:
		return failf(stmt, "return outside function")
	}
	return nil
}
