package server

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/mote/heap"
	"github.com/chazu/mote/vm"
)

// ErrStopped is returned by Do once the worker has been stopped.
var ErrStopped = errors.New("worker stopped")

// request is a unit of work to be executed on the interpreter goroutine.
type request struct {
	fn   func(*vm.Interp) (any, error)
	done chan result
}

type result struct {
	value any
	err   error
}

// Worker serializes all interpreter access through a single goroutine.
// The interpreter and its heap are single-threaded; every LSP handler
// must go through the worker.
type Worker struct {
	interp   *vm.Interp
	opts     []vm.Option
	output   *bytes.Buffer
	requests chan request
	quit     chan struct{}
	stopOnce sync.Once
	log      commonlog.Logger
}

// NewWorker creates an interpreter from opts and starts the processing
// goroutine. Program output is captured and returned by Eval.
func NewWorker(opts ...vm.Option) (*Worker, error) {
	out := &bytes.Buffer{}
	opts = append(opts[:len(opts):len(opts)], vm.WithOutput(out))
	in, err := vm.New(opts...)
	if err != nil {
		return nil, err
	}
	w := &Worker{
		interp:   in,
		opts:     opts,
		output:   out,
		requests: make(chan request, 64),
		quit:     make(chan struct{}),
		log:      commonlog.GetLogger("mote.worker"),
	}
	go w.loop()
	return w, nil
}

func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn on the interpreter. Strict collector violations panic;
// they come back as errors. A panic can leave the scope stack and node
// states mid-cycle, so the interpreter is replaced with a fresh one.
func (w *Worker) execute(fn func(*vm.Interp) (any, error)) (res result) {
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("%v", r)
			in, err := vm.New(w.opts...)
			if err != nil {
				w.log.Errorf("rebuilding interpreter: %s", err)
				return
			}
			w.log.Warningf("interpreter reset after panic: %v", r)
			w.interp = in
		}
	}()
	res.value, res.err = fn(w.interp)
	return res
}

// Do submits fn for execution on the interpreter goroutine and blocks
// until it completes. After Stop it returns ErrStopped.
func (w *Worker) Do(fn func(*vm.Interp) (any, error)) (any, error) {
	req := request{
		fn:   fn,
		done: make(chan result, 1),
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrStopped
	}
	select {
	case res := <-req.done:
		return res.value, res.err
	case <-w.quit:
		return nil, ErrStopped
	}
}

// Stop shuts down the worker goroutine. It is safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}

// EvalResult is what one evaluation produced.
type EvalResult struct {
	Output string
	Value  string
	Heap   heap.Stats
	Cycles int
}

// Eval runs src at global scope. Bindings persist between calls. Output
// printed before a runtime error is still returned.
func (w *Worker) Eval(src string) (EvalResult, error) {
	v, err := w.Do(func(in *vm.Interp) (any, error) {
		w.output.Reset()
		ref, runErr := in.Run(src)
		res := EvalResult{
			Output: w.output.String(),
			Heap:   in.Heap().Stats(),
			Cycles: in.Collector().Cycles(),
		}
		if runErr == nil {
			res.Value = in.Repr(ref)
		}
		return res, runErr
	})
	res, _ := v.(EvalResult)
	return res, err
}
