package vm

import (
	"fmt"
	"time"

	"github.com/chazu/mote/heap"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Collector: stop-the-world mark and sweep over the arena
// ---------------------------------------------------------------------------
//
// A cycle moves every node through the states recorded in its heap flags:
//
//	Used -> Unreached                     initialise
//	Unreached -> Unscanned                roots, then children of scanned nodes
//	Unscanned -> Scanned                  trace
//	Unreached -> Free                     reclaim
//	Scanned -> Used                       conclude
//
// Free nodes are never touched except by the coalescing pass. The mutator
// must not run while a cycle is in progress.

// CollectStats summarises one collection cycle.
type CollectStats struct {
	Cycle      int
	Roots      int
	Survivors  int
	Reclaimed  int
	BytesFreed int // growth of free data bytes, including recovered headers
	BytesFree  int
	Duration   time.Duration
	At         time.Time
}

func (s CollectStats) String() string {
	return fmt.Sprintf("gc: freed %d bytes, %d bytes available", s.BytesFreed, s.BytesFree)
}

// Collector reclaims unreachable objects from one heap.
type Collector struct {
	heap      *heap.Heap
	log       commonlog.Logger
	strict    bool
	cycles    int
	observers []func(CollectStats)

	worklist []heap.Ref
}

// NewCollector creates a collector for h. In strict mode internal
// consistency violations panic; otherwise they are logged and repaired.
func NewCollector(h *heap.Heap, strict bool) *Collector {
	return &Collector{
		heap:   h,
		log:    commonlog.GetLogger("mote.gc"),
		strict: strict,
	}
}

// OnCycle registers fn to be called with the summary of every cycle.
func (c *Collector) OnCycle(fn func(CollectStats)) {
	c.observers = append(c.observers, fn)
}

// Cycles returns the number of completed cycles.
func (c *Collector) Cycles() int {
	return c.cycles
}

// Strict reports whether consistency violations panic.
func (c *Collector) Strict() bool {
	return c.strict
}

// Collect runs one full cycle using the values bound in env as roots.
func (c *Collector) Collect(env *Environment) CollectStats {
	start := time.Now()
	before := c.heap.Stats()

	c.initialize()
	roots := c.seed(env)
	c.trace()
	reclaimed := c.reclaim()
	merged := c.heap.Coalesce()
	survivors := c.conclude()

	after := c.heap.Stats()
	c.cycles++
	stats := CollectStats{
		Cycle:      c.cycles,
		Roots:      roots,
		Survivors:  survivors,
		Reclaimed:  reclaimed,
		BytesFreed: after.BytesFree - before.BytesFree,
		BytesFree:  after.BytesFree,
		Duration:   time.Since(start),
		At:         start,
	}

	c.log.Info(stats.String())
	c.log.Debugf("cycle %d: %d roots, %d survivors, %d reclaimed, %d merges in %s",
		stats.Cycle, roots, survivors, reclaimed, merged, stats.Duration)
	for _, fn := range c.observers {
		fn(stats)
	}
	return stats
}

// violation reports a broken invariant: a panic in strict mode, an error log
// otherwise.
func (c *Collector) violation(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if c.strict {
		panic("gc: " + msg)
	}
	c.log.Errorf("%s", msg)
}

// initialize marks every used node Unreached.
func (c *Collector) initialize() {
	for n := range c.heap.Nodes() {
		switch n.State {
		case heap.Free:
		case heap.Used:
			c.heap.SetState(n.Ref, heap.Unreached)
		default:
			c.violation("node %d entered the cycle in state %s", n.Ref, n.State)
			c.heap.SetState(n.Ref, heap.Unreached)
		}
	}
}

// seed moves every bound object from Unreached to Unscanned.
func (c *Collector) seed(env *Environment) int {
	c.worklist = c.worklist[:0]
	roots := 0
	for r := range env.Roots() {
		if r == heap.Nil {
			continue
		}
		roots++
		c.shade(r, "root")
	}
	return roots
}

// shade moves r from Unreached to Unscanned and queues it.
func (c *Collector) shade(r heap.Ref, what string) {
	if !c.heap.Valid(r) {
		c.violation("%s %d does not name a live node", what, r)
		return
	}
	if c.heap.State(r) != heap.Unreached {
		return
	}
	c.heap.SetState(r, heap.Unscanned)
	c.worklist = append(c.worklist, r)
}

// trace drains the worklist, scanning each queued node's children.
func (c *Collector) trace() {
	visit := func(child heap.Ref) { c.shade(child, "child") }
	for len(c.worklist) > 0 {
		r := c.worklist[len(c.worklist)-1]
		c.worklist = c.worklist[:len(c.worklist)-1]

		c.heap.SetState(r, heap.Scanned)
		if tag := ReadHeader(c.heap, r).Tag; !tag.Valid() {
			c.violation("node %d has invalid type tag %d", r, uint8(tag))
			continue
		}
		Children(c.heap, r, visit)
	}
}

// reclaim frees every node still Unreached.
func (c *Collector) reclaim() int {
	n := 0
	for node := range c.heap.Nodes() {
		if node.State == heap.Unreached {
			c.heap.SetState(node.Ref, heap.Free)
			n++
		}
	}
	return n
}

// conclude returns scanned nodes to Used. After reclaim and trace no other
// state can remain, so anything else is a collector bug.
func (c *Collector) conclude() int {
	survivors := 0
	for n := range c.heap.Nodes() {
		switch n.State {
		case heap.Free:
		case heap.Scanned:
			c.heap.SetState(n.Ref, heap.Used)
			survivors++
		default:
			c.violation("node %d left in state %s after the cycle", n.Ref, n.State)
			c.heap.SetState(n.Ref, heap.Used)
			survivors++
		}
	}
	return survivors
}
