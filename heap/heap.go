// Package heap implements the arena allocator that backs every Mote value.
//
// The arena is a single fixed-size byte slice carved into an address-ordered,
// doubly-linked list of nodes. Every node starts with a HeaderSize-byte header
// stored inside the arena itself, immediately followed by the node's data:
//
//	offset+0   prev  uint32  byte offset of the previous node header (noNode if first)
//	offset+4   next  uint32  byte offset of the next node header (noNode if last)
//	offset+8   flags uint8   node state (Free, Used, or a collector state)
//	offset+9   padding up to HeaderSize
//
// A node's size is never stored; it is the distance to the next header, or to
// the end of the arena for the tail node. Free and used nodes are both kept in
// the list, so the list always tiles the arena with no gaps.
//
// Callers hold Refs: the arena offset of a node's first data byte. Nil (0)
// is never a valid data offset because the first header occupies it.
package heap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/tliron/commonlog"
)

const (
	// HeaderSize is the size of a node header in bytes. Every node boundary
	// is aligned to it.
	HeaderSize = 16

	// BlockSize is the allocation granularity. Requests are rounded up to a
	// multiple of it.
	BlockSize = HeaderSize

	// DefaultCapacity is the arena size used when none is configured.
	DefaultCapacity = 1 << 20

	noNode uint32 = math.MaxUint32

	offPrev  = 0
	offNext  = 4
	offFlags = 8
)

// Ref is an arena-relative handle to the data of a heap node.
type Ref uint32

// Nil is the absent reference.
const Nil Ref = 0

// NodeState is the state recorded in a node's flags byte. Outside a
// collection cycle only Free and Used occur.
type NodeState uint8

const (
	Free NodeState = iota
	Used
	Unreached
	Unscanned
	Scanned
)

func (s NodeState) String() string {
	switch s {
	case Free:
		return "free"
	case Used:
		return "used"
	case Unreached:
		return "unreached"
	case Unscanned:
		return "unscanned"
	case Scanned:
		return "scanned"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

var (
	// ErrOutOfMemory is returned when no free node can satisfy a request.
	ErrOutOfMemory = errors.New("heap: out of memory")

	// ErrInvalidRef is returned when a Ref does not name a live node.
	ErrInvalidRef = errors.New("heap: invalid reference")

	// ErrArenaTooSmall is returned by New for capacities that cannot hold a
	// single usable node.
	ErrArenaTooSmall = errors.New("heap: arena too small")

	// ErrCorrupt is returned by Check when the node list does not tile the arena.
	ErrCorrupt = errors.New("heap: corrupt node list")
)

// Heap manages one arena. It is not safe for concurrent use; the interpreter
// that owns it is single-threaded.
type Heap struct {
	arena     []byte
	placement Placement
	log       commonlog.Logger

	// allocated counts bytes handed out by Allocate and Resize over the
	// lifetime of the heap. The interpreter uses it to pace collections.
	allocated uint64
}

// Option configures a Heap.
type Option func(*Heap)

// WithPlacement selects the free-node placement policy. FirstFit is the default.
func WithPlacement(p Placement) Option {
	return func(h *Heap) {
		if p != nil {
			h.placement = p
		}
	}
}

// WithLogger replaces the heap's logger.
func WithLogger(l commonlog.Logger) Option {
	return func(h *Heap) {
		if l != nil {
			h.log = l
		}
	}
}

// New creates a heap over a fresh arena of the given capacity, rounded down
// to a multiple of HeaderSize. The arena starts as one free node.
func New(capacity int, opts ...Option) (*Heap, error) {
	capacity -= capacity % HeaderSize
	if capacity < 2*HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrArenaTooSmall, capacity)
	}
	if uint64(capacity) >= uint64(noNode) {
		return nil, fmt.Errorf("heap: capacity %d exceeds 32-bit addressing", capacity)
	}

	h := &Heap{
		arena:     make([]byte, capacity),
		placement: FirstFit{},
		log:       commonlog.GetLogger("mote.heap"),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.Reset()
	return h, nil
}

// Reset returns the arena to a single free node. Every Ref issued before the
// reset is invalidated.
func (h *Heap) Reset() {
	clear(h.arena)
	h.setPrev(0, noNode)
	h.setNext(0, noNode)
	h.setState(0, Free)
	h.log.Debugf("arena reset: %d bytes", len(h.arena))
}

// Capacity returns the arena size in bytes.
func (h *Heap) Capacity() int {
	return len(h.arena)
}

// Placement returns the active placement policy.
func (h *Heap) Placement() Placement {
	return h.placement
}

// Allocated returns the total number of bytes handed out since the heap was
// created. It only grows.
func (h *Heap) Allocated() uint64 {
	return h.allocated
}

// ---------------------------------------------------------------------------
// Header access
// ---------------------------------------------------------------------------

func (h *Heap) prev(n uint32) uint32 {
	return binary.LittleEndian.Uint32(h.arena[n+offPrev:])
}

func (h *Heap) next(n uint32) uint32 {
	return binary.LittleEndian.Uint32(h.arena[n+offNext:])
}

func (h *Heap) setPrev(n, p uint32) {
	binary.LittleEndian.PutUint32(h.arena[n+offPrev:], p)
}

func (h *Heap) setNext(n, p uint32) {
	binary.LittleEndian.PutUint32(h.arena[n+offNext:], p)
}

func (h *Heap) state(n uint32) NodeState {
	return NodeState(h.arena[n+offFlags])
}

func (h *Heap) setState(n uint32, s NodeState) {
	h.arena[n+offFlags] = byte(s)
}

// size returns the data size of the node whose header is at n.
func (h *Heap) size(n uint32) int {
	end := h.next(n)
	if end == noNode {
		end = uint32(len(h.arena))
	}
	return int(end - n - HeaderSize)
}

func nodeOf(r Ref) uint32 {
	return uint32(r) - HeaderSize
}

func dataOf(n uint32) Ref {
	return Ref(n + HeaderSize)
}

// roundUp rounds n up to a multiple of BlockSize, with a minimum of one block.
func roundUp(n int) int {
	if n <= 0 {
		return BlockSize
	}
	return (n + BlockSize - 1) / BlockSize * BlockSize
}

// lookup validates that r names the data of a node and returns the node's
// header offset. The check is O(1): the neighbours must link back to it.
func (h *Heap) lookup(r Ref) (uint32, error) {
	if r == Nil || uint32(r)%HeaderSize != 0 || int(r) >= len(h.arena) {
		return 0, fmt.Errorf("%w: offset %d", ErrInvalidRef, r)
	}
	n := nodeOf(r)
	prev, next := h.prev(n), h.next(n)
	switch {
	case prev == noNode && n != 0:
		return 0, fmt.Errorf("%w: offset %d", ErrInvalidRef, r)
	case prev != noNode && (prev >= n || h.next(prev) != n):
		return 0, fmt.Errorf("%w: offset %d", ErrInvalidRef, r)
	case next != noNode && (next <= n || int(next) >= len(h.arena) || h.prev(next) != n):
		return 0, fmt.Errorf("%w: offset %d", ErrInvalidRef, r)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// Allocate returns a zeroed region of at least n bytes. The request is
// rounded up to a multiple of BlockSize. ErrOutOfMemory is returned when no
// free node is large enough; the arena never grows.
func (h *Heap) Allocate(n int) (Ref, error) {
	if n < 0 {
		return Nil, fmt.Errorf("heap: negative allocation size %d", n)
	}
	if n > len(h.arena) {
		h.exhausted(n)
		return Nil, fmt.Errorf("%w: %d bytes requested", ErrOutOfMemory, n)
	}
	size := roundUp(n)

	r, ok := h.placement.Select(h.freeNodes(), size)
	if !ok {
		h.exhausted(size)
		return Nil, fmt.Errorf("%w: %d bytes requested", ErrOutOfMemory, n)
	}

	node := nodeOf(r)
	h.fracture(node, size)
	h.setState(node, Used)
	clear(h.data(node))
	h.allocated += uint64(h.size(node))
	return r, nil
}

// Resize changes the size of the allocation at r. A Nil r behaves like
// Allocate. When n fits in the current node the node is shrunk in place and
// the same Ref is returned; otherwise the contents move to a new node and the
// old one is released. On failure the original allocation is untouched.
func (h *Heap) Resize(r Ref, n int) (Ref, error) {
	if r == Nil {
		return h.Allocate(n)
	}
	node, err := h.lookup(r)
	if err != nil {
		return Nil, err
	}
	if h.state(node) == Free {
		return Nil, fmt.Errorf("%w: resize of free node at %d", ErrInvalidRef, r)
	}
	if n < 0 {
		return Nil, fmt.Errorf("heap: negative allocation size %d", n)
	}

	size := roundUp(n)
	if size <= h.size(node) {
		if h.fracture(node, size) {
			h.mergeNext(h.next(node))
		}
		return r, nil
	}

	fresh, err := h.Allocate(n)
	if err != nil {
		return Nil, err
	}
	copy(h.data(nodeOf(fresh)), h.data(node))
	h.free(node)
	return fresh, nil
}

// Release returns the node at r to the free list and coalesces it with its
// free neighbours, successor first. Releasing Nil is a no-op.
func (h *Heap) Release(r Ref) error {
	if r == Nil {
		return nil
	}
	node, err := h.lookup(r)
	if err != nil {
		return err
	}
	if h.state(node) == Free {
		return fmt.Errorf("%w: double release at %d", ErrInvalidRef, r)
	}
	h.free(node)
	return nil
}

func (h *Heap) free(node uint32) {
	h.setState(node, Free)
	h.mergeNext(node)
	if p := h.prev(node); p != noNode && h.state(p) == Free {
		h.mergeNext(p)
	}
}

// fracture splits node so that its data is exactly size bytes, turning the
// remainder into a new free node. The split only happens when the remainder
// can hold a header plus at least one block; otherwise the node is left
// whole. It reports whether a split took place.
func (h *Heap) fracture(node uint32, size int) bool {
	rem := h.size(node) - size
	if rem < HeaderSize+BlockSize {
		return false
	}
	split := node + HeaderSize + uint32(size)
	next := h.next(node)

	h.setPrev(split, node)
	h.setNext(split, next)
	h.setState(split, Free)
	if next != noNode {
		h.setPrev(next, split)
	}
	h.setNext(node, split)
	return true
}

// mergeNext absorbs the successor of n into n when both are free. It reports
// whether a merge happened.
func (h *Heap) mergeNext(n uint32) bool {
	if n == noNode || h.state(n) != Free {
		return false
	}
	next := h.next(n)
	if next == noNode || h.state(next) != Free {
		return false
	}
	after := h.next(next)
	h.setNext(n, after)
	if after != noNode {
		h.setPrev(after, n)
	}
	clear(h.arena[next : next+HeaderSize])
	return true
}

// ---------------------------------------------------------------------------
// Data access
// ---------------------------------------------------------------------------

func (h *Heap) data(node uint32) []byte {
	start := node + HeaderSize
	return h.arena[start : start+uint32(h.size(node))]
}

// Bytes returns the data region of the node at r. The slice aliases the
// arena and is only valid until the node is released or resized.
func (h *Heap) Bytes(r Ref) []byte {
	return h.data(nodeOf(r))
}

// Size returns the usable size of the node at r.
func (h *Heap) Size(r Ref) int {
	return h.size(nodeOf(r))
}

// State returns the node state of the allocation at r.
func (h *Heap) State(r Ref) NodeState {
	return h.state(nodeOf(r))
}

// SetState overwrites the node state of the allocation at r. It is meant for
// the collector; it never changes the node list structure.
func (h *Heap) SetState(r Ref, s NodeState) {
	h.setState(nodeOf(r), s)
}

// Valid reports whether r names a node that is currently allocated.
func (h *Heap) Valid(r Ref) bool {
	node, err := h.lookup(r)
	return err == nil && h.state(node) != Free
}

func (h *Heap) exhausted(size int) {
	h.log.Warningf("allocation of %d bytes failed: %s", size, h.Stats())
	if h.log.AllowLevel(commonlog.Debug) {
		var b strings.Builder
		h.Dump(&b)
		h.log.Debug(b.String())
	}
}
