package heap

import (
	"fmt"
	"io"
	"iter"
)

// Node describes one entry of the node list.
type Node struct {
	Ref   Ref
	Size  int
	State NodeState
}

// Nodes yields every node in address order. States may be changed with
// SetState during iteration; structural changes may not.
func (h *Heap) Nodes() iter.Seq[Node] {
	return func(yield func(Node) bool) {
		for n := uint32(0); n != noNode; n = h.next(n) {
			if !yield(Node{Ref: dataOf(n), Size: h.size(n), State: h.state(n)}) {
				return
			}
		}
	}
}

func (h *Heap) freeNodes() iter.Seq[Node] {
	return func(yield func(Node) bool) {
		for n := uint32(0); n != noNode; n = h.next(n) {
			if h.state(n) != Free {
				continue
			}
			if !yield(Node{Ref: dataOf(n), Size: h.size(n), State: Free}) {
				return
			}
		}
	}
}

// Coalesce merges every run of address-adjacent free nodes into a single
// node and returns the number of merges performed.
func (h *Heap) Coalesce() int {
	merged := 0
	for n := uint32(0); n != noNode; n = h.next(n) {
		if h.state(n) != Free {
			continue
		}
		for h.mergeNext(n) {
			merged++
		}
	}
	return merged
}

// Stats summarises the node list. Byte counts cover node data only; headers
// are excluded.
type Stats struct {
	Capacity   int
	TotalNodes int
	FreeNodes  int
	UsedNodes  int
	BytesUsed  int
	BytesFree  int
}

func (s Stats) String() string {
	return fmt.Sprintf("%d nodes (%d free, %d used), %d bytes used, %d bytes free of %d",
		s.TotalNodes, s.FreeNodes, s.UsedNodes, s.BytesUsed, s.BytesFree, s.Capacity)
}

// Stats walks the node list and returns its summary.
func (h *Heap) Stats() Stats {
	s := Stats{Capacity: len(h.arena)}
	for n := range h.Nodes() {
		s.TotalNodes++
		if n.State == Free {
			s.FreeNodes++
			s.BytesFree += n.Size
		} else {
			s.UsedNodes++
			s.BytesUsed += n.Size
		}
	}
	return s
}

// Dump writes a human-readable report of the heap: the summary followed by
// one line per node.
func (h *Heap) Dump(w io.Writer) {
	s := h.Stats()
	fmt.Fprintf(w, "heap: capacity %d bytes, placement %s\n", s.Capacity, h.placement.Name())
	fmt.Fprintf(w, "  nodes:      %d\n", s.TotalNodes)
	fmt.Fprintf(w, "  free nodes: %d\n", s.FreeNodes)
	fmt.Fprintf(w, "  used nodes: %d\n", s.UsedNodes)
	fmt.Fprintf(w, "  bytes used: %d\n", s.BytesUsed)
	fmt.Fprintf(w, "  bytes free: %d\n", s.BytesFree)
	for n := range h.Nodes() {
		fmt.Fprintf(w, "  %08x  %8d  %s\n", uint32(n.Ref)-HeaderSize, n.Size, n.State)
	}
}

// Check verifies that the node list tiles the arena: nodes are sorted by
// address, back links agree with forward links, and header plus data sizes
// add up to the capacity with no gaps or overlaps.
func (h *Heap) Check() error {
	limit := len(h.arena) / HeaderSize
	prev := noNode
	covered := 0
	count := 0
	for n := uint32(0); n != noNode; n = h.next(n) {
		count++
		if count > limit {
			return fmt.Errorf("%w: cycle in node list", ErrCorrupt)
		}
		if int(n) != covered {
			return fmt.Errorf("%w: node at %d, expected %d", ErrCorrupt, n, covered)
		}
		if h.prev(n) != prev {
			return fmt.Errorf("%w: node at %d links back to %d, expected %d", ErrCorrupt, n, h.prev(n), prev)
		}
		next := h.next(n)
		if next != noNode && (next <= n || next-n < HeaderSize || int(next) > len(h.arena)-HeaderSize) {
			return fmt.Errorf("%w: node at %d links forward to %d", ErrCorrupt, n, next)
		}
		if s := h.state(n); s > Scanned {
			return fmt.Errorf("%w: node at %d has %s", ErrCorrupt, n, s)
		}
		covered += HeaderSize + h.size(n)
		prev = n
	}
	if covered != len(h.arena) {
		return fmt.Errorf("%w: nodes cover %d of %d bytes", ErrCorrupt, covered, len(h.arena))
	}
	return nil
}
