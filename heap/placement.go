package heap

import (
	"fmt"
	"iter"
)

// Placement chooses which free node satisfies an allocation request.
// Implementations receive the free nodes in address order and return the
// Ref of the node to carve from.
type Placement interface {
	Name() string
	Select(free iter.Seq[Node], size int) (Ref, bool)
}

// FirstFit takes the lowest-addressed free node that is large enough.
type FirstFit struct{}

func (FirstFit) Name() string { return "first-fit" }

func (FirstFit) Select(free iter.Seq[Node], size int) (Ref, bool) {
	for n := range free {
		if n.Size >= size {
			return n.Ref, true
		}
	}
	return Nil, false
}

// BestFit takes the smallest free node that is large enough, preferring the
// lowest address among equals. An exact fit ends the search early.
type BestFit struct{}

func (BestFit) Name() string { return "best-fit" }

func (BestFit) Select(free iter.Seq[Node], size int) (Ref, bool) {
	best := Nil
	bestSize := 0
	for n := range free {
		if n.Size < size {
			continue
		}
		if best == Nil || n.Size < bestSize {
			best, bestSize = n.Ref, n.Size
			if bestSize == size {
				break
			}
		}
	}
	return best, best != Nil
}

// PlacementByName resolves a placement policy from its configuration name.
// An empty name selects FirstFit.
func PlacementByName(name string) (Placement, error) {
	switch name {
	case "", "first-fit":
		return FirstFit{}, nil
	case "best-fit":
		return BestFit{}, nil
	default:
		return nil, fmt.Errorf("heap: unknown placement %q (want first-fit or best-fit)", name)
	}
}
