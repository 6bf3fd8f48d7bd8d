package heap

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
)

func newTestHeap(t *testing.T, capacity int, opts ...Option) *Heap {
	t.Helper()
	h, err := New(capacity, opts...)
	if err != nil {
		t.Fatalf("New(%d): %v", capacity, err)
	}
	return h
}

func mustAllocate(t *testing.T, h *Heap, n int) Ref {
	t.Helper()
	r, err := h.Allocate(n)
	if err != nil {
		t.Fatalf("Allocate(%d): %v", n, err)
	}
	if err := h.Check(); err != nil {
		t.Fatalf("Check after Allocate(%d): %v", n, err)
	}
	return r
}

func mustRelease(t *testing.T, h *Heap, r Ref) {
	t.Helper()
	if err := h.Release(r); err != nil {
		t.Fatalf("Release(%d): %v", r, err)
	}
	if err := h.Check(); err != nil {
		t.Fatalf("Check after Release(%d): %v", r, err)
	}
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewRoundsCapacityDown(t *testing.T) {
	h := newTestHeap(t, 1000)
	if h.Capacity() != 992 {
		t.Errorf("Capacity = %d, want 992", h.Capacity())
	}
	s := h.Stats()
	if s.TotalNodes != 1 || s.FreeNodes != 1 {
		t.Errorf("fresh heap: %s, want one free node", s)
	}
	if s.BytesFree != 992-HeaderSize {
		t.Errorf("BytesFree = %d, want %d", s.BytesFree, 992-HeaderSize)
	}
}

func TestNewRejectsTinyArena(t *testing.T) {
	_, err := New(HeaderSize + 8)
	if !errors.Is(err, ErrArenaTooSmall) {
		t.Errorf("New(24) error = %v, want ErrArenaTooSmall", err)
	}
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

func TestAllocateScenario(t *testing.T) {
	h := newTestHeap(t, 4096)

	mustAllocate(t, h, BlockSize-5)
	s := h.Stats()
	if s.TotalNodes != 2 || s.FreeNodes != 1 {
		t.Errorf("after first allocation: %s, want 2 nodes with 1 free", s)
	}
	if s.BytesUsed != BlockSize {
		t.Errorf("BytesUsed = %d, want %d", s.BytesUsed, BlockSize)
	}

	mustAllocate(t, h, BlockSize+1)
	s = h.Stats()
	if s.TotalNodes != 3 || s.FreeNodes != 1 {
		t.Errorf("after second allocation: %s, want 3 nodes with 1 free", s)
	}
	if s.BytesUsed != 3*BlockSize {
		t.Errorf("BytesUsed = %d, want %d", s.BytesUsed, 3*BlockSize)
	}
}

func TestAllocateReturnsUsableZeroedRegion(t *testing.T) {
	h := newTestHeap(t, 1024)
	for _, n := range []int{0, 1, 15, 16, 17, 100} {
		r := mustAllocate(t, h, n)
		b := h.Bytes(r)
		if len(b) < n {
			t.Errorf("Allocate(%d) gave %d bytes", n, len(b))
		}
		if len(b)%BlockSize != 0 {
			t.Errorf("Allocate(%d) size %d not block aligned", n, len(b))
		}
		for i := range b {
			if b[i] != 0 {
				t.Fatalf("Allocate(%d) byte %d = %d, want 0", n, i, b[i])
			}
			b[i] = 0xAA
		}
	}
}

func TestAllocateReleaseRoundTrip(t *testing.T) {
	h := newTestHeap(t, 2048)
	initial := h.Stats().BytesFree

	for _, size := range []int{1, 16, 33, 500, 2000} {
		r := mustAllocate(t, h, size)
		mustRelease(t, h, r)
		if got := h.Stats().BytesFree; got != initial {
			t.Errorf("size %d: BytesFree = %d after round trip, want %d", size, got, initial)
		}
	}
}

func TestAllocateOutOfMemory(t *testing.T) {
	h := newTestHeap(t, 256)
	_, err := h.Allocate(1024)
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("Allocate(1024) error = %v, want ErrOutOfMemory", err)
	}

	// Fill the arena, then one more block must fail without corrupting anything.
	var refs []Ref
	for {
		r, err := h.Allocate(BlockSize)
		if err != nil {
			if !errors.Is(err, ErrOutOfMemory) {
				t.Fatalf("unexpected error: %v", err)
			}
			break
		}
		refs = append(refs, r)
	}
	if len(refs) == 0 {
		t.Fatal("no allocations succeeded")
	}
	if err := h.Check(); err != nil {
		t.Fatalf("Check after exhaustion: %v", err)
	}
	if s := h.Stats(); s.FreeNodes != 0 {
		t.Errorf("exhausted heap: %s, want no free nodes", s)
	}
}

func TestAllocateNegativeSize(t *testing.T) {
	h := newTestHeap(t, 256)
	if _, err := h.Allocate(-1); err == nil {
		t.Error("Allocate(-1) succeeded, want error")
	}
}

// ---------------------------------------------------------------------------
// Fracture
// ---------------------------------------------------------------------------

func TestFractureSplitsWhenRemainderHoldsANode(t *testing.T) {
	// One free node of 112 data bytes.
	h := newTestHeap(t, 128)
	r := mustAllocate(t, h, 80)

	s := h.Stats()
	if s.TotalNodes != 2 || s.FreeNodes != 1 {
		t.Fatalf("after split: %s, want 2 nodes with 1 free", s)
	}
	if h.Size(r) != 80 {
		t.Errorf("Size = %d, want 80", h.Size(r))
	}
	if s.BytesFree != 112-80-HeaderSize {
		t.Errorf("BytesFree = %d, want %d", s.BytesFree, 112-80-HeaderSize)
	}
}

func TestFractureKeepsSmallRemainder(t *testing.T) {
	h := newTestHeap(t, 128)
	r := mustAllocate(t, h, 96)

	s := h.Stats()
	if s.TotalNodes != 1 || s.FreeNodes != 0 {
		t.Fatalf("after unsplit allocation: %s, want a single used node", s)
	}
	if h.Size(r) != 112 {
		t.Errorf("Size = %d, want the whole node (112)", h.Size(r))
	}
}

func TestFractureNeverCreatesEmptyNodes(t *testing.T) {
	h := newTestHeap(t, 4096)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		if _, err := h.Allocate(rng.Intn(64)); err != nil {
			break
		}
	}
	for n := range h.Nodes() {
		if n.Size <= 0 {
			t.Fatalf("node at %d has size %d", n.Ref, n.Size)
		}
	}
}

// ---------------------------------------------------------------------------
// Release and coalescing
// ---------------------------------------------------------------------------

func TestReleaseCoalescesNeighbours(t *testing.T) {
	tests := []struct {
		name  string
		order [2]int
	}{
		{"forward", [2]int{0, 1}},
		{"backward", [2]int{1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHeap(t, 1024)
			refs := []Ref{
				mustAllocate(t, h, 32),
				mustAllocate(t, h, 32),
			}
			mustAllocate(t, h, 32) // fence off the tail

			mustRelease(t, h, refs[tt.order[0]])
			if got := h.Stats().FreeNodes; got != 2 {
				t.Fatalf("after first release FreeNodes = %d, want 2", got)
			}

			mustRelease(t, h, refs[tt.order[1]])
			s := h.Stats()
			// Separately free they would be 3 free nodes (two + tail).
			if s.FreeNodes != 2 {
				t.Errorf("after second release FreeNodes = %d, want 2", s.FreeNodes)
			}
			if h.Size(refs[0]) != 32+HeaderSize+32 {
				t.Errorf("merged size = %d, want %d", h.Size(refs[0]), 32+HeaderSize+32)
			}
		})
	}
}

func TestReleaseAbsorbsBothSides(t *testing.T) {
	h := newTestHeap(t, 1024)
	a := mustAllocate(t, h, 16)
	b := mustAllocate(t, h, 16)
	c := mustAllocate(t, h, 16)
	mustAllocate(t, h, 16)

	mustRelease(t, h, a)
	mustRelease(t, h, c)
	if got := h.Stats().FreeNodes; got != 3 {
		t.Fatalf("FreeNodes = %d, want 3", got)
	}
	mustRelease(t, h, b)
	if got := h.Stats().FreeNodes; got != 2 {
		t.Errorf("FreeNodes = %d after middle release, want 2", got)
	}
}

func TestReleaseInvalid(t *testing.T) {
	h := newTestHeap(t, 1024)
	r := mustAllocate(t, h, 48)

	if err := h.Release(Nil); err != nil {
		t.Errorf("Release(Nil) = %v, want nil", err)
	}
	if err := h.Release(r + 7); !errors.Is(err, ErrInvalidRef) {
		t.Errorf("misaligned Release = %v, want ErrInvalidRef", err)
	}
	if err := h.Release(r + HeaderSize); !errors.Is(err, ErrInvalidRef) {
		t.Errorf("interior Release = %v, want ErrInvalidRef", err)
	}
	mustRelease(t, h, r)
	if err := h.Release(r); !errors.Is(err, ErrInvalidRef) {
		t.Errorf("double Release = %v, want ErrInvalidRef", err)
	}
}

// ---------------------------------------------------------------------------
// Resize
// ---------------------------------------------------------------------------

func TestResizeNilAllocates(t *testing.T) {
	h := newTestHeap(t, 512)
	r, err := h.Resize(Nil, 40)
	if err != nil {
		t.Fatalf("Resize(Nil): %v", err)
	}
	if h.Size(r) < 40 {
		t.Errorf("Size = %d, want >= 40", h.Size(r))
	}
}

func TestResizeShrinksInPlace(t *testing.T) {
	h := newTestHeap(t, 1024)
	r := mustAllocate(t, h, 128)
	copy(h.Bytes(r), "keep me")
	before := h.Stats()

	got, err := h.Resize(r, 16)
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if got != r {
		t.Errorf("shrink moved the node: %d -> %d", r, got)
	}
	if string(h.Bytes(got)[:7]) != "keep me" {
		t.Errorf("content lost on shrink: %q", h.Bytes(got)[:7])
	}
	after := h.Stats()
	if after.FreeNodes != before.FreeNodes {
		t.Errorf("FreeNodes = %d, want %d (remainder coalesced with tail)", after.FreeNodes, before.FreeNodes)
	}
	if after.BytesFree != before.BytesFree+112 {
		t.Errorf("BytesFree = %d, want %d", after.BytesFree, before.BytesFree+112)
	}
	if err := h.Check(); err != nil {
		t.Fatal(err)
	}
}

func TestResizeGrowCopies(t *testing.T) {
	h := newTestHeap(t, 1024)
	r := mustAllocate(t, h, 16)
	mustAllocate(t, h, 16) // block in-place growth
	copy(h.Bytes(r), "0123456789abcdef")

	got, err := h.Resize(r, 100)
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if got == r {
		t.Fatal("grow returned the same node")
	}
	if string(h.Bytes(got)[:16]) != "0123456789abcdef" {
		t.Errorf("content = %q, want preserved", h.Bytes(got)[:16])
	}
	if h.State(r) != Free {
		t.Errorf("old node state = %s, want free", h.State(r))
	}
	if err := h.Check(); err != nil {
		t.Fatal(err)
	}
}

func TestResizeFailureKeepsOriginal(t *testing.T) {
	h := newTestHeap(t, 256)
	r := mustAllocate(t, h, 32)
	copy(h.Bytes(r), "original")

	_, err := h.Resize(r, 4096)
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("Resize error = %v, want ErrOutOfMemory", err)
	}
	if !h.Valid(r) || string(h.Bytes(r)[:8]) != "original" {
		t.Error("original allocation was disturbed by a failed resize")
	}
}

// ---------------------------------------------------------------------------
// Invariants under random workloads
// ---------------------------------------------------------------------------

func TestRandomWorkloadKeepsTiling(t *testing.T) {
	for _, p := range []Placement{FirstFit{}, BestFit{}} {
		t.Run(p.Name(), func(t *testing.T) {
			h := newTestHeap(t, 16*1024, WithPlacement(p))
			initial := h.Stats().BytesFree
			rng := rand.New(rand.NewSource(42))
			var live []Ref

			for i := 0; i < 2000; i++ {
				switch op := rng.Intn(3); {
				case op == 0 || len(live) == 0:
					r, err := h.Allocate(rng.Intn(300))
					if err == nil {
						live = append(live, r)
					} else if !errors.Is(err, ErrOutOfMemory) {
						t.Fatal(err)
					}
				case op == 1:
					i := rng.Intn(len(live))
					if err := h.Release(live[i]); err != nil {
						t.Fatal(err)
					}
					live = append(live[:i], live[i+1:]...)
				default:
					i := rng.Intn(len(live))
					r, err := h.Resize(live[i], rng.Intn(400))
					if err == nil {
						live[i] = r
					} else if !errors.Is(err, ErrOutOfMemory) {
						t.Fatal(err)
					}
				}
				if err := h.Check(); err != nil {
					t.Fatalf("step %d: %v", i, err)
				}
			}

			for _, r := range live {
				mustRelease(t, h, r)
			}
			s := h.Stats()
			if s.TotalNodes != 1 || s.BytesFree != initial {
				t.Errorf("after releasing everything: %s, want one free node of %d bytes", s, initial)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Collector support
// ---------------------------------------------------------------------------

func TestCoalesceMergesRuns(t *testing.T) {
	h := newTestHeap(t, 1024)
	var refs []Ref
	for i := 0; i < 5; i++ {
		refs = append(refs, mustAllocate(t, h, 16))
	}
	// Mark three adjacent nodes free without merging, as a sweep would.
	for _, r := range refs[1:4] {
		h.SetState(r, Free)
	}
	if got := h.Stats().FreeNodes; got != 4 {
		t.Fatalf("FreeNodes = %d before coalesce, want 4", got)
	}
	if merged := h.Coalesce(); merged != 2 {
		t.Errorf("Coalesce merged %d, want 2", merged)
	}
	if got := h.Stats().FreeNodes; got != 2 {
		t.Errorf("FreeNodes = %d after coalesce, want 2", got)
	}
	if err := h.Check(); err != nil {
		t.Fatal(err)
	}
}

func TestCheckDetectsCorruption(t *testing.T) {
	h := newTestHeap(t, 1024)
	r := mustAllocate(t, h, 16)
	h.setNext(nodeOf(r), 8)
	if err := h.Check(); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Check = %v, want ErrCorrupt", err)
	}
}

func TestResetInvalidatesEverything(t *testing.T) {
	h := newTestHeap(t, 1024)
	r := mustAllocate(t, h, 64)
	h.Reset()
	if h.Valid(r) {
		t.Error("ref still valid after Reset")
	}
	if s := h.Stats(); s.TotalNodes != 1 || s.FreeNodes != 1 {
		t.Errorf("after Reset: %s", s)
	}
}

func TestDumpReport(t *testing.T) {
	h := newTestHeap(t, 1024)
	mustAllocate(t, h, 20)
	var b strings.Builder
	h.Dump(&b)
	out := b.String()
	for _, want := range []string{"nodes:      2", "free nodes: 1", "used nodes: 1", "bytes used: 32", "first-fit"} {
		if !strings.Contains(out, want) {
			t.Errorf("Dump output missing %q:\n%s", want, out)
		}
	}
}
