package heap

import "testing"

// holes carves a heap into free nodes of 96, 32 and 64 data bytes separated
// by used fences, followed by the free tail.
func holes(t *testing.T, p Placement) (h *Heap, big, small, mid Ref) {
	t.Helper()
	h = newTestHeap(t, 2048, WithPlacement(p))
	big = mustAllocate(t, h, 96)
	mustAllocate(t, h, 16)
	small = mustAllocate(t, h, 32)
	mustAllocate(t, h, 16)
	mid = mustAllocate(t, h, 64)
	mustAllocate(t, h, 16)
	for _, r := range []Ref{big, small, mid} {
		mustRelease(t, h, r)
	}
	return h, big, small, mid
}

func TestFirstFitTakesLowestAddress(t *testing.T) {
	h, big, _, _ := holes(t, FirstFit{})
	r := mustAllocate(t, h, 32)
	if r != big {
		t.Errorf("first-fit placed at %d, want %d", r, big)
	}
}

func TestBestFitTakesSmallestHole(t *testing.T) {
	h, _, small, mid := holes(t, BestFit{})
	if r := mustAllocate(t, h, 32); r != small {
		t.Errorf("best-fit placed 32 bytes at %d, want %d", r, small)
	}
	if r := mustAllocate(t, h, 48); r != mid {
		t.Errorf("best-fit placed 48 bytes at %d, want %d", r, mid)
	}
}

func TestPlacementByName(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", "first-fit", false},
		{"first-fit", "first-fit", false},
		{"best-fit", "best-fit", false},
		{"worst-fit", "", true},
	}
	for _, tt := range tests {
		p, err := PlacementByName(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("PlacementByName(%q) succeeded, want error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("PlacementByName(%q): %v", tt.name, err)
			continue
		}
		if p.Name() != tt.want {
			t.Errorf("PlacementByName(%q) = %s, want %s", tt.name, p.Name(), tt.want)
		}
	}
}
