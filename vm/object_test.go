package vm

import (
	"bytes"
	"testing"

	"github.com/chazu/mote/heap"
)

func newTestInterp(t *testing.T, opts ...Option) (*Interp, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	base := []Option{WithOutput(&out), WithCapacity(64 << 10), WithGCThreshold(0), WithStrict(true)}
	in, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return in, &out
}

// mustRef fails the test when a constructor returns an error. Call it as
// mustRef(t)(in.NewInt(1)).
func mustRef(t *testing.T) func(heap.Ref, error) heap.Ref {
	return func(r heap.Ref, err error) heap.Ref {
		t.Helper()
		if err != nil {
			t.Fatalf("allocation failed: %v", err)
		}
		return r
	}
}

// ---------------------------------------------------------------------------
// Shapes and tags
// ---------------------------------------------------------------------------

func TestShapeChildren(t *testing.T) {
	tests := []struct {
		shape Shape
		want  int
	}{
		{ShapeLeaf, 0},
		{ShapeOne, 1},
		{ShapeTwo, 2},
	}
	for _, tt := range tests {
		if got := tt.shape.Children(); got != tt.want {
			t.Errorf("Shape(%d).Children() = %d, want %d", tt.shape, got, tt.want)
		}
	}
}

func TestTypeTagShape(t *testing.T) {
	tests := []struct {
		tag  TypeTag
		want Shape
	}{
		{TypeNull, ShapeLeaf},
		{TypeInt, ShapeLeaf},
		{TypeBytes, ShapeLeaf},
		{TypeString, ShapeOne},
		{TypeList, ShapeOne},
		{TypeListData, ShapeOne},
		{TypeElem, ShapeTwo},
		{TypePair, ShapeTwo},
		{TypeFunc, ShapeOne},
		{TypeArgs, ShapeTwo},
		{TypeIter, ShapeTwo},
		{TypeInvalid, ShapeLeaf},
		{TypeTag(200), ShapeLeaf},
	}
	for _, tt := range tests {
		if got := tt.tag.Shape(); got != tt.want {
			t.Errorf("%s.Shape() = %d, want %d", tt.tag, got, tt.want)
		}
	}
}

func TestTypeTagValidAndString(t *testing.T) {
	if TypeInvalid.Valid() {
		t.Error("TypeInvalid should not be valid")
	}
	if !TypeIter.Valid() {
		t.Error("TypeIter should be valid")
	}
	if TypeTag(200).Valid() {
		t.Error("tag 200 should not be valid")
	}
	if got := TypeDict.String(); got != "dict" {
		t.Errorf("TypeDict.String() = %q, want dict", got)
	}
	if got := TypeTag(200).String(); got != "type(200)" {
		t.Errorf("TypeTag(200).String() = %q, want type(200)", got)
	}
}

func TestObjectSize(t *testing.T) {
	tests := []struct {
		tag   TypeTag
		extra int
		want  int
	}{
		{TypeNull, 0, 8},
		{TypeInt, 0, 16},
		{TypeElem, 0, 16},
		{TypeListData, 0, 20},
		{TypeBytes, 10, 22},
		{TypeRange, 0, 32},
	}
	for _, tt := range tests {
		if got := objectSize(tt.tag, tt.extra); got != tt.want {
			t.Errorf("objectSize(%s, %d) = %d, want %d", tt.tag, tt.extra, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Headers and children
// ---------------------------------------------------------------------------

func TestAllocWritesHeader(t *testing.T) {
	in, _ := newTestInterp(t)
	r := mustRef(t)(in.alloc(TypeElem, 0))

	hdr := ReadHeader(in.Heap(), r)
	if hdr.Tag != TypeElem || hdr.Flags != 0 {
		t.Errorf("header = %+v, want elem with no flags", hdr)
	}
	if Child(in.Heap(), r, 0) != heap.Nil || Child(in.Heap(), r, 1) != heap.Nil {
		t.Error("fresh elem should have nil children")
	}
	if in.Heap().Size(r) < objectSize(TypeElem, 0) {
		t.Errorf("node size %d smaller than object size", in.Heap().Size(r))
	}
}

func TestChildrenFollowsShape(t *testing.T) {
	in, _ := newTestInterp(t)
	one := mustRef(t)(in.NewInt(1))
	two := mustRef(t)(in.NewInt(2))
	list := mustRef(t)(in.NewList(one, two))

	var got []heap.Ref
	Children(in.Heap(), list, func(c heap.Ref) { got = append(got, c) })
	if len(got) != 1 || in.TypeOf(got[0]) != TypeListData {
		t.Fatalf("list children = %v, want one listdata", got)
	}

	got = got[:0]
	Children(in.Heap(), one, func(c heap.Ref) { got = append(got, c) })
	if len(got) != 0 {
		t.Errorf("int children = %v, want none", got)
	}

	// The first elem has both a value and a next link.
	head := Child(in.Heap(), Child(in.Heap(), list, 0), 0)
	got = got[:0]
	Children(in.Heap(), head, func(c heap.Ref) { got = append(got, c) })
	if len(got) != 2 || got[0] != one {
		t.Errorf("elem children = %v, want [%d next]", got, one)
	}
}

func TestBindSetsObjectFlags(t *testing.T) {
	in, _ := newTestInterp(t)
	a := mustRef(t)(in.NewInt(1))
	b := mustRef(t)(in.NewInt(2))
	if err := in.Bind("a", a, 0); err != nil {
		t.Fatal(err)
	}
	if err := in.Bind("b", b, BindConst); err != nil {
		t.Fatal(err)
	}
	if f := in.FlagsOf(a); f != FlagBound {
		t.Errorf("FlagsOf(a) = %b, want bound", f)
	}
	if f := in.FlagsOf(b); f != FlagBound|FlagFrozen {
		t.Errorf("FlagsOf(b) = %b, want bound|frozen", f)
	}
}

func TestTypeOfNil(t *testing.T) {
	in, _ := newTestInterp(t)
	if in.TypeOf(heap.Nil) != TypeNull {
		t.Error("TypeOf(Nil) should be null")
	}
	if in.FlagsOf(heap.Nil) != 0 {
		t.Error("FlagsOf(Nil) should be zero")
	}
}
