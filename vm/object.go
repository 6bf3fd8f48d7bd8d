package vm

import (
	"encoding/binary"
	"fmt"

	"github.com/chazu/mote/heap"
)

// ---------------------------------------------------------------------------
// Object layout
// ---------------------------------------------------------------------------
//
// Every value is one heap node. Its data starts with an object header,
// followed by the child slots, followed by the type's inline payload:
//
//	+0  tag    uint8
//	+1  flags  uint8
//	+2  reserved (6 bytes)
//	+8  child slots, SlotSize bytes each, count fixed by the tag's Shape
//	+8+SlotSize*n  payload
//
// Child slots hold heap.Refs and are the only thing the collector follows.
// Payload bytes are never traced.

const (
	// ObjectHeaderSize is the size of the object header in bytes.
	ObjectHeaderSize = 8

	// SlotSize is the size of one child slot.
	SlotSize = 4
)

// TypeTag identifies the type of a heap object.
type TypeTag uint8

const (
	TypeInvalid TypeTag = iota
	TypeNull
	TypeBool
	TypeInt
	TypeFloat
	TypeBytes
	TypeString
	TypeArray
	TypeList
	TypeListData
	TypeElem
	TypeDict
	TypePair
	TypeRange
	TypeFunc
	TypeArgs
	TypeNative
	TypeIter

	numTypes
)

// Shape is the closed set of child layouts an object can have. The number of
// child slots is derived from the shape, never stored.
type Shape uint8

const (
	ShapeLeaf Shape = iota // no children
	ShapeOne               // one child slot
	ShapeTwo               // two child slots
)

// Children returns the number of child slots for the shape.
func (s Shape) Children() int {
	switch s {
	case ShapeLeaf:
		return 0
	case ShapeOne:
		return 1
	case ShapeTwo:
		return 2
	}
	panic(fmt.Sprintf("vm: unknown shape %d", s))
}

type typeInfo struct {
	name    string
	shape   Shape
	payload int // fixed payload size in bytes
}

var typeTable = [numTypes]typeInfo{
	TypeInvalid:  {"invalid", ShapeLeaf, 0},
	TypeNull:     {"null", ShapeLeaf, 0},
	TypeBool:     {"bool", ShapeLeaf, 1},
	TypeInt:      {"int", ShapeLeaf, 8},
	TypeFloat:    {"float", ShapeLeaf, 8},
	TypeBytes:    {"bytes", ShapeLeaf, 4}, // length, then the bytes themselves
	TypeString:   {"string", ShapeOne, 0},
	TypeArray:    {"array", ShapeOne, 0},
	TypeList:     {"list", ShapeOne, 0},
	TypeListData: {"listdata", ShapeOne, 8}, // length, tail element
	TypeElem:     {"elem", ShapeTwo, 0},
	TypeDict:     {"dict", ShapeOne, 0},
	TypePair:     {"pair", ShapeTwo, 0},
	TypeRange:    {"range", ShapeLeaf, 24},
	TypeFunc:     {"fn", ShapeOne, 4},
	TypeArgs:     {"args", ShapeTwo, 0},
	TypeNative:   {"builtin", ShapeLeaf, 4},
	TypeIter:     {"iter", ShapeTwo, 8},
}

// Valid reports whether t is a known, allocatable type.
func (t TypeTag) Valid() bool {
	return t > TypeInvalid && t < numTypes
}

func (t TypeTag) String() string {
	if t < numTypes {
		return typeTable[t].name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Shape returns the child layout of objects with this tag.
func (t TypeTag) Shape() Shape {
	if !t.Valid() {
		return ShapeLeaf
	}
	return typeTable[t].shape
}

// ObjectFlags are the semantic bits of an object header.
type ObjectFlags uint8

const (
	// FlagBound marks objects that have been bound to a name.
	FlagBound ObjectFlags = 1 << iota

	// FlagFrozen marks objects bound with const. Mutating methods refuse them.
	FlagFrozen
)

// Header is the decoded object header.
type Header struct {
	Tag   TypeTag
	Flags ObjectFlags
}

// ReadHeader decodes the object header at r.
func ReadHeader(h *heap.Heap, r heap.Ref) Header {
	b := h.Bytes(r)
	return Header{Tag: TypeTag(b[0]), Flags: ObjectFlags(b[1])}
}

// Child returns child slot i of the object at r. i must be below the
// number of slots of the object's shape.
func Child(h *heap.Heap, r heap.Ref, i int) heap.Ref {
	b := h.Bytes(r)
	off := ObjectHeaderSize + i*SlotSize
	return heap.Ref(binary.LittleEndian.Uint32(b[off:]))
}

// Children calls visit for every non-nil child of the object at r. The
// slots visited are fixed by the tag's shape.
func Children(h *heap.Heap, r heap.Ref, visit func(heap.Ref)) {
	switch ReadHeader(h, r).Tag.Shape() {
	case ShapeLeaf:
	case ShapeOne:
		if c := Child(h, r, 0); c != heap.Nil {
			visit(c)
		}
	case ShapeTwo:
		if c := Child(h, r, 0); c != heap.Nil {
			visit(c)
		}
		if c := Child(h, r, 1); c != heap.Nil {
			visit(c)
		}
	}
}

func setChild(h *heap.Heap, r heap.Ref, i int, c heap.Ref) {
	b := h.Bytes(r)
	off := ObjectHeaderSize + i*SlotSize
	binary.LittleEndian.PutUint32(b[off:], uint32(c))
}

// payload returns the bytes following the child slots.
func payload(h *heap.Heap, r heap.Ref) []byte {
	b := h.Bytes(r)
	return b[ObjectHeaderSize+TypeTag(b[0]).Shape().Children()*SlotSize:]
}

func setFlags(h *heap.Heap, r heap.Ref, f ObjectFlags) {
	h.Bytes(r)[1] |= byte(f)
}

// objectSize returns the allocation size for an object of type t with extra
// variable payload bytes.
func objectSize(t TypeTag, extra int) int {
	info := typeTable[t]
	return ObjectHeaderSize + info.shape.Children()*SlotSize + info.payload + extra
}

// ---------------------------------------------------------------------------
// Interp accessors
// ---------------------------------------------------------------------------

// alloc allocates an object of type t with extra variable payload bytes and
// writes its header. Child slots and payload start zeroed.
func (in *Interp) alloc(t TypeTag, extra int) (heap.Ref, error) {
	r, err := in.heap.Allocate(objectSize(t, extra))
	if err != nil {
		in.gcRequested = true
		return heap.Nil, err
	}
	b := in.heap.Bytes(r)
	b[0] = byte(t)
	return r, nil
}

// TypeOf returns the type tag of the object at r.
func (in *Interp) TypeOf(r heap.Ref) TypeTag {
	if r == heap.Nil {
		return TypeNull
	}
	return ReadHeader(in.heap, r).Tag
}

// FlagsOf returns the object flags of the object at r.
func (in *Interp) FlagsOf(r heap.Ref) ObjectFlags {
	if r == heap.Nil {
		return 0
	}
	return ReadHeader(in.heap, r).Flags
}
