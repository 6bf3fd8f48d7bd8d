package vm

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/chazu/mote/heap"
)

// ---------------------------------------------------------------------------
// Scalar constructors
// ---------------------------------------------------------------------------

// Null returns the null singleton.
func (in *Interp) Null() heap.Ref {
	return in.null
}

// NewBool returns the true or false singleton.
func (in *Interp) NewBool(b bool) heap.Ref {
	if b {
		return in.trueRef
	}
	return in.falseRef
}

// NewInt allocates an integer.
func (in *Interp) NewInt(v int64) (heap.Ref, error) {
	r, err := in.alloc(TypeInt, 0)
	if err != nil {
		return heap.Nil, err
	}
	binary.LittleEndian.PutUint64(payload(in.heap, r), uint64(v))
	return r, nil
}

// NewFloat allocates a float.
func (in *Interp) NewFloat(v float64) (heap.Ref, error) {
	r, err := in.alloc(TypeFloat, 0)
	if err != nil {
		return heap.Nil, err
	}
	binary.LittleEndian.PutUint64(payload(in.heap, r), math.Float64bits(v))
	return r, nil
}

// BoolValue returns the value of a bool object.
func (in *Interp) BoolValue(r heap.Ref) bool {
	return payload(in.heap, r)[0] != 0
}

// IntValue returns the value of an int object.
func (in *Interp) IntValue(r heap.Ref) int64 {
	return int64(binary.LittleEndian.Uint64(payload(in.heap, r)))
}

// FloatValue returns the value of a float object.
func (in *Interp) FloatValue(r heap.Ref) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(payload(in.heap, r)))
}

// ---------------------------------------------------------------------------
// Byte storage: strings and arrays
// ---------------------------------------------------------------------------

// newBytes allocates a bytes leaf holding a copy of data, with room for at
// least capacity bytes.
func (in *Interp) newBytes(data []byte, capacity int) (heap.Ref, error) {
	r, err := in.alloc(TypeBytes, max(len(data), capacity))
	if err != nil {
		return heap.Nil, err
	}
	p := payload(in.heap, r)
	binary.LittleEndian.PutUint32(p, uint32(len(data)))
	copy(p[4:], data)
	return r, nil
}

// rawBytes returns the live contents of a bytes leaf. The slice aliases the
// arena.
func (in *Interp) rawBytes(r heap.Ref) []byte {
	p := payload(in.heap, r)
	n := binary.LittleEndian.Uint32(p)
	return p[4 : 4+n]
}

// NewString allocates a string: a string object whose child is a bytes leaf.
func (in *Interp) NewString(s string) (heap.Ref, error) {
	b, err := in.newBytes([]byte(s), 0)
	if err != nil {
		return heap.Nil, err
	}
	r, err := in.alloc(TypeString, 0)
	if err != nil {
		return heap.Nil, err
	}
	setChild(in.heap, r, 0, b)
	return r, nil
}

// StringValue returns a copy of the contents of a string object.
func (in *Interp) StringValue(r heap.Ref) string {
	return string(in.rawBytes(Child(in.heap, r, 0)))
}

// NewArray allocates a mutable byte array holding a copy of data.
func (in *Interp) NewArray(data []byte) (heap.Ref, error) {
	b, err := in.newBytes(data, 0)
	if err != nil {
		return heap.Nil, err
	}
	r, err := in.alloc(TypeArray, 0)
	if err != nil {
		return heap.Nil, err
	}
	setChild(in.heap, r, 0, b)
	return r, nil
}

// ArrayBytes returns the contents of a byte array. The slice aliases the
// arena and is invalidated by arrayPush.
func (in *Interp) ArrayBytes(r heap.Ref) []byte {
	return in.rawBytes(Child(in.heap, r, 0))
}

// arrayPush appends one byte, growing the backing bytes leaf with Resize
// when it is full. Capacity doubles so pushes stay amortised constant time.
func (in *Interp) arrayPush(arr heap.Ref, v byte) error {
	b := Child(in.heap, arr, 0)
	n := len(in.rawBytes(b))
	need := objectSize(TypeBytes, n+1)
	if need > in.heap.Size(b) {
		grown, err := in.heap.Resize(b, objectSize(TypeBytes, 2*(n+1)))
		if err != nil {
			in.gcRequested = true
			return err
		}
		b = grown
		setChild(in.heap, arr, 0, b)
	}
	p := payload(in.heap, b)
	p[4+n] = v
	binary.LittleEndian.PutUint32(p, uint32(n+1))
	return nil
}

// ---------------------------------------------------------------------------
// Ranges, functions, natives
// ---------------------------------------------------------------------------

// Range is the decoded payload of a range object.
type Range struct {
	Start, Stop, Step int64
}

// Count returns the number of values the range yields. Spans are computed
// in uint64 so the widest int64 ranges do not overflow.
func (r Range) Count() uint64 {
	var span, step uint64
	switch {
	case r.Step > 0 && r.Start < r.Stop:
		span, step = uint64(r.Stop)-uint64(r.Start), uint64(r.Step)
	case r.Step < 0 && r.Start > r.Stop:
		span, step = uint64(r.Start)-uint64(r.Stop), uint64(-r.Step)
	default:
		return 0
	}
	return (span-1)/step + 1
}

// Len is Count clamped to int64. The range builtin rejects ranges that
// would need the clamp.
func (r Range) Len() int64 {
	if n := r.Count(); n <= math.MaxInt64 {
		return int64(n)
	}
	return math.MaxInt64
}

func (r Range) String() string {
	s := "range(" + strconv.FormatInt(r.Start, 10) + ", " + strconv.FormatInt(r.Stop, 10)
	if r.Step != 1 {
		s += ", " + strconv.FormatInt(r.Step, 10)
	}
	return s + ")"
}

// At returns the i-th value of the range.
func (r Range) At(i int64) int64 {
	return r.Start + i*r.Step
}

// Contains reports whether the range yields v.
func (r Range) Contains(v int64) bool {
	if r.Step > 0 && (v < r.Start || v >= r.Stop) {
		return false
	}
	if r.Step < 0 && (v > r.Start || v <= r.Stop) {
		return false
	}
	if r.Step > 0 {
		return (uint64(v)-uint64(r.Start))%uint64(r.Step) == 0
	}
	return (uint64(r.Start)-uint64(v))%uint64(-r.Step) == 0
}

// NewRange allocates a range. Step must not be zero.
func (in *Interp) NewRange(rg Range) (heap.Ref, error) {
	r, err := in.alloc(TypeRange, 0)
	if err != nil {
		return heap.Nil, err
	}
	p := payload(in.heap, r)
	binary.LittleEndian.PutUint64(p[0:], uint64(rg.Start))
	binary.LittleEndian.PutUint64(p[8:], uint64(rg.Stop))
	binary.LittleEndian.PutUint64(p[16:], uint64(rg.Step))
	return r, nil
}

// RangeValue decodes a range object.
func (in *Interp) RangeValue(r heap.Ref) Range {
	p := payload(in.heap, r)
	return Range{
		Start: int64(binary.LittleEndian.Uint64(p[0:])),
		Stop:  int64(binary.LittleEndian.Uint64(p[8:])),
		Step:  int64(binary.LittleEndian.Uint64(p[16:])),
	}
}

// newFunc allocates a function object. Its parameter names are stored as a
// chain of args nodes, each holding a name string and the next link.
func (in *Interp) newFunc(id int, params []string) (heap.Ref, error) {
	next := heap.Nil
	for i := len(params) - 1; i >= 0; i-- {
		name, err := in.NewString(params[i])
		if err != nil {
			return heap.Nil, err
		}
		a, err := in.alloc(TypeArgs, 0)
		if err != nil {
			return heap.Nil, err
		}
		setChild(in.heap, a, 0, name)
		setChild(in.heap, a, 1, next)
		next = a
	}
	r, err := in.alloc(TypeFunc, 0)
	if err != nil {
		return heap.Nil, err
	}
	setChild(in.heap, r, 0, next)
	binary.LittleEndian.PutUint32(payload(in.heap, r), uint32(id))
	return r, nil
}

func (in *Interp) funcID(r heap.Ref) int {
	return int(binary.LittleEndian.Uint32(payload(in.heap, r)))
}

// funcParams reads the parameter names back from the args chain.
func (in *Interp) funcParams(r heap.Ref) []string {
	var params []string
	for a := Child(in.heap, r, 0); a != heap.Nil; a = Child(in.heap, a, 1) {
		params = append(params, in.StringValue(Child(in.heap, a, 0)))
	}
	return params
}

func (in *Interp) newNative(id int) (heap.Ref, error) {
	r, err := in.alloc(TypeNative, 0)
	if err != nil {
		return heap.Nil, err
	}
	binary.LittleEndian.PutUint32(payload(in.heap, r), uint32(id))
	return r, nil
}

func (in *Interp) nativeID(r heap.Ref) int {
	return int(binary.LittleEndian.Uint32(payload(in.heap, r)))
}
