package vm

import (
	"encoding/binary"
	"fmt"
	"iter"
	"unicode/utf8"

	"github.com/chazu/mote/heap"
)

// ---------------------------------------------------------------------------
// List data chains
// ---------------------------------------------------------------------------
//
// Lists and dicts share one representation: the container object has a
// single child, a listdata node, whose child is the head of a chain of elem
// nodes (value, next). The listdata payload caches the length and the tail
// element. The tail is reachable through the chain, so it is payload rather
// than a traced child.

func (in *Interp) newListData() (heap.Ref, error) {
	return in.alloc(TypeListData, 0)
}

func (in *Interp) chainLen(ld heap.Ref) int {
	return int(binary.LittleEndian.Uint32(payload(in.heap, ld)))
}

func (in *Interp) setChainLen(ld heap.Ref, n int) {
	binary.LittleEndian.PutUint32(payload(in.heap, ld), uint32(n))
}

func (in *Interp) chainTail(ld heap.Ref) heap.Ref {
	return heap.Ref(binary.LittleEndian.Uint32(payload(in.heap, ld)[4:]))
}

func (in *Interp) setChainTail(ld, e heap.Ref) {
	binary.LittleEndian.PutUint32(payload(in.heap, ld)[4:], uint32(e))
}

// chainElems yields the elem nodes of a chain in order.
func (in *Interp) chainElems(ld heap.Ref) iter.Seq2[int, heap.Ref] {
	return func(yield func(int, heap.Ref) bool) {
		i := 0
		for e := Child(in.heap, ld, 0); e != heap.Nil; e = Child(in.heap, e, 1) {
			if !yield(i, e) {
				return
			}
			i++
		}
	}
}

// chainElem returns the i-th elem node and its predecessor (Nil for the head).
func (in *Interp) chainElem(ld heap.Ref, i int) (elem, prev heap.Ref) {
	for j, e := range in.chainElems(ld) {
		if j == i {
			return e, prev
		}
		prev = e
	}
	return heap.Nil, heap.Nil
}

func (in *Interp) chainAppend(ld, v heap.Ref) error {
	e, err := in.alloc(TypeElem, 0)
	if err != nil {
		return err
	}
	setChild(in.heap, e, 0, v)
	if tail := in.chainTail(ld); tail == heap.Nil {
		setChild(in.heap, ld, 0, e)
	} else {
		setChild(in.heap, tail, 1, e)
	}
	in.setChainTail(ld, e)
	in.setChainLen(ld, in.chainLen(ld)+1)
	return nil
}

// chainInsert inserts v before position i. i == length appends.
func (in *Interp) chainInsert(ld heap.Ref, i int, v heap.Ref) error {
	n := in.chainLen(ld)
	if i == n {
		return in.chainAppend(ld, v)
	}
	e, err := in.alloc(TypeElem, 0)
	if err != nil {
		return err
	}
	setChild(in.heap, e, 0, v)
	at, prev := in.chainElem(ld, i)
	setChild(in.heap, e, 1, at)
	if prev == heap.Nil {
		setChild(in.heap, ld, 0, e)
	} else {
		setChild(in.heap, prev, 1, e)
	}
	in.setChainLen(ld, n+1)
	return nil
}

// chainRemove unlinks the i-th elem and returns its value. The unlinked
// node is left for the collector.
func (in *Interp) chainRemove(ld heap.Ref, i int) heap.Ref {
	e, prev := in.chainElem(ld, i)
	next := Child(in.heap, e, 1)
	if prev == heap.Nil {
		setChild(in.heap, ld, 0, next)
	} else {
		setChild(in.heap, prev, 1, next)
	}
	if next == heap.Nil {
		in.setChainTail(ld, prev)
	}
	in.setChainLen(ld, in.chainLen(ld)-1)
	return Child(in.heap, e, 0)
}

// ---------------------------------------------------------------------------
// Lists
// ---------------------------------------------------------------------------

// NewList allocates a list holding the given values.
func (in *Interp) NewList(values ...heap.Ref) (heap.Ref, error) {
	ld, err := in.newListData()
	if err != nil {
		return heap.Nil, err
	}
	r, err := in.alloc(TypeList, 0)
	if err != nil {
		return heap.Nil, err
	}
	setChild(in.heap, r, 0, ld)
	for _, v := range values {
		if err := in.chainAppend(ld, v); err != nil {
			return heap.Nil, err
		}
	}
	return r, nil
}

// ListLen returns the length of a list.
func (in *Interp) ListLen(list heap.Ref) int {
	return in.chainLen(Child(in.heap, list, 0))
}

// ListValues yields the elements of a list in order.
func (in *Interp) ListValues(list heap.Ref) iter.Seq[heap.Ref] {
	return func(yield func(heap.Ref) bool) {
		for _, e := range in.chainElems(Child(in.heap, list, 0)) {
			if !yield(Child(in.heap, e, 0)) {
				return
			}
		}
	}
}

// ListGet returns element i. Negative indexes count from the end.
func (in *Interp) ListGet(list heap.Ref, i int64) (heap.Ref, error) {
	ld := Child(in.heap, list, 0)
	idx, err := normIndex(i, in.chainLen(ld))
	if err != nil {
		return heap.Nil, err
	}
	e, _ := in.chainElem(ld, idx)
	return Child(in.heap, e, 0), nil
}

// ListSet replaces element i.
func (in *Interp) ListSet(list heap.Ref, i int64, v heap.Ref) error {
	ld := Child(in.heap, list, 0)
	idx, err := normIndex(i, in.chainLen(ld))
	if err != nil {
		return err
	}
	e, _ := in.chainElem(ld, idx)
	setChild(in.heap, e, 0, v)
	return nil
}

// ListPush appends v.
func (in *Interp) ListPush(list, v heap.Ref) error {
	return in.chainAppend(Child(in.heap, list, 0), v)
}

// ListInsert inserts v before index i. An index equal to the length appends.
func (in *Interp) ListInsert(list heap.Ref, i int64, v heap.Ref) error {
	ld := Child(in.heap, list, 0)
	n := in.chainLen(ld)
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i > int64(n) {
		return fmt.Errorf("%w: insert at %d into list of length %d", ErrIndex, i, n)
	}
	return in.chainInsert(ld, int(i), v)
}

// ListRemove removes and returns element i.
func (in *Interp) ListRemove(list heap.Ref, i int64) (heap.Ref, error) {
	ld := Child(in.heap, list, 0)
	idx, err := normIndex(i, in.chainLen(ld))
	if err != nil {
		return heap.Nil, err
	}
	return in.chainRemove(ld, idx), nil
}

// ListPop removes and returns the last element.
func (in *Interp) ListPop(list heap.Ref) (heap.Ref, error) {
	ld := Child(in.heap, list, 0)
	n := in.chainLen(ld)
	if n == 0 {
		return heap.Nil, fmt.Errorf("%w: pop from empty list", ErrIndex)
	}
	return in.chainRemove(ld, n-1), nil
}

func normIndex(i int64, n int) (int, error) {
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return 0, fmt.Errorf("%w: index %d out of range for length %d", ErrIndex, i, n)
	}
	return int(i), nil
}

// ---------------------------------------------------------------------------
// Dicts
// ---------------------------------------------------------------------------
//
// A dict's chain holds pair nodes (key, value) in insertion order. Lookup is
// a linear scan comparing keys with Equal.

// NewDict allocates an empty dict.
func (in *Interp) NewDict() (heap.Ref, error) {
	ld, err := in.newListData()
	if err != nil {
		return heap.Nil, err
	}
	r, err := in.alloc(TypeDict, 0)
	if err != nil {
		return heap.Nil, err
	}
	setChild(in.heap, r, 0, ld)
	return r, nil
}

// DictLen returns the number of entries.
func (in *Interp) DictLen(dict heap.Ref) int {
	return in.chainLen(Child(in.heap, dict, 0))
}

// DictEntries yields key/value pairs in insertion order.
func (in *Interp) DictEntries(dict heap.Ref) iter.Seq2[heap.Ref, heap.Ref] {
	return func(yield func(heap.Ref, heap.Ref) bool) {
		for _, e := range in.chainElems(Child(in.heap, dict, 0)) {
			pair := Child(in.heap, e, 0)
			if !yield(Child(in.heap, pair, 0), Child(in.heap, pair, 1)) {
				return
			}
		}
	}
}

// dictFind returns the index and pair node holding key.
func (in *Interp) dictFind(dict, key heap.Ref) (int, heap.Ref) {
	for i, e := range in.chainElems(Child(in.heap, dict, 0)) {
		pair := Child(in.heap, e, 0)
		if in.Equal(Child(in.heap, pair, 0), key) {
			return i, pair
		}
	}
	return -1, heap.Nil
}

// DictGet returns the value stored under key.
func (in *Interp) DictGet(dict, key heap.Ref) (heap.Ref, bool) {
	_, pair := in.dictFind(dict, key)
	if pair == heap.Nil {
		return heap.Nil, false
	}
	return Child(in.heap, pair, 1), true
}

// DictSet stores v under key, replacing any existing value.
func (in *Interp) DictSet(dict, key, v heap.Ref) error {
	if !hashable(in.TypeOf(key)) {
		return fmt.Errorf("%w: %s cannot be a dict key", ErrType, in.TypeOf(key))
	}
	if _, pair := in.dictFind(dict, key); pair != heap.Nil {
		setChild(in.heap, pair, 1, v)
		return nil
	}
	pair, err := in.alloc(TypePair, 0)
	if err != nil {
		return err
	}
	setChild(in.heap, pair, 0, key)
	setChild(in.heap, pair, 1, v)
	return in.chainAppend(Child(in.heap, dict, 0), pair)
}

// DictRemove deletes key and returns its value.
func (in *Interp) DictRemove(dict, key heap.Ref) (heap.Ref, bool) {
	i, pair := in.dictFind(dict, key)
	if pair == heap.Nil {
		return heap.Nil, false
	}
	in.chainRemove(Child(in.heap, dict, 0), i)
	return Child(in.heap, pair, 1), true
}

// hashable reports whether values of type t may be used as dict keys.
func hashable(t TypeTag) bool {
	switch t {
	case TypeNull, TypeBool, TypeInt, TypeFloat, TypeString:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Iterators
// ---------------------------------------------------------------------------
//
// An iter node holds its source and a cursor. For lists and dicts the cursor
// is the next elem node to visit; other sources use the integer position in
// the payload. A position of -1 marks an exhausted iterator.

// NewIter creates an iterator over source.
func (in *Interp) NewIter(source heap.Ref) (heap.Ref, error) {
	switch t := in.TypeOf(source); t {
	case TypeList, TypeDict, TypeString, TypeArray, TypeRange:
	case TypeIter:
		return source, nil
	default:
		return heap.Nil, fmt.Errorf("%w: %s is not iterable", ErrType, t)
	}
	r, err := in.alloc(TypeIter, 0)
	if err != nil {
		return heap.Nil, err
	}
	setChild(in.heap, r, 0, source)
	switch in.TypeOf(source) {
	case TypeList, TypeDict:
		setChild(in.heap, r, 1, Child(in.heap, Child(in.heap, source, 0), 0))
	}
	return r, nil
}

func (in *Interp) iterPos(it heap.Ref) int64 {
	return int64(binary.LittleEndian.Uint64(payload(in.heap, it)))
}

func (in *Interp) setIterPos(it heap.Ref, pos int64) {
	binary.LittleEndian.PutUint64(payload(in.heap, it), uint64(pos))
}

// IterNext advances the iterator. ok is false once it is exhausted. Dicts
// yield their keys.
func (in *Interp) IterNext(it heap.Ref) (v heap.Ref, ok bool, err error) {
	pos := in.iterPos(it)
	if pos < 0 {
		return heap.Nil, false, nil
	}
	source := Child(in.heap, it, 0)

	switch in.TypeOf(source) {
	case TypeList, TypeDict:
		e := Child(in.heap, it, 1)
		if e == heap.Nil {
			break
		}
		setChild(in.heap, it, 1, Child(in.heap, e, 1))
		in.setIterPos(it, pos+1)
		v = Child(in.heap, e, 0)
		if in.TypeOf(source) == TypeDict {
			v = Child(in.heap, v, 0)
		}
		return v, true, nil

	case TypeString:
		s := in.rawBytes(Child(in.heap, source, 0))
		if pos >= int64(len(s)) {
			break
		}
		ch, size := utf8.DecodeRune(s[pos:])
		in.setIterPos(it, pos+int64(size))
		v, err = in.NewString(string(ch))
		return v, err == nil, err

	case TypeArray:
		b := in.ArrayBytes(source)
		if pos >= int64(len(b)) {
			break
		}
		in.setIterPos(it, pos+1)
		v, err = in.NewInt(int64(b[pos]))
		return v, err == nil, err

	case TypeRange:
		rg := in.RangeValue(source)
		if pos >= rg.Len() {
			break
		}
		in.setIterPos(it, pos+1)
		v, err = in.NewInt(rg.At(pos))
		return v, err == nil, err
	}

	in.setIterPos(it, -1)
	setChild(in.heap, it, 1, heap.Nil)
	return heap.Nil, false, nil
}
