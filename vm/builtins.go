package vm

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chazu/mote/heap"
)

// ---------------------------------------------------------------------------
// Builtin functions
// ---------------------------------------------------------------------------

type builtinFunc func(in *Interp, args []heap.Ref) (heap.Ref, error)

type builtin struct {
	name      string
	signature string
	doc       string
	min, max  int // arity bounds; max < 0 means variadic
	fn        builtinFunc
}

// builtins is indexed by native id. It is filled in init because several
// builtins format values, and formatting refers back to this table.
var builtins []builtin

func init() {
	builtins = []builtin{
		{"print", "print(values...)", "Writes the values separated by spaces, then a newline.", 0, -1, builtinPrint},
		{"type", "type(value)", "Returns the type name of value.", 1, 1, builtinType},
		{"len", "len(value)", "Returns the length of a string, list, dict, array or range.", 1, 1, builtinLen},
		{"str", "str(value)", "Converts value to a string.", 1, 1, builtinStr},
		{"int", "int(value)", "Converts a number, bool or numeric string to an int.", 1, 1, builtinInt},
		{"float", "float(value)", "Converts a number, bool or numeric string to a float.", 1, 1, builtinFloat},
		{"bool", "bool(value)", "Returns the truthiness of value.", 1, 1, builtinBool},
		{"range", "range(stop) | range(start, stop[, step])", "Returns a range of ints from start (default 0) up to but excluding stop.", 1, 3, builtinRange},
		{"array", "array(size | string | list)", "Creates a mutable byte array.", 1, 1, builtinArray},
		{"iter", "iter(value)", "Returns an iterator over a list, dict, string, array or range.", 1, 1, builtinIter},
		{"next", "next(iter[, default])", "Advances an iterator. Returns default (null if omitted) once it is exhausted.", 1, 2, builtinNext},
		{"gc", "gc()", "Requests a garbage collection at the end of the current statement.", 0, 0, builtinGC},
		{"heap", "heap()", "Returns heap statistics as a dict.", 0, 0, builtinHeap},
		{"env", "env()", "Returns the visible bindings as a dict.", 0, 0, builtinEnv},
	}
}

// BuiltinDoc describes a builtin function.
type BuiltinDoc struct {
	Name      string
	Signature string
	Doc       string
}

// Builtins lists the builtin functions in declaration order.
func Builtins() []BuiltinDoc {
	docs := make([]BuiltinDoc, len(builtins))
	for i, b := range builtins {
		docs[i] = BuiltinDoc{Name: b.name, Signature: b.signature, Doc: b.doc}
	}
	return docs
}

func (in *Interp) callBuiltin(id int, args []heap.Ref) (heap.Ref, error) {
	if id < 0 || id >= len(builtins) {
		return heap.Nil, fmt.Errorf("%w: unknown builtin %d", ErrType, id)
	}
	b := builtins[id]
	if len(args) < b.min || (b.max >= 0 && len(args) > b.max) {
		return heap.Nil, fmt.Errorf("%w: %s", ErrArity, b.signature)
	}
	return b.fn(in, args)
}

func builtinPrint(in *Interp, args []heap.Ref) (heap.Ref, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = in.Display(a)
	}
	if _, err := io.WriteString(in.out, strings.Join(parts, " ")+"\n"); err != nil {
		return heap.Nil, err
	}
	return in.null, nil
}

func builtinType(in *Interp, args []heap.Ref) (heap.Ref, error) {
	return in.NewString(in.TypeOf(args[0]).String())
}

// Len returns the length of a sized value. Strings count runes.
func (in *Interp) Len(v heap.Ref) (int64, error) {
	switch in.TypeOf(v) {
	case TypeString:
		return int64(utf8.RuneCount(in.rawBytes(Child(in.heap, v, 0)))), nil
	case TypeList:
		return int64(in.ListLen(v)), nil
	case TypeDict:
		return int64(in.DictLen(v)), nil
	case TypeArray:
		return int64(len(in.ArrayBytes(v))), nil
	case TypeRange:
		return in.RangeValue(v).Len(), nil
	}
	return 0, fmt.Errorf("%w: %s has no length", ErrType, in.TypeOf(v))
}

func builtinLen(in *Interp, args []heap.Ref) (heap.Ref, error) {
	n, err := in.Len(args[0])
	if err != nil {
		return heap.Nil, err
	}
	return in.NewInt(n)
}

func builtinStr(in *Interp, args []heap.Ref) (heap.Ref, error) {
	if in.TypeOf(args[0]) == TypeString {
		return args[0], nil
	}
	return in.NewString(in.Display(args[0]))
}

func builtinInt(in *Interp, args []heap.Ref) (heap.Ref, error) {
	v := args[0]
	switch in.TypeOf(v) {
	case TypeInt:
		return v, nil
	case TypeFloat:
		f := in.FloatValue(v)
		if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
			return heap.Nil, fmt.Errorf("%w: cannot convert %v to int", ErrType, f)
		}
		return in.NewInt(int64(f))
	case TypeBool:
		if in.BoolValue(v) {
			return in.NewInt(1)
		}
		return in.NewInt(0)
	case TypeString:
		s := strings.TrimSpace(in.StringValue(v))
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return heap.Nil, fmt.Errorf("%w: invalid int %q", ErrType, s)
		}
		return in.NewInt(n)
	}
	return heap.Nil, fmt.Errorf("%w: cannot convert %s to int", ErrType, in.TypeOf(v))
}

func builtinFloat(in *Interp, args []heap.Ref) (heap.Ref, error) {
	v := args[0]
	switch in.TypeOf(v) {
	case TypeFloat:
		return v, nil
	case TypeInt:
		return in.NewFloat(float64(in.IntValue(v)))
	case TypeBool:
		if in.BoolValue(v) {
			return in.NewFloat(1)
		}
		return in.NewFloat(0)
	case TypeString:
		s := strings.TrimSpace(in.StringValue(v))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return heap.Nil, fmt.Errorf("%w: invalid float %q", ErrType, s)
		}
		return in.NewFloat(f)
	}
	return heap.Nil, fmt.Errorf("%w: cannot convert %s to float", ErrType, in.TypeOf(v))
}

func builtinBool(in *Interp, args []heap.Ref) (heap.Ref, error) {
	return in.NewBool(in.Truthy(args[0])), nil
}

func builtinRange(in *Interp, args []heap.Ref) (heap.Ref, error) {
	bounds := make([]int64, len(args))
	for i, a := range args {
		n, err := in.intArg(a, "range bound")
		if err != nil {
			return heap.Nil, err
		}
		bounds[i] = n
	}
	rg := Range{Step: 1}
	switch len(bounds) {
	case 1:
		rg.Stop = bounds[0]
	case 2:
		rg.Start, rg.Stop = bounds[0], bounds[1]
	case 3:
		rg.Start, rg.Stop, rg.Step = bounds[0], bounds[1], bounds[2]
	}
	if rg.Step == 0 {
		return heap.Nil, fmt.Errorf("%w: range step must not be zero", ErrType)
	}
	if rg.Count() > math.MaxInt64 {
		return heap.Nil, fmt.Errorf("%w: %s has more than %d values", ErrType, rg, int64(math.MaxInt64))
	}
	return in.NewRange(rg)
}

func builtinArray(in *Interp, args []heap.Ref) (heap.Ref, error) {
	v := args[0]
	switch in.TypeOf(v) {
	case TypeInt:
		n := in.IntValue(v)
		if n < 0 || n > int64(in.heap.Capacity()) {
			return heap.Nil, fmt.Errorf("%w: invalid array size %d", ErrType, n)
		}
		return in.NewArray(make([]byte, n))
	case TypeString:
		return in.NewArray(in.rawBytes(Child(in.heap, v, 0)))
	case TypeList:
		data := make([]byte, 0, in.ListLen(v))
		for e := range in.ListValues(v) {
			b, err := in.byteArg(e)
			if err != nil {
				return heap.Nil, err
			}
			data = append(data, b)
		}
		return in.NewArray(data)
	}
	return heap.Nil, fmt.Errorf("%w: cannot build an array from %s", ErrType, in.TypeOf(v))
}

func builtinIter(in *Interp, args []heap.Ref) (heap.Ref, error) {
	return in.NewIter(args[0])
}

func builtinNext(in *Interp, args []heap.Ref) (heap.Ref, error) {
	if in.TypeOf(args[0]) != TypeIter {
		return heap.Nil, fmt.Errorf("%w: next expects an iter, not %s", ErrType, in.TypeOf(args[0]))
	}
	v, ok, err := in.IterNext(args[0])
	if err != nil {
		return heap.Nil, err
	}
	if ok {
		return v, nil
	}
	if len(args) == 2 {
		return args[1], nil
	}
	return in.null, nil
}

func builtinGC(in *Interp, args []heap.Ref) (heap.Ref, error) {
	in.RequestCollect()
	return in.null, nil
}

// dictFromInts builds a dict of string keys to int values, in key order.
func (in *Interp) dictFromInts(keys []string, values map[string]int64) (heap.Ref, error) {
	d, err := in.NewDict()
	if err != nil {
		return heap.Nil, err
	}
	for _, k := range keys {
		kr, err := in.NewString(k)
		if err != nil {
			return heap.Nil, err
		}
		vr, err := in.NewInt(values[k])
		if err != nil {
			return heap.Nil, err
		}
		if err := in.DictSet(d, kr, vr); err != nil {
			return heap.Nil, err
		}
	}
	return d, nil
}

func builtinHeap(in *Interp, args []heap.Ref) (heap.Ref, error) {
	s := in.heap.Stats()
	keys := []string{"capacity", "nodes", "free_nodes", "used_nodes", "bytes_used", "bytes_free", "cycles"}
	return in.dictFromInts(keys, map[string]int64{
		"capacity":   int64(s.Capacity),
		"nodes":      int64(s.TotalNodes),
		"free_nodes": int64(s.FreeNodes),
		"used_nodes": int64(s.UsedNodes),
		"bytes_used": int64(s.BytesUsed),
		"bytes_free": int64(s.BytesFree),
		"cycles":     int64(in.gc.Cycles()),
	})
}

func builtinEnv(in *Interp, args []heap.Ref) (heap.Ref, error) {
	d, err := in.NewDict()
	if err != nil {
		return heap.Nil, err
	}
	for _, b := range in.env.Visible() {
		k, err := in.NewString(b.Name)
		if err != nil {
			return heap.Nil, err
		}
		if err := in.DictSet(d, k, b.Value); err != nil {
			return heap.Nil, err
		}
	}
	return d, nil
}
