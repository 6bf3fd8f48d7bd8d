package vm

import (
	"strconv"
	"strings"

	"github.com/chazu/mote/heap"
)

// Display renders v the way print shows it: strings without quotes.
func (in *Interp) Display(v heap.Ref) string {
	if in.TypeOf(v) == TypeString {
		return in.StringValue(v)
	}
	return in.Repr(v)
}

// Repr renders v as source-like text. Containers that contain themselves
// print as [...] or {...} at the point of recursion.
func (in *Interp) Repr(v heap.Ref) string {
	var b strings.Builder
	in.writeRepr(&b, v, make(map[heap.Ref]bool))
	return b.String()
}

func (in *Interp) writeRepr(b *strings.Builder, v heap.Ref, active map[heap.Ref]bool) {
	switch t := in.TypeOf(v); t {
	case TypeNull:
		b.WriteString("null")
	case TypeBool:
		b.WriteString(strconv.FormatBool(in.BoolValue(v)))
	case TypeInt:
		b.WriteString(strconv.FormatInt(in.IntValue(v), 10))
	case TypeFloat:
		f := in.FloatValue(v)
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEnN") {
			s += ".0"
		}
		b.WriteString(s)
	case TypeString:
		b.WriteString(strconv.Quote(in.StringValue(v)))
	case TypeArray:
		b.WriteString("array[")
		for i, c := range in.ArrayBytes(v) {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(strconv.Itoa(int(c)))
		}
		b.WriteString("]")
	case TypeList:
		if active[v] {
			b.WriteString("[...]")
			return
		}
		active[v] = true
		defer delete(active, v)
		b.WriteString("[")
		i := 0
		for e := range in.ListValues(v) {
			if i > 0 {
				b.WriteString(", ")
			}
			in.writeRepr(b, e, active)
			i++
		}
		b.WriteString("]")
	case TypeDict:
		if active[v] {
			b.WriteString("{...}")
			return
		}
		active[v] = true
		defer delete(active, v)
		b.WriteString("{")
		i := 0
		for k, val := range in.DictEntries(v) {
			if i > 0 {
				b.WriteString(", ")
			}
			in.writeRepr(b, k, active)
			b.WriteString(": ")
			in.writeRepr(b, val, active)
			i++
		}
		b.WriteString("}")
	case TypeRange:
		b.WriteString(in.RangeValue(v).String())
	case TypeFunc:
		b.WriteString("<fn ")
		b.WriteString(funcName(in.funcs[in.funcID(v)]))
		b.WriteString(">")
	case TypeNative:
		b.WriteString("<builtin ")
		b.WriteString(builtins[in.nativeID(v)].name)
		b.WriteString(">")
	default:
		b.WriteString("<")
		b.WriteString(t.String())
		b.WriteString(">")
	}
}
