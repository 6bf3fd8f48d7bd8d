package vm

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/chazu/mote/heap"
)

// ---------------------------------------------------------------------------
// Methods
// ---------------------------------------------------------------------------

type methodFunc func(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error)

type method struct {
	signature string
	doc       string
	min, max  int
	mutates   bool
	fn        methodFunc
}

var methods map[TypeTag]map[string]method

func init() {
	methods = map[TypeTag]map[string]method{
		TypeList: {
			"push":     {"push(value)", "Appends value.", 1, 1, true, listPush},
			"pop":      {"pop()", "Removes and returns the last element.", 0, 0, true, listPop},
			"get":      {"get(index[, default])", "Returns the element at index, or default when out of range.", 1, 2, false, listGet},
			"set":      {"set(index, value)", "Replaces the element at index.", 2, 2, true, listSet},
			"len":      {"len()", "Returns the number of elements.", 0, 0, false, methodLen},
			"insert":   {"insert(index, value)", "Inserts value before index.", 2, 2, true, listInsert},
			"remove":   {"remove(index)", "Removes and returns the element at index.", 1, 1, true, listRemove},
			"contains": {"contains(value)", "Reports whether an element equals value.", 1, 1, false, listContains},
		},
		TypeDict: {
			"get":    {"get(key[, default])", "Returns the value for key, or default (null if omitted).", 1, 2, false, dictGet},
			"set":    {"set(key, value)", "Sets the value for key.", 2, 2, true, dictSet},
			"has":    {"has(key)", "Reports whether key is present.", 1, 1, false, dictHas},
			"keys":   {"keys()", "Returns the keys in insertion order.", 0, 0, false, dictKeys},
			"values": {"values()", "Returns the values in insertion order.", 0, 0, false, dictValues},
			"remove": {"remove(key)", "Removes key and returns its value, or null.", 1, 1, true, dictRemove},
			"len":    {"len()", "Returns the number of entries.", 0, 0, false, methodLen},
		},
		TypeString: {
			"len":      {"len()", "Returns the number of characters.", 0, 0, false, methodLen},
			"upper":    {"upper()", "Returns the string in upper case.", 0, 0, false, stringUpper},
			"lower":    {"lower()", "Returns the string in lower case.", 0, 0, false, stringLower},
			"concat":   {"concat(values...)", "Appends the display form of each value.", 0, -1, false, stringConcat},
			"contains": {"contains(substring)", "Reports whether substring occurs in the string.", 1, 1, false, stringContains},
			"split":    {"split([separator])", "Splits around separator, or around whitespace when omitted.", 0, 1, false, stringSplit},
		},
		TypeArray: {
			"len":  {"len()", "Returns the number of bytes.", 0, 0, false, methodLen},
			"get":  {"get(index)", "Returns the byte at index.", 1, 1, false, arrayGet},
			"set":  {"set(index, byte)", "Replaces the byte at index.", 2, 2, true, arraySet},
			"push": {"push(byte)", "Appends a byte.", 1, 1, true, arrayPushMethod},
		},
		TypeRange: {
			"len":      {"len()", "Returns the number of values.", 0, 0, false, methodLen},
			"contains": {"contains(n)", "Reports whether n is one of the values.", 1, 1, false, rangeContains},
		},
	}
}

// MethodDoc describes a method available on a type.
type MethodDoc struct {
	Type      TypeTag
	Name      string
	Signature string
	Doc       string
}

// Methods lists every method, sorted by type and then name.
func Methods() []MethodDoc {
	var docs []MethodDoc
	for t, table := range methods {
		for name, m := range table {
			docs = append(docs, MethodDoc{Type: t, Name: name, Signature: m.signature, Doc: m.doc})
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Type != docs[j].Type {
			return docs[i].Type < docs[j].Type
		}
		return docs[i].Name < docs[j].Name
	})
	return docs
}

func (in *Interp) callMethod(recv heap.Ref, name string, args []heap.Ref) (heap.Ref, error) {
	t := in.TypeOf(recv)
	m, ok := methods[t][name]
	if !ok {
		return heap.Nil, fmt.Errorf("%w: %s has no method %s", ErrType, t, name)
	}
	if len(args) < m.min || (m.max >= 0 && len(args) > m.max) {
		return heap.Nil, fmt.Errorf("%w: %s.%s", ErrArity, t, m.signature)
	}
	if m.mutates && in.FlagsOf(recv)&FlagFrozen != 0 {
		return heap.Nil, fmt.Errorf("%w: cannot %s const %s", ErrImmutable, name, t)
	}
	return m.fn(in, recv, args)
}

func methodLen(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	return builtinLen(in, []heap.Ref{recv})
}

// list

func listPush(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	if err := in.ListPush(recv, args[0]); err != nil {
		return heap.Nil, err
	}
	return in.null, nil
}

func listPop(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	return in.ListPop(recv)
}

func listGet(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	i, err := in.intArg(args[0], "list index")
	if err != nil {
		return heap.Nil, err
	}
	v, err := in.ListGet(recv, i)
	if err != nil && len(args) == 2 {
		return args[1], nil
	}
	return v, err
}

func listSet(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	i, err := in.intArg(args[0], "list index")
	if err != nil {
		return heap.Nil, err
	}
	if err := in.ListSet(recv, i, args[1]); err != nil {
		return heap.Nil, err
	}
	return in.null, nil
}

func listInsert(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	i, err := in.intArg(args[0], "list index")
	if err != nil {
		return heap.Nil, err
	}
	if err := in.ListInsert(recv, i, args[1]); err != nil {
		return heap.Nil, err
	}
	return in.null, nil
}

func listRemove(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	i, err := in.intArg(args[0], "list index")
	if err != nil {
		return heap.Nil, err
	}
	return in.ListRemove(recv, i)
}

func listContains(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	for v := range in.ListValues(recv) {
		if in.Equal(v, args[0]) {
			return in.trueRef, nil
		}
	}
	return in.falseRef, nil
}

// dict

func dictGet(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	if v, ok := in.DictGet(recv, args[0]); ok {
		return v, nil
	}
	if len(args) == 2 {
		return args[1], nil
	}
	return in.null, nil
}

func dictSet(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	if err := in.DictSet(recv, args[0], args[1]); err != nil {
		return heap.Nil, err
	}
	return in.null, nil
}

func dictHas(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	_, ok := in.DictGet(recv, args[0])
	return in.NewBool(ok), nil
}

func dictKeys(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	var keys []heap.Ref
	for k := range in.DictEntries(recv) {
		keys = append(keys, k)
	}
	return in.NewList(keys...)
}

func dictValues(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	var values []heap.Ref
	for _, v := range in.DictEntries(recv) {
		values = append(values, v)
	}
	return in.NewList(values...)
}

func dictRemove(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	if v, ok := in.DictRemove(recv, args[0]); ok {
		return v, nil
	}
	return in.null, nil
}

// string

func stringUpper(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	return in.NewString(strings.ToUpper(in.StringValue(recv)))
}

func stringLower(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	return in.NewString(strings.ToLower(in.StringValue(recv)))
}

func stringConcat(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	var b strings.Builder
	b.WriteString(in.StringValue(recv))
	for _, a := range args {
		b.WriteString(in.Display(a))
	}
	return in.NewString(b.String())
}

func (in *Interp) stringArg(v heap.Ref, what string) (string, error) {
	if in.TypeOf(v) != TypeString {
		return "", fmt.Errorf("%w: %s must be string, not %s", ErrType, what, in.TypeOf(v))
	}
	return in.StringValue(v), nil
}

func stringContains(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	sub, err := in.stringArg(args[0], "substring")
	if err != nil {
		return heap.Nil, err
	}
	return in.NewBool(strings.Contains(in.StringValue(recv), sub)), nil
}

func stringSplit(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	s := in.StringValue(recv)
	var parts []string
	if len(args) == 0 {
		parts = strings.Fields(s)
	} else {
		sep, err := in.stringArg(args[0], "separator")
		if err != nil {
			return heap.Nil, err
		}
		if sep == "" {
			parts = make([]string, 0, utf8.RuneCountInString(s))
			for _, r := range s {
				parts = append(parts, string(r))
			}
		} else {
			parts = strings.Split(s, sep)
		}
	}
	refs := make([]heap.Ref, len(parts))
	for i, p := range parts {
		r, err := in.NewString(p)
		if err != nil {
			return heap.Nil, err
		}
		refs[i] = r
	}
	return in.NewList(refs...)
}

// array

func arrayGet(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	return in.Index(recv, args[0])
}

func arraySet(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	if err := in.SetIndex(recv, args[0], args[1]); err != nil {
		return heap.Nil, err
	}
	return in.null, nil
}

func arrayPushMethod(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	b, err := in.byteArg(args[0])
	if err != nil {
		return heap.Nil, err
	}
	if err := in.arrayPush(recv, b); err != nil {
		return heap.Nil, err
	}
	return in.null, nil
}

// range

func rangeContains(in *Interp, recv heap.Ref, args []heap.Ref) (heap.Ref, error) {
	if in.TypeOf(args[0]) != TypeInt {
		return in.falseRef, nil
	}
	return in.NewBool(in.RangeValue(recv).Contains(in.IntValue(args[0]))), nil
}
