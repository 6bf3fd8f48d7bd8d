package vm

import (
	"strings"
	"testing"
)

func TestBuiltinDocs(t *testing.T) {
	docs := Builtins()
	if len(docs) != len(builtins) {
		t.Fatalf("Builtins() = %d entries, want %d", len(docs), len(builtins))
	}
	for _, d := range docs {
		if d.Doc == "" || !strings.HasPrefix(d.Signature, d.Name+"(") {
			t.Errorf("builtin %s: signature %q, doc %q", d.Name, d.Signature, d.Doc)
		}
	}
}

func TestMethodDocsSorted(t *testing.T) {
	docs := Methods()
	if len(docs) == 0 {
		t.Fatal("no methods")
	}
	for i := 1; i < len(docs); i++ {
		a, b := docs[i-1], docs[i]
		if a.Type > b.Type || (a.Type == b.Type && a.Name >= b.Name) {
			t.Errorf("methods out of order: %s.%s before %s.%s", a.Type, a.Name, b.Type, b.Name)
		}
	}
	for _, d := range docs {
		if !strings.HasPrefix(d.Signature, d.Name+"(") {
			t.Errorf("%s.%s: signature %q", d.Type, d.Name, d.Signature)
		}
	}
}

func TestEveryBuiltinIsBound(t *testing.T) {
	in, _ := newTestInterp(t)
	for _, d := range Builtins() {
		r, err := in.Lookup(d.Name)
		if err != nil {
			t.Errorf("Lookup(%s): %v", d.Name, err)
			continue
		}
		if in.TypeOf(r) != TypeNative || builtins[in.nativeID(r)].name != d.Name {
			t.Errorf("%s bound to %s", d.Name, in.Repr(r))
		}
	}
}

func TestConversionEdgeCases(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`print(int(" 7 "), int(true), int(-3.9))`, "7 1 -3\n"},
		{`print(float("1e3"), float(false), str(null), str([1, "a"]))`, "1000.0 0.0 null [1, \"a\"]\n"},
		{`print(range(-2), range(3, 0, -1).len(), range(0, 10, 3)[1])`, "range(0, -2) 3 3\n"},
		{`print(next(iter("")), next(iter(range(0)), 9))`, "null 9\n"},
	}
	for _, tt := range tests {
		if got := run(t, tt.src); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.src, got, tt.want)
		}
	}
}
