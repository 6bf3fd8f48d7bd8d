package server

import (
	"errors"
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/mote/heap"
	"github.com/chazu/mote/vm"
)

// ---------------------------------------------------------------------------
// extractPrefix
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		pos        protocol.Position
		wantPrefix string
		wantMember bool
	}{
		{"simple word", "let total = pri", protocol.Position{Line: 0, Character: 15}, "pri", false},
		{"whole line", "pri", protocol.Position{Line: 0, Character: 3}, "pri", false},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, "", false},
		{"multi line", "let a = 1\nlet b = 2\nwhi", protocol.Position{Line: 2, Character: 3}, "whi", false},
		{"after dot", "xs.pu", protocol.Position{Line: 0, Character: 5}, "pu", true},
		{"bare dot", "xs.", protocol.Position{Line: 0, Character: 3}, "", true},
		{"cursor at start", "hello", protocol.Position{Line: 0, Character: 0}, "", false},
		{"column clamped", "abc", protocol.Position{Line: 0, Character: 40}, "abc", false},
		{"beyond document", "single line", protocol.Position{Line: 5, Character: 0}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix, member := extractPrefix(tt.text, tt.pos)
			if prefix != tt.wantPrefix || member != tt.wantMember {
				t.Errorf("extractPrefix = (%q, %v), want (%q, %v)", prefix, member, tt.wantPrefix, tt.wantMember)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// extractWord
// ---------------------------------------------------------------------------

func TestExtractWord(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"inside word", "hello world", protocol.Position{Line: 0, Character: 3}, "hello"},
		{"at end of word", "hello world", protocol.Position{Line: 0, Character: 5}, "hello"},
		{"second word", "hello world", protocol.Position{Line: 0, Character: 8}, "world"},
		{"method after dot", "xs.push(1)", protocol.Position{Line: 0, Character: 4}, "push"},
		{"underscore", "my_var", protocol.Position{Line: 0, Character: 3}, "my_var"},
		{"multi line", "first\nsecond", protocol.Position{Line: 1, Character: 2}, "second"},
		{"punctuation", "(  )", protocol.Position{Line: 0, Character: 2}, ""},
		{"empty", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"beyond document", "one", protocol.Position{Line: 3, Character: 0}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractWord(tt.text, tt.pos); got != tt.want {
				t.Errorf("extractWord = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBoolPtr(t *testing.T) {
	if p := boolPtr(true); p == nil || !*p {
		t.Error("boolPtr(true) should point at true")
	}
	if p := boolPtr(false); p == nil || *p {
		t.Error("boolPtr(false) should point at false")
	}
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func TestDiagnoseValidProgram(t *testing.T) {
	diags := diagnose("let x = 1\nprint(x + 2)\n")
	if diags == nil || len(diags) != 0 {
		t.Errorf("diagnose(valid) = %v, want empty non-nil slice", diags)
	}
}

func TestDiagnoseSyntaxErrors(t *testing.T) {
	diags := diagnose("let x = 1\nlet = 2\n")
	if len(diags) == 0 {
		t.Fatal("expected a diagnostic for the missing name")
	}
	d := diags[0]
	if d.Range.Start.Line != 1 {
		t.Errorf("diagnostic line = %d, want 1 (0-based)", d.Range.Start.Line)
	}
	if d.Severity == nil || *d.Severity != protocol.DiagnosticSeverityError {
		t.Error("diagnostic severity should be Error")
	}
	if d.Source == nil || *d.Source != lspName {
		t.Errorf("diagnostic source = %v, want %s", d.Source, lspName)
	}
	if d.Message == "" || strings.HasPrefix(d.Message, "line ") {
		t.Errorf("diagnostic message %q should not repeat the position", d.Message)
	}
}

func TestDiagnoseUnterminated(t *testing.T) {
	diags := diagnose(`print("open`)
	if len(diags) == 0 {
		t.Fatal("expected a diagnostic for the unterminated string")
	}
	if diags[0].Range.Start.Line != 0 {
		t.Errorf("diagnostic line = %d, want 0", diags[0].Range.Start.Line)
	}
}

// ---------------------------------------------------------------------------
// Interpreter-backed logic (complete, hover)
// ---------------------------------------------------------------------------

func labels(items []protocol.CompletionItem) map[string]protocol.CompletionItem {
	m := make(map[string]protocol.CompletionItem, len(items))
	for _, item := range items {
		m[item.Label] = item
	}
	return m
}

func TestLSP_CompleteNames(t *testing.T) {
	lsp := newTestLSP(testWorker)

	result, err := testWorker.Do(func(in *vm.Interp) (any, error) {
		return lsp.complete(in, "r", false), nil
	})
	if err != nil {
		t.Fatalf("complete returned error: %v", err)
	}
	items := labels(result.([]protocol.CompletionItem))

	ret, ok := items["return"]
	if !ok || ret.Kind == nil || *ret.Kind != protocol.CompletionItemKindKeyword {
		t.Errorf("completion for 'r' should include keyword return, got %v", items)
	}
	rng, ok := items["range"]
	if !ok || rng.Kind == nil || *rng.Kind != protocol.CompletionItemKindFunction {
		t.Fatalf("completion for 'r' should include builtin range")
	}
	if rng.Documentation == nil || rng.Detail == nil || !strings.HasPrefix(*rng.Detail, "range(") {
		t.Errorf("range completion lacks signature or docs: %+v", rng)
	}
	for label := range items {
		if !strings.HasPrefix(label, "r") {
			t.Errorf("completion %q does not match prefix", label)
		}
	}
}

func TestLSP_CompleteMembers(t *testing.T) {
	lsp := newTestLSP(testWorker)

	result, err := testWorker.Do(func(in *vm.Interp) (any, error) {
		return lsp.complete(in, "", true), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	items := labels(result.([]protocol.CompletionItem))
	for _, name := range []string{"push", "keys", "upper", "len"} {
		item, ok := items[name]
		if !ok {
			t.Errorf("member completion missing %s", name)
			continue
		}
		if *item.Kind != protocol.CompletionItemKindMethod {
			t.Errorf("%s kind = %v, want Method", name, *item.Kind)
		}
	}
	if _, ok := items["print"]; ok {
		t.Error("member completion should not offer builtins")
	}
}

func TestLSP_CompleteGlobals(t *testing.T) {
	w := newTestWorker(t)
	lsp := newTestLSP(w)
	if _, err := w.Eval("let counter = 1\nconst COUNT_MAX = 9"); err != nil {
		t.Fatal(err)
	}

	result, err := w.Do(func(in *vm.Interp) (any, error) {
		return lsp.complete(in, "co", false), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	items := labels(result.([]protocol.CompletionItem))
	counter, ok := items["counter"]
	if !ok || *counter.Kind != protocol.CompletionItemKindVariable || *counter.Detail != "int" {
		t.Errorf("counter completion = %+v", counter)
	}
	if _, ok := items["const"]; !ok {
		t.Error("keyword const should also match")
	}

	result, _ = w.Do(func(in *vm.Interp) (any, error) {
		return lsp.complete(in, "CO", false), nil
	})
	items = labels(result.([]protocol.CompletionItem))
	if c, ok := items["COUNT_MAX"]; !ok || *c.Kind != protocol.CompletionItemKindConstant {
		t.Errorf("COUNT_MAX completion = %+v", c)
	}
}

func hoverText(t *testing.T, w *Worker, lsp *LspServer, word string) string {
	t.Helper()
	result, err := w.Do(func(in *vm.Interp) (any, error) {
		return lsp.hover(in, word), nil
	})
	if err != nil {
		t.Fatalf("hover returned error: %v", err)
	}
	hover, ok := result.(*protocol.Hover)
	if !ok || hover == nil {
		return ""
	}
	mc, ok := hover.Contents.(protocol.MarkupContent)
	if !ok {
		t.Fatal("hover contents should be MarkupContent")
	}
	if mc.Kind != protocol.MarkupKindMarkdown {
		t.Errorf("hover markup kind = %q, want %q", mc.Kind, protocol.MarkupKindMarkdown)
	}
	return mc.Value
}

func TestLSP_HoverBuiltin(t *testing.T) {
	lsp := newTestLSP(testWorker)
	text := hoverText(t, testWorker, lsp, "print")
	if !strings.Contains(text, "print(values...)") {
		t.Errorf("hover for print = %q", text)
	}
}

func TestLSP_HoverMethod(t *testing.T) {
	lsp := newTestLSP(testWorker)
	text := hoverText(t, testWorker, lsp, "len")
	if !strings.Contains(text, "len(value)") {
		t.Errorf("hover for len should include the builtin: %q", text)
	}
	for _, typ := range []string{"list.len()", "dict.len()", "string.len()"} {
		if !strings.Contains(text, typ) {
			t.Errorf("hover for len should mention %s: %q", typ, text)
		}
	}
}

func TestLSP_HoverGlobal(t *testing.T) {
	w := newTestWorker(t)
	lsp := newTestLSP(w)
	if _, err := w.Eval(`let greeting = "hi"`); err != nil {
		t.Fatal(err)
	}
	text := hoverText(t, w, lsp, "greeting")
	if !strings.Contains(text, "string") || !strings.Contains(text, `"hi"`) {
		t.Errorf("hover for greeting = %q", text)
	}
}

func TestLSP_HoverUnknownWord(t *testing.T) {
	lsp := newTestLSP(testWorker)
	if text := hoverText(t, testWorker, lsp, "xyzNoSuchName99"); text != "" {
		t.Errorf("hover for unknown word = %q, want nothing", text)
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func TestLSP_RunDocument(t *testing.T) {
	w := newTestWorker(t)
	lsp := newTestLSP(w)
	lsp.setDoc("file:///main.mote", "let xs = [1, 2]\nxs.push(3)\nprint(len(xs))\nxs")

	res, err := lsp.run("file:///main.mote")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Output != "3\n" {
		t.Errorf("output = %q, want %q", res.Output, "3\n")
	}
	if res.Value != "[1, 2, 3]" {
		t.Errorf("value = %q, want [1, 2, 3]", res.Value)
	}
	if res.Heap.UsedNodes == 0 {
		t.Error("heap stats should count live nodes")
	}

	if _, err := lsp.run("file:///missing.mote"); err == nil {
		t.Error("running a closed document should fail")
	}
}

func TestLSP_RunReportsRuntimeError(t *testing.T) {
	w := newTestWorker(t)
	lsp := newTestLSP(w)
	lsp.setDoc("file:///bad.mote", "print(1)\nlet z = 1 / 0")

	res, err := lsp.run("file:///bad.mote")
	if !errors.Is(err, vm.ErrDivideByZero) {
		t.Fatalf("run err = %v, want ErrDivideByZero", err)
	}
	if res.Output != "1\n" {
		t.Errorf("output before the error = %q", res.Output)
	}
}

func TestLSP_HeapAndGCCommands(t *testing.T) {
	w := newTestWorker(t)
	lsp := newTestLSP(w)
	if _, err := w.Eval("let xs = [1, 2, 3]\nxs = null"); err != nil {
		t.Fatal(err)
	}

	v, err := lsp.workspaceExecuteCommand(nil, &protocol.ExecuteCommandParams{Command: CommandGC})
	if err != nil {
		t.Fatal(err)
	}
	stats := v.(vm.CollectStats)
	if stats.Reclaimed == 0 {
		t.Error("mote.gc should reclaim the dropped list")
	}

	v, err = lsp.workspaceExecuteCommand(nil, &protocol.ExecuteCommandParams{Command: CommandHeap})
	if err != nil {
		t.Fatal(err)
	}
	if hs := v.(heap.Stats); hs.Capacity != 64<<10 {
		t.Errorf("heap capacity = %d, want %d", hs.Capacity, 64<<10)
	}

	if _, err := lsp.workspaceExecuteCommand(nil, &protocol.ExecuteCommandParams{Command: "mote.nope"}); err == nil {
		t.Error("unknown command should fail")
	}
	if _, err := lsp.workspaceExecuteCommand(nil, &protocol.ExecuteCommandParams{Command: CommandRun}); err == nil {
		t.Error("mote.run without a URI should fail")
	}
}

// ---------------------------------------------------------------------------
// LSP document synchronization state
// ---------------------------------------------------------------------------

func TestLSP_DocumentStore(t *testing.T) {
	lsp := newTestLSP(testWorker)

	lsp.setDoc("file:///test.mote", "let a = 1")
	text, ok := lsp.doc("file:///test.mote")
	if !ok || text != "let a = 1" {
		t.Errorf("doc = %q, %v", text, ok)
	}

	lsp.setDoc("file:///test.mote", "let a = 2")
	if text, _ := lsp.doc("file:///test.mote"); text != "let a = 2" {
		t.Errorf("doc after change = %q", text)
	}

	lsp.mu.Lock()
	delete(lsp.docs, "file:///test.mote")
	lsp.mu.Unlock()
	if _, ok := lsp.doc("file:///test.mote"); ok {
		t.Error("document should be removed after close")
	}
}
