package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/mote/manifest"
)

func newTestApp(t *testing.T, configure func(*manifest.Manifest)) (*app, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	cfg := manifest.Default()
	cfg.Heap.Size = 64 << 10
	cfg.GC.Strict = true
	cfg.REPL.History = filepath.Join(t.TempDir(), "history")
	if configure != nil {
		configure(cfg)
	}
	var out, errOut bytes.Buffer
	a, err := newApp(cfg, &out, &errOut)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.close)
	return a, &out, &errOut
}

func TestRunFile(t *testing.T) {
	a, out, _ := newTestApp(t, nil)
	path := filepath.Join(t.TempDir(), "main.mote")
	src := "fn sq(x) { return x * x }\nlet total = 0\nfor i in range(4) { total = total + sq(i) }\nprint(total)\n"
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	if err := a.runFile(path); err != nil {
		t.Fatalf("runFile: %v", err)
	}
	if out.String() != "14\n" {
		t.Errorf("output = %q, want %q", out.String(), "14\n")
	}

	if err := a.runFile(filepath.Join(t.TempDir(), "missing.mote")); err == nil {
		t.Error("running a missing file should fail")
	}
}

func TestRunFileError(t *testing.T) {
	a, _, _ := newTestApp(t, nil)
	path := filepath.Join(t.TempDir(), "bad.mote")
	if err := os.WriteFile(path, []byte("let x = undefined_name + 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	err := a.runFile(path)
	if err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Errorf("runFile err = %v, want a positioned error", err)
	}
}

func TestEvalPrintsValues(t *testing.T) {
	a, out, errOut := newTestApp(t, nil)

	a.eval("let xs = [1, 2]")
	if out.Len() != 0 {
		t.Errorf("let should print nothing, got %q", out.String())
	}
	a.eval("xs.push(3)\nxs")
	if out.String() != "[1, 2, 3]\n" {
		t.Errorf("output = %q", out.String())
	}
	a.eval("1 / 0")
	if !strings.Contains(errOut.String(), "division by zero") {
		t.Errorf("errors = %q", errOut.String())
	}

	out.Reset()
	a.eval(`"still here " + str(len(xs))`)
	if out.String() != "\"still here 3\"\n" {
		t.Errorf("bindings should survive an error, got %q", out.String())
	}
}

func fakePrompt(lines ...string) func(string) (string, error) {
	return func(string) (string, error) {
		if len(lines) == 0 {
			return "", io.EOF
		}
		line := lines[0]
		lines = lines[1:]
		return line, nil
	}
}

func TestReadEntry(t *testing.T) {
	prompt := fakePrompt("fn add(a, b) {", "  return a + b", "}", "print(add(1, 2))", ":heap", "let s = \"open")
	want := []string{
		"fn add(a, b) {\n  return a + b\n}",
		"print(add(1, 2))",
		":heap",
	}
	for i, w := range want {
		got, ok := readEntry(prompt)
		if !ok || got != w {
			t.Fatalf("entry %d = %q, %v; want %q", i, got, ok, w)
		}
	}
	// An unterminated string waits for more input, then hits EOF.
	if _, ok := readEntry(prompt); ok {
		t.Error("readEntry should report end of input")
	}
}

func TestReadEntrySyntaxError(t *testing.T) {
	got, ok := readEntry(fakePrompt("let = 4"))
	if !ok || got != "let = 4" {
		t.Errorf("a definite syntax error should be returned for evaluation, got %q, %v", got, ok)
	}
}

func TestCommands(t *testing.T) {
	a, out, _ := newTestApp(t, nil)
	a.eval("let keep = [1, 2, 3]\nconst LIMIT = 10\nlet drop = [4, 5]\ndrop = null")
	out.Reset()

	if a.command(":gc") {
		t.Fatal(":gc should not quit")
	}
	if !strings.HasPrefix(out.String(), "cycle 1:") {
		t.Errorf(":gc output = %q", out.String())
	}

	out.Reset()
	a.command(":heap")
	if !strings.Contains(out.String(), "placement first-fit") || !strings.Contains(out.String(), "1 cycles") {
		t.Errorf(":heap output = %q", out.String())
	}

	out.Reset()
	a.command(":env")
	env := out.String()
	if !strings.Contains(env, "keep") || !strings.Contains(env, "[1, 2, 3]") {
		t.Errorf(":env output = %q", env)
	}
	if !strings.Contains(env, "const") || !strings.Contains(env, "LIMIT") {
		t.Errorf(":env should mark constants: %q", env)
	}

	out.Reset()
	a.command(":dump")
	if !strings.Contains(out.String(), "used") {
		t.Errorf(":dump output = %q", out.String())
	}

	out.Reset()
	a.command(":cycles")
	if !strings.Contains(out.String(), "no gc.journal") {
		t.Errorf(":cycles without a journal = %q", out.String())
	}

	out.Reset()
	a.command(":frobnicate")
	if !strings.Contains(out.String(), "Unknown command") {
		t.Errorf("unknown command output = %q", out.String())
	}

	if !a.command(":quit") || !a.command(":q") {
		t.Error(":quit should exit")
	}
}

func TestSnapshotFiles(t *testing.T) {
	a, _, _ := newTestApp(t, nil)
	a.eval(`let greeting = "hello"`)
	dir := t.TempDir()

	textPath := filepath.Join(dir, "heap.txt")
	if err := a.writeSnapshot(textPath); err != nil {
		t.Fatalf("text snapshot: %v", err)
	}
	text, err := os.ReadFile(textPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(text), "greeting") {
		t.Errorf("text snapshot lacks binding:\n%s", text)
	}

	cborPath := filepath.Join(dir, "heap.cbor")
	if err := a.writeSnapshot(cborPath); err != nil {
		t.Fatalf("cbor snapshot: %v", err)
	}
	var shown bytes.Buffer
	if err := printSnapshot(&shown, cborPath); err != nil {
		t.Fatalf("printSnapshot: %v", err)
	}
	if !strings.Contains(shown.String(), "greeting") || !strings.Contains(shown.String(), "placement=first-fit") {
		t.Errorf("decoded snapshot:\n%s", shown.String())
	}

	if err := printSnapshot(&shown, textPath); err == nil {
		t.Error("a text snapshot should not decode as CBOR")
	}
}

func TestJournalWiring(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "gc.db")
	a, out, _ := newTestApp(t, func(m *manifest.Manifest) { m.GC.Journal = dbPath })

	a.eval("let xs = [1, 2]\nxs = null\ngc()")
	a.command(":gc")
	out.Reset()
	a.command(":cycles")
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "cycle 1:") || !strings.HasPrefix(lines[1], "cycle 2:") {
		t.Errorf(":cycles output = %q", out.String())
	}
	a.close()

	cfg := manifest.Default()
	cfg.GC.Journal = dbPath
	var listing bytes.Buffer
	if err := printRuns(&listing, cfg); err != nil {
		t.Fatalf("printRuns: %v", err)
	}
	rows := strings.Split(strings.TrimSpace(listing.String()), "\n")
	if len(rows) != 2 {
		t.Fatalf("runs listing = %q, want header and one run", listing.String())
	}
	if !strings.HasPrefix(rows[0], "RUN") || !strings.Contains(rows[1], "first-fit") || !strings.HasSuffix(strings.TrimSpace(rows[1]), "2") {
		t.Errorf("runs listing = %q", listing.String())
	}
}

func TestPrintRunsWithoutJournal(t *testing.T) {
	var buf bytes.Buffer
	if err := printRuns(&buf, manifest.Default()); err == nil {
		t.Error("printRuns without gc.journal should fail")
	}
}
