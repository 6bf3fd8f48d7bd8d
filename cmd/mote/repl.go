package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"

	"github.com/chazu/mote/compiler"
)

const (
	promptMain = ">> "
	promptCont = ".. "
)

// repl starts an interactive read-eval-print loop. Bindings persist across
// entries and input continues until it parses as complete.
func (a *app) repl(historyPath string) {
	fmt.Fprintf(a.out, "Mote REPL (%s; :help for commands)\n", heapSummary(a.interp.Heap()))

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if historyPath != "" {
		if f, err := os.Open(historyPath); err == nil {
			_, _ = ln.ReadHistory(f)
			_ = f.Close()
		}
		defer func() {
			if f, err := os.Create(historyPath); err == nil {
				_, _ = ln.WriteHistory(f)
				_ = f.Close()
			}
		}()
	}

	for {
		src, ok := readEntry(ln.Prompt)
		if !ok {
			fmt.Fprintln(a.out)
			return
		}
		trimmed := strings.TrimSpace(src)
		if trimmed == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(src, "\n", " "))

		if strings.HasPrefix(trimmed, ":") {
			if a.command(trimmed) {
				return
			}
			continue
		}
		a.eval(src)
	}
}

// readEntry reads lines until they form a complete program or a
// definite syntax error. It returns false at end of input.
func readEntry(prompt func(string) (string, error)) (string, bool) {
	var b strings.Builder
	for {
		p := promptMain
		if b.Len() > 0 {
			p = promptCont
		}
		line, err := prompt(p)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			return "", false
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		src := b.String()
		if strings.HasPrefix(strings.TrimSpace(src), ":") {
			return src, true
		}
		if _, err := compiler.Parse(src); err != nil && compiler.IsIncomplete(err) {
			continue
		}
		return src, true
	}
}
