// Package server exposes a Mote interpreter to editors over the Language
// Server Protocol.
package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/mote/compiler"
	"github.com/chazu/mote/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "mote-lsp"

// Commands accepted by workspace/executeCommand.
const (
	CommandRun  = "mote.run"
	CommandHeap = "mote.heap"
	CommandGC   = "mote.gc"
)

// LspServer bridges LSP editor features to a Mote interpreter via Worker.
type LspServer struct {
	worker *Worker
	log    commonlog.Logger

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server whose commands run on worker.
func NewLSP(worker *Worker) *LspServer {
	s := &LspServer{
		worker:  worker,
		log:     commonlog.GetLogger("mote.lsp"),
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion:  s.textDocumentCompletion,
		TextDocumentHover:       s.textDocumentHover,
		WorkspaceExecuteCommand: s.workspaceExecuteCommand,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "Mote LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
	}
	capabilities.HoverProvider = true
	capabilities.ExecuteCommandProvider = &protocol.ExecuteCommandOptions{
		Commands: []string{CommandRun, CommandHeap, CommandGC},
	}

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.setDoc(uri, text)
	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.setDoc(uri, whole.Text)
			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) setDoc(uri protocol.DocumentUri, text string) {
	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()
}

func (s *LspServer) doc(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.doc(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix, member := extractPrefix(text, params.Position)
	if prefix == "" && !member {
		return nil, nil
	}

	result, err := s.worker.Do(func(in *vm.Interp) (any, error) {
		return s.complete(in, prefix, member), nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.doc(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	result, err := s.worker.Do(func(in *vm.Interp) (any, error) {
		return s.hover(in, word), nil
	})
	if err != nil || result == nil {
		return nil, nil
	}
	return result.(*protocol.Hover), nil
}

func (s *LspServer) workspaceExecuteCommand(ctx *glsp.Context, params *protocol.ExecuteCommandParams) (any, error) {
	switch params.Command {
	case CommandRun:
		if len(params.Arguments) != 1 {
			return nil, fmt.Errorf("%s expects a document URI", CommandRun)
		}
		uri, ok := params.Arguments[0].(string)
		if !ok {
			return nil, fmt.Errorf("%s expects a document URI, got %T", CommandRun, params.Arguments[0])
		}
		res, err := s.run(protocol.DocumentUri(uri))
		s.showRunResult(ctx, res, err)
		if err != nil {
			return nil, err
		}
		return res, nil

	case CommandHeap:
		return s.worker.Do(func(in *vm.Interp) (any, error) {
			return in.Heap().Stats(), nil
		})

	case CommandGC:
		return s.worker.Do(func(in *vm.Interp) (any, error) {
			return in.Collect(), nil
		})
	}
	return nil, fmt.Errorf("unknown command %q", params.Command)
}

// run evaluates an open document in the shared interpreter.
func (s *LspServer) run(uri protocol.DocumentUri) (EvalResult, error) {
	text, ok := s.doc(uri)
	if !ok {
		return EvalResult{}, fmt.Errorf("document %s is not open", uri)
	}
	res, err := s.worker.Eval(text)
	if err != nil {
		s.log.Debugf("run %s: %v", uri, err)
	}
	return res, err
}

func (s *LspServer) showRunResult(ctx *glsp.Context, res EvalResult, err error) {
	msg := protocol.ShowMessageParams{Type: protocol.MessageTypeInfo}
	var b strings.Builder
	b.WriteString(res.Output)
	if err != nil {
		msg.Type = protocol.MessageTypeError
		b.WriteString(err.Error())
	} else {
		fmt.Fprintf(&b, "=> %s", res.Value)
	}
	msg.Message = b.String()
	go ctx.Notify(protocol.ServerWindowShowMessage, msg)
}

// --- Interpreter-backed logic (called on worker goroutine) ---

func (s *LspServer) complete(in *vm.Interp, prefix string, member bool) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	add := func(label, detail string, kind protocol.CompletionItemKind, doc string) {
		if !strings.HasPrefix(label, prefix) {
			return
		}
		item := protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &label,
		}
		if doc != "" {
			item.Documentation = doc
		}
		items = append(items, item)
	}

	if member {
		seen := make(map[string]bool)
		for _, m := range vm.Methods() {
			if seen[m.Name] {
				continue
			}
			seen[m.Name] = true
			add(m.Name, m.Type.String()+"."+m.Signature, protocol.CompletionItemKindMethod, m.Doc)
		}
		return items
	}

	for _, kw := range compiler.Keywords() {
		add(kw, "keyword", protocol.CompletionItemKindKeyword, "")
	}
	for _, b := range vm.Builtins() {
		add(b.Name, b.Signature, protocol.CompletionItemKindFunction, b.Doc)
	}
	for _, b := range in.Env().Visible() {
		kind := protocol.CompletionItemKindVariable
		if b.Const {
			kind = protocol.CompletionItemKindConstant
		}
		add(b.Name, in.TypeOf(b.Value).String(), kind, "")
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })

	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func (s *LspServer) hover(in *vm.Interp, word string) *protocol.Hover {
	var b strings.Builder

	for _, d := range vm.Builtins() {
		if d.Name == word {
			fmt.Fprintf(&b, "**%s**\n\n%s\n", d.Signature, d.Doc)
			break
		}
	}

	var impls []vm.MethodDoc
	for _, m := range vm.Methods() {
		if m.Name == word {
			impls = append(impls, m)
		}
	}
	if len(impls) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&b, "**.%s** is a method of %d types:\n", word, len(impls))
		for _, m := range impls {
			fmt.Fprintf(&b, "- `%s.%s`: %s\n", m.Type, m.Signature, m.Doc)
		}
	}

	if b.Len() == 0 {
		v, err := in.Lookup(word)
		if err != nil {
			return nil
		}
		fmt.Fprintf(&b, "**%s**: %s\n\n`%s`", word, in.TypeOf(v), in.Repr(v))
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnose(text),
	})
}

// diagnose parses text and converts syntax errors to diagnostics.
// Compiler positions are 1-based; LSP positions are 0-based.
func diagnose(text string) []protocol.Diagnostic {
	diagnostics := []protocol.Diagnostic{}
	_, err := compiler.Parse(text)
	if err == nil {
		return diagnostics
	}

	var list compiler.ErrorList
	if !errors.As(err, &list) {
		list = compiler.ErrorList{{Msg: err.Error()}}
	}
	severity := protocol.DiagnosticSeverityError
	source := lspName
	for _, e := range list {
		pos := protocol.Position{}
		if e.Pos.Line > 0 {
			pos.Line = protocol.UInteger(e.Pos.Line - 1)
		}
		if e.Pos.Column > 0 {
			pos.Character = protocol.UInteger(e.Pos.Column - 1)
		}
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    protocol.Range{Start: pos, End: pos},
			Severity: &severity,
			Source:   &source,
			Message:  e.Msg,
		})
	}
	return diagnostics
}

// --- Text extraction helpers ---

func isIdentRune(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// extractPrefix returns the identifier fragment before the cursor for
// completion, and whether it follows a '.' and so names a method.
func extractPrefix(text string, pos protocol.Position) (string, bool) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return "", false
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isIdentRune(rune(line[start-1])) {
		start--
	}
	member := start > 0 && line[start-1] == '.'
	return line[start:col], member
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isIdentRune(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isIdentRune(rune(line[end])) {
		end++
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
