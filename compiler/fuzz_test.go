package compiler

import (
	"testing"
)

// ---------------------------------------------------------------------------
// FuzzLexer: ensure the lexer never panics on arbitrary input.
// ---------------------------------------------------------------------------

func FuzzLexer(f *testing.F) {
	seeds := []string{
		// Punctuation and operators
		`( ) [ ] { } , : ; .`, `+ - * / % = == != < <= > >= && || !`,
		// Numbers
		`42`, `0`, `3.14`, `1e10`, `1.5e-3`, `2.0E+5`, `3.len()`, `1e`, `1.`,
		// Strings
		`"hello"`, `""`, `"a\nb"`, `"\"q\""`, `"unterminated`, `"bad\q"`, `"end\`,
		// Identifiers and keywords
		`foo`, `_bar`, `let`, `const`, `fn`, `while`, `null`, `letter`,
		// Comments
		"# comment\nfoo", "#", "x # trailing",
		// Unicode
		`"こんにちは"`, `café`, `naïve`,
		// Empty and whitespace
		``, `   `, "\t\n\r",
		// Binary soup
		`+-*/\~<>=@%|&?!,$^`,
	}

	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data string) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("lexer panicked on input %q: %v", data, r)
			}
		}()

		l := NewLexer(data)
		for i := 0; i < len(data)+100; i++ {
			tok := l.NextToken()
			if tok.Type == TokenEOF {
				break
			}
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzParser: ensure the parser never panics on arbitrary input.
// Parse errors are acceptable; panics are not.
// ---------------------------------------------------------------------------

func FuzzParser(f *testing.F) {
	seeds := []string{
		// Expressions
		`42`, `-5`, `3.14`, `"hello"`, `true`, `null`, `a + b * c`, `!(a || b)`,
		// Collections
		`[1, 2, 3]`, `{"a": 1}`, `[]`, `{}`, `[[1], {"k": [2]}]`,
		// Calls and methods
		`print(1)`, `xs.push(1).len()`, `d["k"]`, `f(g(h(1)))`,
		// Statements
		`let x = 1`, `const y = 2;`, `x = 3`, `xs[0] = 1`,
		`fn add(a, b) { return a + b }`, `let f = fn () { return }`,
		`if a { b } else if c { d } else { e }`,
		`while i < 10 { i = i + 1; if i == 5 { break } else { continue } }`,
		`for x in range(10) { print(x) }`,
		"let a = [1]\n{ let b = a }\ngc()",
		// Edge cases that might trip up the parser
		``, `(`, `)`, `[`, `]`, `{`, `}`, `.`, `;`, `=`, `fn`, `fn (`, `let`,
		`if`, `else`, `for in`, `return return`, `a.`, `1 = 2`, `{1: }`,
		`"unterminated`, `&`, `99999999999999999999`,
	}

	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data string) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("parser panicked on input %q: %v", data, r)
			}
		}()

		prog, err := Parse(data)
		if prog == nil {
			t.Fatalf("Parse(%q) returned nil program (err %v)", data, err)
		}
	})
}
