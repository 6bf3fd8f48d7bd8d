package compiler

import (
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for Mote
// ---------------------------------------------------------------------------

// maxErrors bounds how many errors one parse collects before giving up.
const maxErrors = 10

// Parser parses Mote source code into an AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	prevEnd   Position // end of the last consumed token
	errors    ErrorList
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{
		lexer: NewLexer(input),
	}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a complete program. The returned error is an ErrorList.
func Parse(input string) (*Program, error) {
	p := NewParser(input)
	prog := p.ParseProgram()
	if len(p.errors) > 0 {
		return prog, p.errors
	}
	return prog, nil
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.prevEnd = p.curToken.End
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// peekTokenIs checks if the peek token is of the given type.
func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

// expect advances if the current token matches, otherwise records an error.
func (p *Parser) expect(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, got %s", t, describe(p.curToken))
	return false
}

// errorf records a parse error at the current token. Errors at EOF, and
// lexer errors for unterminated strings, are marked incomplete.
func (p *Parser) errorf(format string, args ...any) {
	tok := p.curToken
	e := &SyntaxError{Pos: tok.Pos, Msg: fmt.Sprintf(format, args...)}
	switch tok.Type {
	case TokenEOF:
		e.Incomplete = true
	case TokenError:
		e.Msg = tok.Literal
		e.Incomplete = tok.Literal == "unterminated string"
	}
	p.errors = append(p.errors, e)
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() ErrorList {
	return p.errors
}

func (p *Parser) span(start Position) Span {
	return Span{Start: start, End: p.prevEnd}
}

func describe(tok Token) string {
	switch tok.Type {
	case TokenEOF:
		return "end of input"
	case TokenIdentifier, TokenInteger, TokenFloat:
		return fmt.Sprintf("%s %s", tok.Type, tok.Literal)
	case TokenString:
		return fmt.Sprintf("string %q", tok.Literal)
	default:
		return fmt.Sprintf("%q", tok.Type.String())
	}
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseProgram parses statements until end of input. After an error the
// parser skips to the next statement boundary and continues, so one call can
// report several errors.
func (p *Parser) ParseProgram() *Program {
	start := p.curToken.Pos
	prog := &Program{}
	for !p.curTokenIs(TokenEOF) && len(p.errors) < maxErrors {
		before := len(p.errors)
		stmt := p.ParseStatement()
		if len(p.errors) > before {
			p.synchronize()
			continue
		}
		if stmt != nil {
			prog.Stmts = append(prog.Stmts, stmt)
		}
	}
	prog.SpanVal = p.span(start)
	return prog
}

// synchronize skips tokens until a plausible statement start.
func (p *Parser) synchronize() {
	for !p.curTokenIs(TokenEOF) {
		switch p.curToken.Type {
		case TokenSemicolon, TokenRBrace:
			p.nextToken()
			return
		case TokenLet, TokenConst, TokenFn, TokenIf, TokenWhile, TokenFor, TokenReturn:
			return
		}
		p.nextToken()
	}
}

// ParseStatement parses a single statement and an optional trailing semicolon.
func (p *Parser) ParseStatement() Stmt {
	stmt := p.parseStatement()
	if stmt != nil && p.curTokenIs(TokenSemicolon) {
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseStatement() Stmt {
	switch p.curToken.Type {
	case TokenLet, TokenConst:
		return p.parseLet()
	case TokenFn:
		if p.peekTokenIs(TokenIdentifier) {
			return p.parseFuncDecl()
		}
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		return p.parseWhile()
	case TokenFor:
		return p.parseFor()
	case TokenReturn:
		return p.parseReturn()
	case TokenBreak:
		start := p.curToken.Pos
		p.nextToken()
		return &BreakStmt{SpanVal: p.span(start)}
	case TokenContinue:
		start := p.curToken.Pos
		p.nextToken()
		return &ContinueStmt{SpanVal: p.span(start)}
	case TokenLBrace:
		if b := p.parseBlock(); b != nil {
			return b
		}
		return nil
	case TokenSemicolon:
		p.nextToken()
		return nil
	}
	return p.parseExprStatement()
}

func (p *Parser) parseLet() Stmt {
	start := p.curToken.Pos
	keyword := p.curToken.Literal
	isConst := p.curTokenIs(TokenConst)
	p.nextToken()

	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected name after %s, got %s", keyword, describe(p.curToken))
		return nil
	}
	name := p.curToken.Literal
	p.nextToken()

	if !p.expect(TokenAssign) {
		return nil
	}
	value := p.ParseExpression()
	if value == nil {
		return nil
	}
	return &LetStmt{SpanVal: p.span(start), Name: name, Value: value, Const: isConst}
}

func (p *Parser) parseFuncDecl() Stmt {
	start := p.curToken.Pos
	p.nextToken() // fn
	name := p.curToken.Literal
	p.nextToken()

	fn := p.parseFuncRest(start)
	if fn == nil {
		return nil
	}
	fn.Name = name
	return &FuncDecl{SpanVal: fn.SpanVal, Func: fn}
}

// parseFuncRest parses the parameter list and body that follow fn or fn name.
func (p *Parser) parseFuncRest(start Position) *FuncLiteral {
	if !p.expect(TokenLParen) {
		return nil
	}
	var params []string
	seen := make(map[string]bool)
	for !p.curTokenIs(TokenRParen) {
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected parameter name, got %s", describe(p.curToken))
			return nil
		}
		name := p.curToken.Literal
		if seen[name] {
			p.errorf("duplicate parameter %s", name)
			return nil
		}
		seen[name] = true
		params = append(params, name)
		p.nextToken()
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if !p.expect(TokenRParen) {
		return nil
	}
	body := p.parseBlock()
	if body == nil {
		return nil
	}
	return &FuncLiteral{SpanVal: p.span(start), Params: params, Body: body}
}

func (p *Parser) parseIf() Stmt {
	start := p.curToken.Pos
	p.nextToken() // if

	cond := p.ParseExpression()
	if cond == nil {
		return nil
	}
	then := p.parseBlock()
	if then == nil {
		return nil
	}
	stmt := &IfStmt{Cond: cond, Then: then}

	if p.curTokenIs(TokenElse) {
		p.nextToken()
		if p.curTokenIs(TokenIf) {
			elif := p.parseIf()
			if elif == nil {
				return nil
			}
			stmt.Else = elif
		} else {
			els := p.parseBlock()
			if els == nil {
				return nil
			}
			stmt.Else = els
		}
	}
	stmt.SpanVal = p.span(start)
	return stmt
}

func (p *Parser) parseWhile() Stmt {
	start := p.curToken.Pos
	p.nextToken() // while

	cond := p.ParseExpression()
	if cond == nil {
		return nil
	}
	body := p.parseBlock()
	if body == nil {
		return nil
	}
	return &WhileStmt{SpanVal: p.span(start), Cond: cond, Body: body}
}

func (p *Parser) parseFor() Stmt {
	start := p.curToken.Pos
	p.nextToken() // for

	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected loop variable, got %s", describe(p.curToken))
		return nil
	}
	name := p.curToken.Literal
	p.nextToken()

	if !p.expect(TokenIn) {
		return nil
	}
	iterable := p.ParseExpression()
	if iterable == nil {
		return nil
	}
	body := p.parseBlock()
	if body == nil {
		return nil
	}
	return &ForStmt{SpanVal: p.span(start), Var: name, Iterable: iterable, Body: body}
}

func (p *Parser) parseReturn() Stmt {
	start := p.curToken.Pos
	p.nextToken() // return

	switch p.curToken.Type {
	case TokenSemicolon, TokenRBrace, TokenEOF:
		return &ReturnStmt{SpanVal: p.span(start)}
	}
	value := p.ParseExpression()
	if value == nil {
		return nil
	}
	return &ReturnStmt{SpanVal: p.span(start), Value: value}
}

func (p *Parser) parseBlock() *Block {
	start := p.curToken.Pos
	if !p.expect(TokenLBrace) {
		return nil
	}
	block := &Block{}
	for !p.curTokenIs(TokenRBrace) {
		if p.curTokenIs(TokenEOF) {
			p.errorf("expected }, got end of input")
			return nil
		}
		before := len(p.errors)
		stmt := p.ParseStatement()
		if len(p.errors) > before {
			return nil
		}
		if stmt != nil {
			block.Stmts = append(block.Stmts, stmt)
		}
	}
	p.nextToken() // }
	block.SpanVal = p.span(start)
	return block
}

func (p *Parser) parseExprStatement() Stmt {
	start := p.curToken.Pos
	expr := p.ParseExpression()
	if expr == nil {
		return nil
	}
	if !p.curTokenIs(TokenAssign) {
		return &ExprStmt{SpanVal: p.span(start), Expr: expr}
	}

	switch expr.(type) {
	case *Identifier, *IndexExpr:
	default:
		p.errorf("cannot assign to this expression")
		return nil
	}
	p.nextToken() // =
	value := p.ParseExpression()
	if value == nil {
		return nil
	}
	return &AssignStmt{SpanVal: p.span(start), Target: expr, Value: value}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// ParseExpression parses a single expression.
func (p *Parser) ParseExpression() Expr {
	return p.parseBinary(0)
}

// binaryPrecedence lists the infix operators from loosest to tightest.
var binaryPrecedence = [][]TokenType{
	{TokenOr},
	{TokenAnd},
	{TokenEq, TokenNotEq},
	{TokenLT, TokenLE, TokenGT, TokenGE},
	{TokenPlus, TokenMinus},
	{TokenStar, TokenSlash, TokenPercent},
}

func (p *Parser) atLevel(level int) bool {
	for _, t := range binaryPrecedence[level] {
		if p.curTokenIs(t) {
			return true
		}
	}
	return false
}

// parseBinary parses left-associative infix operators at the given level
// and above.
func (p *Parser) parseBinary(level int) Expr {
	if level == len(binaryPrecedence) {
		return p.parseUnary()
	}
	start := p.curToken.Pos
	left := p.parseBinary(level + 1)
	if left == nil {
		return nil
	}
	for p.atLevel(level) {
		op := p.curToken.Type
		p.nextToken()
		right := p.parseBinary(level + 1)
		if right == nil {
			return nil
		}
		left = &BinaryExpr{SpanVal: p.span(start), Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseUnary() Expr {
	if p.curTokenIs(TokenMinus) || p.curTokenIs(TokenBang) {
		start := p.curToken.Pos
		op := p.curToken.Type
		p.nextToken()
		operand := p.parseUnary()
		if operand == nil {
			return nil
		}
		return &UnaryExpr{SpanVal: p.span(start), Op: op, Operand: operand}
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() Expr {
	start := p.curToken.Pos
	expr := p.parsePrimary()
	if expr == nil {
		return nil
	}
	for {
		switch p.curToken.Type {
		case TokenLParen:
			args, ok := p.parseArgs()
			if !ok {
				return nil
			}
			expr = &CallExpr{SpanVal: p.span(start), Callee: expr, Args: args}
		case TokenLBracket:
			p.nextToken()
			index := p.ParseExpression()
			if index == nil || !p.expect(TokenRBracket) {
				return nil
			}
			expr = &IndexExpr{SpanVal: p.span(start), Target: expr, Index: index}
		case TokenDot:
			p.nextToken()
			if !p.curTokenIs(TokenIdentifier) {
				p.errorf("expected method name after '.', got %s", describe(p.curToken))
				return nil
			}
			name := p.curToken.Literal
			p.nextToken()
			args, ok := p.parseArgs()
			if !ok {
				return nil
			}
			expr = &MethodCall{SpanVal: p.span(start), Receiver: expr, Name: name, Args: args}
		default:
			return expr
		}
	}
}

// parseArgs parses a parenthesised, comma separated argument list.
func (p *Parser) parseArgs() ([]Expr, bool) {
	if !p.expect(TokenLParen) {
		return nil, false
	}
	args, ok := p.parseExprList(TokenRParen)
	return args, ok
}

// parseExprList parses expressions up to and including the closing token.
// A trailing comma is accepted.
func (p *Parser) parseExprList(end TokenType) ([]Expr, bool) {
	var list []Expr
	for !p.curTokenIs(end) {
		e := p.ParseExpression()
		if e == nil {
			return nil, false
		}
		list = append(list, e)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if !p.expect(end) {
		return nil, false
	}
	return list, true
}

func (p *Parser) parsePrimary() Expr {
	tok := p.curToken
	start := tok.Pos

	switch tok.Type {
	case TokenInteger:
		p.nextToken()
		v, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			p.errors = append(p.errors, &SyntaxError{Pos: start, Msg: "integer literal out of range: " + tok.Literal})
			return nil
		}
		return &IntLiteral{SpanVal: p.span(start), Value: v}

	case TokenFloat:
		p.nextToken()
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.errors = append(p.errors, &SyntaxError{Pos: start, Msg: "invalid float literal: " + tok.Literal})
			return nil
		}
		return &FloatLiteral{SpanVal: p.span(start), Value: v}

	case TokenString:
		p.nextToken()
		return &StringLiteral{SpanVal: p.span(start), Value: tok.Literal}

	case TokenTrue, TokenFalse:
		p.nextToken()
		return &BoolLiteral{SpanVal: p.span(start), Value: tok.Type == TokenTrue}

	case TokenNull:
		p.nextToken()
		return &NullLiteral{SpanVal: p.span(start)}

	case TokenIdentifier:
		p.nextToken()
		return &Identifier{SpanVal: p.span(start), Name: tok.Literal}

	case TokenLParen:
		p.nextToken()
		e := p.ParseExpression()
		if e == nil || !p.expect(TokenRParen) {
			return nil
		}
		return e

	case TokenLBracket:
		p.nextToken()
		elems, ok := p.parseExprList(TokenRBracket)
		if !ok {
			return nil
		}
		return &ListLiteral{SpanVal: p.span(start), Elements: elems}

	case TokenLBrace:
		return p.parseDict()

	case TokenFn:
		p.nextToken()
		fn := p.parseFuncRest(start)
		if fn == nil {
			return nil
		}
		return fn
	}

	p.errorf("unexpected %s", describe(tok))
	return nil
}

func (p *Parser) parseDict() Expr {
	start := p.curToken.Pos
	p.nextToken() // {

	var entries []DictEntry
	for !p.curTokenIs(TokenRBrace) {
		key := p.ParseExpression()
		if key == nil || !p.expect(TokenColon) {
			return nil
		}
		value := p.ParseExpression()
		if value == nil {
			return nil
		}
		entries = append(entries, DictEntry{Key: key, Value: value})
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if !p.expect(TokenRBrace) {
		return nil
	}
	return &DictLiteral{SpanVal: p.span(start), Entries: entries}
}
