package compiler

import "fmt"

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for Mote
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// IntLiteral represents an integer literal.
type IntLiteral struct {
	SpanVal Span
	Value   int64
}

func (n *IntLiteral) Span() Span { return n.SpanVal }
func (n *IntLiteral) node()      {}
func (n *IntLiteral) expr()      {}

// FloatLiteral represents a floating-point literal.
type FloatLiteral struct {
	SpanVal Span
	Value   float64
}

func (n *FloatLiteral) Span() Span { return n.SpanVal }
func (n *FloatLiteral) node()      {}
func (n *FloatLiteral) expr()      {}

// StringLiteral represents a string literal.
type StringLiteral struct {
	SpanVal Span
	Value   string
}

func (n *StringLiteral) Span() Span { return n.SpanVal }
func (n *StringLiteral) node()      {}
func (n *StringLiteral) expr()      {}

// BoolLiteral represents true or false.
type BoolLiteral struct {
	SpanVal Span
	Value   bool
}

func (n *BoolLiteral) Span() Span { return n.SpanVal }
func (n *BoolLiteral) node()      {}
func (n *BoolLiteral) expr()      {}

// NullLiteral represents null.
type NullLiteral struct {
	SpanVal Span
}

func (n *NullLiteral) Span() Span { return n.SpanVal }
func (n *NullLiteral) node()      {}
func (n *NullLiteral) expr()      {}

// Identifier represents a variable reference.
type Identifier struct {
	SpanVal Span
	Name    string
}

func (n *Identifier) Span() Span { return n.SpanVal }
func (n *Identifier) node()      {}
func (n *Identifier) expr()      {}

// ListLiteral represents [a, b, c].
type ListLiteral struct {
	SpanVal  Span
	Elements []Expr
}

func (n *ListLiteral) Span() Span { return n.SpanVal }
func (n *ListLiteral) node()      {}
func (n *ListLiteral) expr()      {}

// DictEntry is one key: value pair of a dict literal.
type DictEntry struct {
	Key   Expr
	Value Expr
}

// DictLiteral represents {k: v, ...}.
type DictLiteral struct {
	SpanVal Span
	Entries []DictEntry
}

func (n *DictLiteral) Span() Span { return n.SpanVal }
func (n *DictLiteral) node()      {}
func (n *DictLiteral) expr()      {}

// FuncLiteral represents fn (a, b) { ... }. Named declarations produce a
// FuncLiteral with Name set.
type FuncLiteral struct {
	SpanVal Span
	Name    string
	Params  []string
	Body    *Block
}

func (n *FuncLiteral) Span() Span { return n.SpanVal }
func (n *FuncLiteral) node()      {}
func (n *FuncLiteral) expr()      {}

// UnaryExpr represents -x or !x.
type UnaryExpr struct {
	SpanVal Span
	Op      TokenType
	Operand Expr
}

func (n *UnaryExpr) Span() Span { return n.SpanVal }
func (n *UnaryExpr) node()      {}
func (n *UnaryExpr) expr()      {}

// BinaryExpr represents an infix operation.
type BinaryExpr struct {
	SpanVal Span
	Op      TokenType
	Left    Expr
	Right   Expr
}

func (n *BinaryExpr) Span() Span { return n.SpanVal }
func (n *BinaryExpr) node()      {}
func (n *BinaryExpr) expr()      {}

// CallExpr represents f(a, b).
type CallExpr struct {
	SpanVal Span
	Callee  Expr
	Args    []Expr
}

func (n *CallExpr) Span() Span { return n.SpanVal }
func (n *CallExpr) node()      {}
func (n *CallExpr) expr()      {}

// IndexExpr represents x[i].
type IndexExpr struct {
	SpanVal Span
	Target  Expr
	Index   Expr
}

func (n *IndexExpr) Span() Span { return n.SpanVal }
func (n *IndexExpr) node()      {}
func (n *IndexExpr) expr()      {}

// MethodCall represents receiver.name(args).
type MethodCall struct {
	SpanVal  Span
	Receiver Expr
	Name     string
	Args     []Expr
}

func (n *MethodCall) Span() Span { return n.SpanVal }
func (n *MethodCall) node()      {}
func (n *MethodCall) expr()      {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// LetStmt represents let x = e or const x = e.
type LetStmt struct {
	SpanVal Span
	Name    string
	Value   Expr
	Const   bool
}

func (n *LetStmt) Span() Span { return n.SpanVal }
func (n *LetStmt) node()      {}
func (n *LetStmt) stmt()      {}

// AssignStmt represents x = e or x[i] = e.
type AssignStmt struct {
	SpanVal Span
	Target  Expr // *Identifier or *IndexExpr
	Value   Expr
}

func (n *AssignStmt) Span() Span { return n.SpanVal }
func (n *AssignStmt) node()      {}
func (n *AssignStmt) stmt()      {}

// FuncDecl represents fn name(params) { ... }.
type FuncDecl struct {
	SpanVal Span
	Func    *FuncLiteral
}

func (n *FuncDecl) Span() Span { return n.SpanVal }
func (n *FuncDecl) node()      {}
func (n *FuncDecl) stmt()      {}

// IfStmt represents if cond { ... } else ...
type IfStmt struct {
	SpanVal Span
	Cond    Expr
	Then    *Block
	Else    Stmt // nil, *Block or *IfStmt
}

func (n *IfStmt) Span() Span { return n.SpanVal }
func (n *IfStmt) node()      {}
func (n *IfStmt) stmt()      {}

// WhileStmt represents while cond { ... }.
type WhileStmt struct {
	SpanVal Span
	Cond    Expr
	Body    *Block
}

func (n *WhileStmt) Span() Span { return n.SpanVal }
func (n *WhileStmt) node()      {}
func (n *WhileStmt) stmt()      {}

// ForStmt represents for x in iterable { ... }.
type ForStmt struct {
	SpanVal  Span
	Var      string
	Iterable Expr
	Body     *Block
}

func (n *ForStmt) Span() Span { return n.SpanVal }
func (n *ForStmt) node()      {}
func (n *ForStmt) stmt()      {}

// ReturnStmt represents return or return e.
type ReturnStmt struct {
	SpanVal Span
	Value   Expr // may be nil
}

func (n *ReturnStmt) Span() Span { return n.SpanVal }
func (n *ReturnStmt) node()      {}
func (n *ReturnStmt) stmt()      {}

// BreakStmt represents break.
type BreakStmt struct {
	SpanVal Span
}

func (n *BreakStmt) Span() Span { return n.SpanVal }
func (n *BreakStmt) node()      {}
func (n *BreakStmt) stmt()      {}

// ContinueStmt represents continue.
type ContinueStmt struct {
	SpanVal Span
}

func (n *ContinueStmt) Span() Span { return n.SpanVal }
func (n *ContinueStmt) node()      {}
func (n *ContinueStmt) stmt()      {}

// Block represents { stmts }.
type Block struct {
	SpanVal Span
	Stmts   []Stmt
}

func (n *Block) Span() Span { return n.SpanVal }
func (n *Block) node()      {}
func (n *Block) stmt()      {}

// ExprStmt wraps an expression used as a statement.
type ExprStmt struct {
	SpanVal Span
	Expr    Expr
}

func (n *ExprStmt) Span() Span { return n.SpanVal }
func (n *ExprStmt) node()      {}
func (n *ExprStmt) stmt()      {}

// ---------------------------------------------------------------------------
// Program
// ---------------------------------------------------------------------------

// Program is a parsed source file or REPL entry.
type Program struct {
	SpanVal Span
	Stmts   []Stmt
}

func (n *Program) Span() Span { return n.SpanVal }
func (n *Program) node()      {}
