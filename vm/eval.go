package vm

import (
	"fmt"
	"math"
	"strings"

	"github.com/chazu/mote/compiler"
	"github.com/chazu/mote/heap"
)

// flow is the control-flow outcome of executing a statement.
type flow uint8

const (
	flowNormal flow = iota
	flowBreak
	flowContinue
	flowReturn
)

// iterName binds a for loop's iterator in the loop scope so it stays rooted
// across safe points inside the body.
const iterName = " iter"

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (in *Interp) exec(stmt compiler.Stmt) (flow, heap.Ref, error) {
	switch n := stmt.(type) {
	case *compiler.ExprStmt:
		v, err := in.eval(n.Expr)
		return flowNormal, v, err

	case *compiler.LetStmt:
		v, err := in.eval(n.Value)
		if err != nil {
			return flowNormal, heap.Nil, err
		}
		var flags BindFlags
		if n.Const {
			flags = BindConst
		}
		return flowNormal, heap.Nil, errorAt(n, in.bind(n.Name, v, flags))

	case *compiler.AssignStmt:
		return flowNormal, heap.Nil, in.execAssign(n)

	case *compiler.FuncDecl:
		fn, err := in.makeFunc(n.Func)
		if err != nil {
			return flowNormal, heap.Nil, errorAt(n, err)
		}
		return flowNormal, heap.Nil, errorAt(n, in.bind(n.Func.Name, fn, 0))

	case *compiler.IfStmt:
		cond, err := in.eval(n.Cond)
		if err != nil {
			return flowNormal, heap.Nil, err
		}
		if in.Truthy(cond) {
			return in.execBlock(n.Then)
		}
		if n.Else != nil {
			return in.exec(n.Else)
		}
		return flowNormal, heap.Nil, nil

	case *compiler.WhileStmt:
		return in.execWhile(n)

	case *compiler.ForStmt:
		return in.execFor(n)

	case *compiler.ReturnStmt:
		v := in.null
		if n.Value != nil {
			var err error
			if v, err = in.eval(n.Value); err != nil {
				return flowNormal, heap.Nil, err
			}
		}
		return flowReturn, v, nil

	case *compiler.BreakStmt:
		return flowBreak, heap.Nil, nil

	case *compiler.ContinueStmt:
		return flowContinue, heap.Nil, nil

	case *compiler.Block:
		return in.execBlock(n)
	}
	return flowNormal, heap.Nil, failf(stmt, "unsupported statement %T", stmt)
}

// execBlock runs stmts in a fresh scope. The scope is popped on every exit
// path, including errors.
func (in *Interp) execBlock(b *compiler.Block) (flow, heap.Ref, error) {
	if err := in.env.PushScope(); err != nil {
		return flowNormal, heap.Nil, errorAt(b, err)
	}
	defer in.env.PopScope()
	return in.execStmts(b.Stmts)
}

func (in *Interp) execStmts(stmts []compiler.Stmt) (flow, heap.Ref, error) {
	for _, stmt := range stmts {
		in.safePoint()
		fl, v, err := in.exec(stmt)
		if err != nil || fl != flowNormal {
			return fl, v, err
		}
	}
	return flowNormal, heap.Nil, nil
}

func (in *Interp) execWhile(n *compiler.WhileStmt) (flow, heap.Ref, error) {
	for {
		cond, err := in.eval(n.Cond)
		if err != nil {
			return flowNormal, heap.Nil, err
		}
		if !in.Truthy(cond) {
			return flowNormal, heap.Nil, nil
		}
		fl, v, err := in.execBlock(n.Body)
		if err != nil {
			return flowNormal, heap.Nil, err
		}
		switch fl {
		case flowBreak:
			return flowNormal, heap.Nil, nil
		case flowReturn:
			return fl, v, nil
		}
	}
}

func (in *Interp) execFor(n *compiler.ForStmt) (flow, heap.Ref, error) {
	source, err := in.eval(n.Iterable)
	if err != nil {
		return flowNormal, heap.Nil, err
	}
	it, err := in.NewIter(source)
	if err != nil {
		return flowNormal, heap.Nil, errorAt(n.Iterable, err)
	}

	if err := in.env.PushScope(); err != nil {
		return flowNormal, heap.Nil, errorAt(n, err)
	}
	defer in.env.PopScope()
	if err := in.env.Bind(iterName, it, BindHidden); err != nil {
		return flowNormal, heap.Nil, errorAt(n, err)
	}

	for {
		v, ok, err := in.IterNext(it)
		if err != nil {
			return flowNormal, heap.Nil, errorAt(n, err)
		}
		if !ok {
			return flowNormal, heap.Nil, nil
		}
		fl, rv, err := in.execIteration(n, v)
		if err != nil {
			return flowNormal, heap.Nil, err
		}
		switch fl {
		case flowBreak:
			return flowNormal, heap.Nil, nil
		case flowReturn:
			return fl, rv, nil
		}
	}
}

// execIteration binds the loop variable in its own scope and runs the body.
func (in *Interp) execIteration(n *compiler.ForStmt, v heap.Ref) (flow, heap.Ref, error) {
	if err := in.env.PushScope(); err != nil {
		return flowNormal, heap.Nil, errorAt(n, err)
	}
	defer in.env.PopScope()
	if err := in.bind(n.Var, v, 0); err != nil {
		return flowNormal, heap.Nil, errorAt(n, err)
	}
	return in.execStmts(n.Body.Stmts)
}

func (in *Interp) execAssign(n *compiler.AssignStmt) error {
	v, err := in.eval(n.Value)
	if err != nil {
		return err
	}
	switch target := n.Target.(type) {
	case *compiler.Identifier:
		if err := in.env.Assign(target.Name, v); err != nil {
			return errorAt(n, err)
		}
		setFlags(in.heap, v, FlagBound)
		return nil
	case *compiler.IndexExpr:
		obj, err := in.eval(target.Target)
		if err != nil {
			return err
		}
		idx, err := in.eval(target.Index)
		if err != nil {
			return err
		}
		return errorAt(n, in.SetIndex(obj, idx, v))
	}
	return failf(n, "cannot assign to %T", n.Target)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (in *Interp) eval(expr compiler.Expr) (heap.Ref, error) {
	switch n := expr.(type) {
	case *compiler.IntLiteral:
		r, err := in.NewInt(n.Value)
		return r, errorAt(n, err)

	case *compiler.FloatLiteral:
		r, err := in.NewFloat(n.Value)
		return r, errorAt(n, err)

	case *compiler.StringLiteral:
		r, err := in.NewString(n.Value)
		return r, errorAt(n, err)

	case *compiler.BoolLiteral:
		return in.NewBool(n.Value), nil

	case *compiler.NullLiteral:
		return in.null, nil

	case *compiler.Identifier:
		r, err := in.env.Lookup(n.Name)
		return r, errorAt(n, err)

	case *compiler.ListLiteral:
		values := make([]heap.Ref, 0, len(n.Elements))
		for _, e := range n.Elements {
			v, err := in.eval(e)
			if err != nil {
				return heap.Nil, err
			}
			values = append(values, v)
		}
		r, err := in.NewList(values...)
		return r, errorAt(n, err)

	case *compiler.DictLiteral:
		d, err := in.NewDict()
		if err != nil {
			return heap.Nil, errorAt(n, err)
		}
		for _, entry := range n.Entries {
			k, err := in.eval(entry.Key)
			if err != nil {
				return heap.Nil, err
			}
			v, err := in.eval(entry.Value)
			if err != nil {
				return heap.Nil, err
			}
			if err := in.DictSet(d, k, v); err != nil {
				return heap.Nil, errorAt(entry.Key, err)
			}
		}
		return d, nil

	case *compiler.FuncLiteral:
		r, err := in.makeFunc(n)
		return r, errorAt(n, err)

	case *compiler.UnaryExpr:
		return in.evalUnary(n)

	case *compiler.BinaryExpr:
		return in.evalBinary(n)

	case *compiler.CallExpr:
		callee, err := in.eval(n.Callee)
		if err != nil {
			return heap.Nil, err
		}
		args, err := in.evalArgs(n.Args)
		if err != nil {
			return heap.Nil, err
		}
		return in.call(n, callee, args)

	case *compiler.IndexExpr:
		obj, err := in.eval(n.Target)
		if err != nil {
			return heap.Nil, err
		}
		idx, err := in.eval(n.Index)
		if err != nil {
			return heap.Nil, err
		}
		r, err := in.Index(obj, idx)
		return r, errorAt(n, err)

	case *compiler.MethodCall:
		recv, err := in.eval(n.Receiver)
		if err != nil {
			return heap.Nil, err
		}
		args, err := in.evalArgs(n.Args)
		if err != nil {
			return heap.Nil, err
		}
		r, err := in.callMethod(recv, n.Name, args)
		return r, errorAt(n, err)
	}
	return heap.Nil, failf(expr, "unsupported expression %T", expr)
}

func (in *Interp) evalArgs(exprs []compiler.Expr) ([]heap.Ref, error) {
	args := make([]heap.Ref, 0, len(exprs))
	for _, e := range exprs {
		v, err := in.eval(e)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

// makeFunc allocates a function object for lit. Each literal is registered
// once; later evaluations reuse its id.
func (in *Interp) makeFunc(lit *compiler.FuncLiteral) (heap.Ref, error) {
	id, ok := in.funcIDs[lit]
	if !ok {
		id = len(in.funcs)
		in.funcs = append(in.funcs, lit)
		in.funcIDs[lit] = id
	}
	return in.newFunc(id, lit.Params)
}

// call invokes a function or builtin. Functions run in a new scope pushed on
// top of the caller's, so free names resolve dynamically.
func (in *Interp) call(node compiler.Node, callee heap.Ref, args []heap.Ref) (heap.Ref, error) {
	switch in.TypeOf(callee) {
	case TypeNative:
		r, err := in.callBuiltin(in.nativeID(callee), args)
		return r, errorAt(node, err)
	case TypeFunc:
	default:
		return heap.Nil, errorf(node, ErrType, "%s is not callable", in.TypeOf(callee))
	}

	lit := in.funcs[in.funcID(callee)]
	params := in.funcParams(callee)
	if len(args) != len(params) {
		return heap.Nil, errorf(node, ErrArity, "%s takes %d, got %d", funcName(lit), len(params), len(args))
	}

	if err := in.env.PushScope(); err != nil {
		return heap.Nil, errorAt(node, err)
	}
	defer in.env.PopScope()
	in.callDepth++
	defer func() { in.callDepth-- }()

	for i, name := range params {
		if err := in.bind(name, args[i], 0); err != nil {
			return heap.Nil, errorAt(node, err)
		}
	}

	fl, v, err := in.execStmts(lit.Body.Stmts)
	if err != nil {
		return heap.Nil, err
	}
	switch fl {
	case flowReturn:
		return v, nil
	case flowBreak:
		return heap.Nil, failf(node, "break outside loop in %s", funcName(lit))
	case flowContinue:
		return heap.Nil, failf(node, "continue outside loop in %s", funcName(lit))
	}
	return in.null, nil
}

func funcName(lit *compiler.FuncLiteral) string {
	if lit.Name == "" {
		return "anonymous fn"
	}
	return lit.Name
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

func (in *Interp) evalUnary(n *compiler.UnaryExpr) (heap.Ref, error) {
	v, err := in.eval(n.Operand)
	if err != nil {
		return heap.Nil, err
	}
	switch n.Op {
	case compiler.TokenBang:
		return in.NewBool(!in.Truthy(v)), nil
	case compiler.TokenMinus:
		switch in.TypeOf(v) {
		case TypeInt:
			r, err := in.NewInt(-in.IntValue(v))
			return r, errorAt(n, err)
		case TypeFloat:
			r, err := in.NewFloat(-in.FloatValue(v))
			return r, errorAt(n, err)
		}
		return heap.Nil, errorf(n, ErrType, "cannot negate %s", in.TypeOf(v))
	}
	return heap.Nil, failf(n, "unknown unary operator %s", n.Op)
}

func (in *Interp) evalBinary(n *compiler.BinaryExpr) (heap.Ref, error) {
	left, err := in.eval(n.Left)
	if err != nil {
		return heap.Nil, err
	}

	// && and || short-circuit and yield the deciding operand.
	switch n.Op {
	case compiler.TokenAnd:
		if !in.Truthy(left) {
			return left, nil
		}
		return in.eval(n.Right)
	case compiler.TokenOr:
		if in.Truthy(left) {
			return left, nil
		}
		return in.eval(n.Right)
	}

	right, err := in.eval(n.Right)
	if err != nil {
		return heap.Nil, err
	}
	r, err := in.binaryOp(n.Op, left, right)
	return r, errorAt(n, err)
}

func isNumber(t TypeTag) bool {
	return t == TypeInt || t == TypeFloat
}

func (in *Interp) number(r heap.Ref) float64 {
	if in.TypeOf(r) == TypeInt {
		return float64(in.IntValue(r))
	}
	return in.FloatValue(r)
}

// binaryOp applies a non-short-circuit operator.
func (in *Interp) binaryOp(op compiler.TokenType, a, b heap.Ref) (heap.Ref, error) {
	switch op {
	case compiler.TokenEq:
		return in.NewBool(in.Equal(a, b)), nil
	case compiler.TokenNotEq:
		return in.NewBool(!in.Equal(a, b)), nil
	}

	ta, tb := in.TypeOf(a), in.TypeOf(b)
	switch {
	case ta == TypeInt && tb == TypeInt:
		return in.intOp(op, in.IntValue(a), in.IntValue(b))
	case isNumber(ta) && isNumber(tb):
		return in.floatOp(op, in.number(a), in.number(b))
	case ta == TypeString && tb == TypeString:
		return in.stringOp(op, in.StringValue(a), in.StringValue(b))
	case ta == TypeList && tb == TypeList && op == compiler.TokenPlus:
		values := make([]heap.Ref, 0, in.ListLen(a)+in.ListLen(b))
		for v := range in.ListValues(a) {
			values = append(values, v)
		}
		for v := range in.ListValues(b) {
			values = append(values, v)
		}
		return in.NewList(values...)
	}
	return heap.Nil, fmt.Errorf("%w: unsupported operands for %s: %s and %s", ErrType, op, ta, tb)
}

func (in *Interp) intOp(op compiler.TokenType, a, b int64) (heap.Ref, error) {
	switch op {
	case compiler.TokenPlus:
		return in.NewInt(a + b)
	case compiler.TokenMinus:
		return in.NewInt(a - b)
	case compiler.TokenStar:
		return in.NewInt(a * b)
	case compiler.TokenSlash:
		if b == 0 {
			return heap.Nil, ErrDivideByZero
		}
		return in.NewInt(a / b)
	case compiler.TokenPercent:
		if b == 0 {
			return heap.Nil, ErrDivideByZero
		}
		return in.NewInt(a % b)
	case compiler.TokenLT:
		return in.NewBool(a < b), nil
	case compiler.TokenLE:
		return in.NewBool(a <= b), nil
	case compiler.TokenGT:
		return in.NewBool(a > b), nil
	case compiler.TokenGE:
		return in.NewBool(a >= b), nil
	}
	return heap.Nil, fmt.Errorf("%w: unsupported operator %s for int", ErrType, op)
}

func (in *Interp) floatOp(op compiler.TokenType, a, b float64) (heap.Ref, error) {
	switch op {
	case compiler.TokenPlus:
		return in.NewFloat(a + b)
	case compiler.TokenMinus:
		return in.NewFloat(a - b)
	case compiler.TokenStar:
		return in.NewFloat(a * b)
	case compiler.TokenSlash:
		if b == 0 {
			return heap.Nil, ErrDivideByZero
		}
		return in.NewFloat(a / b)
	case compiler.TokenPercent:
		if b == 0 {
			return heap.Nil, ErrDivideByZero
		}
		return in.NewFloat(math.Mod(a, b))
	case compiler.TokenLT:
		return in.NewBool(a < b), nil
	case compiler.TokenLE:
		return in.NewBool(a <= b), nil
	case compiler.TokenGT:
		return in.NewBool(a > b), nil
	case compiler.TokenGE:
		return in.NewBool(a >= b), nil
	}
	return heap.Nil, fmt.Errorf("%w: unsupported operator %s for float", ErrType, op)
}

func (in *Interp) stringOp(op compiler.TokenType, a, b string) (heap.Ref, error) {
	switch op {
	case compiler.TokenPlus:
		return in.NewString(a + b)
	case compiler.TokenLT:
		return in.NewBool(strings.Compare(a, b) < 0), nil
	case compiler.TokenLE:
		return in.NewBool(strings.Compare(a, b) <= 0), nil
	case compiler.TokenGT:
		return in.NewBool(strings.Compare(a, b) > 0), nil
	case compiler.TokenGE:
		return in.NewBool(strings.Compare(a, b) >= 0), nil
	}
	return heap.Nil, fmt.Errorf("%w: unsupported operator %s for string", ErrType, op)
}

// ---------------------------------------------------------------------------
// Equality, truthiness, indexing
// ---------------------------------------------------------------------------

// Equal compares by value for scalars, strings and ranges, and by identity
// for everything else. Ints and floats compare numerically.
func (in *Interp) Equal(a, b heap.Ref) bool {
	if a == b {
		return true
	}
	ta, tb := in.TypeOf(a), in.TypeOf(b)
	switch {
	case ta == TypeInt && tb == TypeInt:
		return in.IntValue(a) == in.IntValue(b)
	case isNumber(ta) && isNumber(tb):
		return in.number(a) == in.number(b)
	case ta != tb:
		return false
	}
	switch ta {
	case TypeNull:
		return true
	case TypeBool:
		return in.BoolValue(a) == in.BoolValue(b)
	case TypeString:
		return string(in.rawBytes(Child(in.heap, a, 0))) == string(in.rawBytes(Child(in.heap, b, 0)))
	case TypeRange:
		return in.RangeValue(a) == in.RangeValue(b)
	}
	return false
}

// Truthy reports whether v counts as true in a condition. null, false, zero
// and empty containers are false.
func (in *Interp) Truthy(v heap.Ref) bool {
	switch in.TypeOf(v) {
	case TypeNull:
		return false
	case TypeBool:
		return in.BoolValue(v)
	case TypeInt:
		return in.IntValue(v) != 0
	case TypeFloat:
		return in.FloatValue(v) != 0
	case TypeString:
		return len(in.rawBytes(Child(in.heap, v, 0))) > 0
	case TypeArray:
		return len(in.ArrayBytes(v)) > 0
	case TypeList:
		return in.ListLen(v) > 0
	case TypeDict:
		return in.DictLen(v) > 0
	case TypeRange:
		return in.RangeValue(v).Len() > 0
	}
	return true
}

func (in *Interp) intArg(v heap.Ref, what string) (int64, error) {
	if in.TypeOf(v) != TypeInt {
		return 0, fmt.Errorf("%w: %s must be int, not %s", ErrType, what, in.TypeOf(v))
	}
	return in.IntValue(v), nil
}

// Index implements obj[idx].
func (in *Interp) Index(obj, idx heap.Ref) (heap.Ref, error) {
	switch in.TypeOf(obj) {
	case TypeDict:
		v, ok := in.DictGet(obj, idx)
		if !ok {
			return heap.Nil, fmt.Errorf("%w: key %s not found", ErrIndex, in.Repr(idx))
		}
		return v, nil
	case TypeList:
		i, err := in.intArg(idx, "list index")
		if err != nil {
			return heap.Nil, err
		}
		return in.ListGet(obj, i)
	case TypeString:
		i, err := in.intArg(idx, "string index")
		if err != nil {
			return heap.Nil, err
		}
		runes := []rune(in.StringValue(obj))
		j, err := normIndex(i, len(runes))
		if err != nil {
			return heap.Nil, err
		}
		return in.NewString(string(runes[j]))
	case TypeArray:
		i, err := in.intArg(idx, "array index")
		if err != nil {
			return heap.Nil, err
		}
		b := in.ArrayBytes(obj)
		j, err := normIndex(i, len(b))
		if err != nil {
			return heap.Nil, err
		}
		return in.NewInt(int64(b[j]))
	case TypeRange:
		i, err := in.intArg(idx, "range index")
		if err != nil {
			return heap.Nil, err
		}
		rg := in.RangeValue(obj)
		j, err := normIndex(i, int(rg.Len()))
		if err != nil {
			return heap.Nil, err
		}
		return in.NewInt(rg.At(int64(j)))
	}
	return heap.Nil, fmt.Errorf("%w: %s is not indexable", ErrType, in.TypeOf(obj))
}

// SetIndex implements obj[idx] = v.
func (in *Interp) SetIndex(obj, idx, v heap.Ref) error {
	if in.FlagsOf(obj)&FlagFrozen != 0 {
		return fmt.Errorf("%w: cannot modify const %s", ErrImmutable, in.TypeOf(obj))
	}
	switch in.TypeOf(obj) {
	case TypeDict:
		return in.DictSet(obj, idx, v)
	case TypeList:
		i, err := in.intArg(idx, "list index")
		if err != nil {
			return err
		}
		return in.ListSet(obj, i, v)
	case TypeArray:
		i, err := in.intArg(idx, "array index")
		if err != nil {
			return err
		}
		b, err := in.byteArg(v)
		if err != nil {
			return err
		}
		data := in.ArrayBytes(obj)
		j, err := normIndex(i, len(data))
		if err != nil {
			return err
		}
		data[j] = b
		return nil
	}
	return fmt.Errorf("%w: %s does not support item assignment", ErrType, in.TypeOf(obj))
}

func (in *Interp) byteArg(v heap.Ref) (byte, error) {
	n, err := in.intArg(v, "array element")
	if err != nil {
		return 0, err
	}
	if n < 0 || n > math.MaxUint8 {
		return 0, fmt.Errorf("%w: array element %d out of byte range", ErrType, n)
	}
	return byte(n), nil
}
