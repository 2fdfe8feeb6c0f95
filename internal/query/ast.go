package query

import (
	"fmt"
	"strconv"
	"strings"

	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/san-kum/endstat/internal/record"
)

type node interface {
	eval(r *record.Record) bool
	collect(fields *record.FieldSet)
	format(sb *strings.Builder)
	sql(b *sqlBuilder) bool
}

type sqlBuilder struct {
	column func(record.Field) (string, bool)
	sb     strings.Builder
	args   []any
}

type andNode struct{ left, right node }

func (n *andNode) eval(r *record.Record) bool { return n.left.eval(r) && n.right.eval(r) }

func (n *andNode) collect(fields *record.FieldSet) {
	n.left.collect(fields)
	n.right.collect(fields)
}

func (n *andNode) format(sb *strings.Builder) { formatBinary(sb, n.left, "and", n.right) }
func (n *andNode) sql(b *sqlBuilder) bool     { return sqlBinary(b, n.left, "AND", n.right) }

type orNode struct{ left, right node }

func (n *orNode) eval(r *record.Record) bool { return n.left.eval(r) || n.right.eval(r) }

func (n *orNode) collect(fields *record.FieldSet) {
	n.left.collect(fields)
	n.right.collect(fields)
}

func (n *orNode) format(sb *strings.Builder) { formatBinary(sb, n.left, "or", n.right) }
func (n *orNode) sql(b *sqlBuilder) bool     { return sqlBinary(b, n.left, "OR", n.right) }

type notNode struct{ x node }

func (n *notNode) eval(r *record.Record) bool      { return !n.x.eval(r) }
func (n *notNode) collect(fields *record.FieldSet) { n.x.collect(fields) }

func (n *notNode) format(sb *strings.Builder) {
	sb.WriteString("not ")
	n.x.format(sb)
}

func (n *notNode) sql(b *sqlBuilder) bool {
	b.sb.WriteString("(NOT ")
	if !n.x.sql(b) {
		return false
	}
	b.sb.WriteString(")")
	return true
}

func formatBinary(sb *strings.Builder, left node, op string, right node) {
	sb.WriteString("(")
	left.format(sb)
	sb.WriteString(" " + op + " ")
	right.format(sb)
	sb.WriteString(")")
}

func sqlBinary(b *sqlBuilder, left node, op string, right node) bool {
	b.sb.WriteString("(")
	if !left.sql(b) {
		return false
	}
	b.sb.WriteString(" " + op + " ")
	if !right.sql(b) {
		return false
	}
	b.sb.WriteString(")")
	return true
}

type cmpOp int

const (
	opEq cmpOp = iota
	opNe
	opLt
	opLe
	opGt
	opGe
)

func (o cmpOp) String() string {
	return [...]string{"==", "!=", "<", "<=", ">", ">="}[o]
}

func (o cmpOp) sqlString() string {
	return [...]string{"=", "<>", "<", "<=", ">", ">="}[o]
}

type cmpNode struct {
	op          cmpOp
	left, right operand
}

func (n *cmpNode) eval(r *record.Record) bool {
	if n.left.isString() {
		return compareStrings(n.op, n.left.text(r), n.right.text(r))
	}
	return compareNumbers(n.op, n.left.number(r), n.right.number(r))
}

func compareNumbers(op cmpOp, a, b float64) bool {
	switch op {
	case opEq:
		return a == b
	case opNe:
		return a != b
	case opLt:
		return a < b
	case opLe:
		return a <= b
	case opGt:
		return a > b
	default:
		return a >= b
	}
}

func compareStrings(op cmpOp, a, b string) bool {
	switch op {
	case opEq:
		return a == b
	case opNe:
		return a != b
	case opLt:
		return a < b
	case opLe:
		return a <= b
	case opGt:
		return a > b
	default:
		return a >= b
	}
}

func (n *cmpNode) collect(fields *record.FieldSet) {
	n.left.collect(fields)
	n.right.collect(fields)
}

func (n *cmpNode) format(sb *strings.Builder) {
	n.left.format(sb)
	sb.WriteString(" " + n.op.String() + " ")
	n.right.format(sb)
}

func (n *cmpNode) sql(b *sqlBuilder) bool {
	if !n.left.sql(b) {
		return false
	}
	b.sb.WriteString(" " + n.op.sqlString() + " ")
	return n.right.sql(b)
}

type operandKind int

const (
	operandField operandKind = iota
	operandNumber
	operandString
)

type operand struct {
	kind  operandKind
	field record.Field
	num   float64
	str   string
}

func (o operand) isString() bool {
	return o.kind == operandString || (o.kind == operandField && o.field.IsString())
}

func (o operand) number(r *record.Record) float64 {
	if o.kind == operandField {
		return o.field.Value(r)
	}
	return o.num
}

func (o operand) text(r *record.Record) string {
	if o.kind == operandField {
		return r.Kind
	}
	return o.str
}

func (o operand) collect(fields *record.FieldSet) {
	if o.kind == operandField {
		*fields = fields.With(o.field)
	}
}

func (o operand) format(sb *strings.Builder) {
	switch o.kind {
	case operandField:
		sb.WriteString(o.field.String())
	case operandNumber:
		sb.WriteString(strconv.FormatFloat(o.num, 'g', -1, 64))
	default:
		sb.WriteString(strconv.Quote(o.str))
	}
}

func (o operand) sql(b *sqlBuilder) bool {
	switch o.kind {
	case operandField:
		col, ok := b.column(o.field)
		if !ok {
			return false
		}
		b.sb.WriteString(col)
	case operandNumber:
		b.sb.WriteString("?")
		b.args = append(b.args, o.num)
	default:
		b.sb.WriteString("?")
		b.args = append(b.args, o.str)
	}
	return true
}

var cmpFunctions = map[string]cmpOp{
	"=": opEq, "_==_": opEq,
	"!=": opNe, "_!=_": opNe,
	"<": opLt, "_<_": opLt,
	"<=": opLe, "_<=_": opLe,
	">": opGt, "_>_": opGt,
	">=": opGe, "_>=_": opGe,
}

// build binds a checked filter expression to record accessors.
func build(e *expr.Expr) (node, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	kind, ok := e.ExprKind.(*expr.Expr_CallExpr)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported expression %T", ErrSyntax, e.ExprKind)
	}
	call := kind.CallExpr

	switch call.Function {
	case "AND", "_&&_":
		return fold(call.Args, func(l, r node) node { return &andNode{left: l, right: r} })
	case "OR", "_||_":
		return fold(call.Args, func(l, r node) node { return &orNode{left: l, right: r} })
	case "NOT", "!_":
		if len(call.Args) != 1 {
			return nil, fmt.Errorf("%w: NOT takes one argument", ErrSyntax)
		}
		x, err := build(call.Args[0])
		if err != nil {
			return nil, err
		}
		return &notNode{x: x}, nil
	}

	op, ok := cmpFunctions[call.Function]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported function %s", ErrSyntax, call.Function)
	}
	if len(call.Args) != 2 {
		return nil, fmt.Errorf("%w: comparison takes two arguments", ErrSyntax)
	}
	left, err := buildOperand(call.Args[0])
	if err != nil {
		return nil, err
	}
	right, err := buildOperand(call.Args[1])
	if err != nil {
		return nil, err
	}
	if left.isString() != right.isString() {
		return nil, fmt.Errorf("%w: cannot compare text with a number", ErrType)
	}
	return &cmpNode{op: op, left: left, right: right}, nil
}

func fold(args []*expr.Expr, join func(l, r node) node) (node, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: empty group", ErrSyntax)
	}
	out, err := build(args[0])
	if err != nil {
		return nil, err
	}
	for _, arg := range args[1:] {
		next, err := build(arg)
		if err != nil {
			return nil, err
		}
		out = join(out, next)
	}
	return out, nil
}

func buildOperand(e *expr.Expr) (operand, error) {
	switch kind := e.GetExprKind().(type) {
	case *expr.Expr_IdentExpr:
		f, ok := record.LookupField(kind.IdentExpr.Name)
		if !ok {
			return operand{}, fmt.Errorf("%w: %s", ErrUnknownField, kind.IdentExpr.Name)
		}
		return operand{kind: operandField, field: f}, nil
	case *expr.Expr_ConstExpr:
		switch c := kind.ConstExpr.GetConstantKind().(type) {
		case *expr.Constant_DoubleValue:
			return operand{kind: operandNumber, num: c.DoubleValue}, nil
		case *expr.Constant_Int64Value:
			return operand{kind: operandNumber, num: float64(c.Int64Value)}, nil
		case *expr.Constant_Uint64Value:
			return operand{kind: operandNumber, num: float64(c.Uint64Value)}, nil
		case *expr.Constant_StringValue:
			return operand{kind: operandString, str: c.StringValue}, nil
		default:
			return operand{}, fmt.Errorf("%w: unsupported constant %T", ErrType, c)
		}
	}
	return operand{}, fmt.Errorf("%w: unsupported operand %T", ErrSyntax, e.GetExprKind())
}
