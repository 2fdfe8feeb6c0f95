package query

import (
	"math"
	"strconv"
	"strings"

	"github.com/san-kum/endstat/internal/record"
)

// translator rewrites the accepted spelling into an AIP-160 filter:
//
//	expr    = unary { (AND | OR) unary }
//	unary   = { NOT } ( "(" expr ")" | compare )
//	compare = operand cmp operand { cmp operand }
//	operand = [ "-" | "+" ] number | ident | string
//
// AIP-160 binds OR tighter than AND, so every group is parenthesized to keep
// and above or. Comparisons are written with the field on the left and
// numbers as float literals, which is what the checker types fields as.
type translator struct {
	toks []token
	pos  int
	out  strings.Builder
}

func translate(toks []token) (string, error) {
	t := &translator{toks: toks}
	t.out.WriteString("((")
	if err := t.expr(); err != nil {
		return "", err
	}
	if tok := t.peek(); tok.kind != tokEOF {
		return "", syntaxError(tok.pos, "unexpected "+describe(tok))
	}
	t.out.WriteString("))")
	return t.out.String(), nil
}

func syntaxError(pos int, msg string) error {
	return &ParseError{Pos: pos, Msg: msg, Err: ErrSyntax}
}

func (t *translator) peek() token {
	return t.toks[t.pos]
}

func (t *translator) advance() token {
	tok := t.toks[t.pos]
	if tok.kind != tokEOF {
		t.pos++
	}
	return tok
}

func (t *translator) expr() error {
	for {
		if err := t.unary(); err != nil {
			return err
		}
		switch t.peek().kind {
		case tokAnd:
			t.advance()
			t.out.WriteString(") AND (")
		case tokOr:
			t.advance()
			t.out.WriteString(")) OR ((")
		default:
			return nil
		}
	}
}

func (t *translator) unary() error {
	negate := false
	for t.peek().kind == tokNot {
		t.advance()
		negate = !negate
	}
	if negate {
		t.out.WriteString("NOT ")
	}

	if t.peek().kind != tokLParen {
		return t.compare()
	}
	// one group of its own around the and/or groups inside
	t.advance()
	t.out.WriteString("(((")
	if err := t.expr(); err != nil {
		return err
	}
	if closing := t.advance(); closing.kind != tokRParen {
		return syntaxError(closing.pos, "expected ), found "+describe(closing))
	}
	t.out.WriteString(")))")
	return nil
}

// compare writes one comparison, or a parenthesized AND of the links of a
// chain such as 0 < tend < 500.
func (t *translator) compare() error {
	left, err := t.operand()
	if err != nil {
		return err
	}
	if tok := t.peek(); tok.kind != tokCmp {
		return syntaxError(tok.pos, "expected comparison, found "+describe(tok))
	}

	var links []string
	for t.peek().kind == tokCmp {
		op := t.advance()
		right, err := t.operand()
		if err != nil {
			return err
		}
		if left.isString() != right.isString() {
			return &ParseError{Pos: op.pos, Msg: "cannot compare text with a number", Err: ErrType}
		}
		link, err := restriction(left, op, right)
		if err != nil {
			return err
		}
		links = append(links, link)
		left = right
	}

	if len(links) == 1 {
		t.out.WriteString(links[0])
	} else {
		t.out.WriteString("(" + strings.Join(links, " AND ") + ")")
	}
	return nil
}

type term struct {
	kind  operandKind
	pos   int
	field record.Field
	lit   string
}

func (o term) isString() bool {
	return o.kind == operandString || (o.kind == operandField && o.field.IsString())
}

func (o term) String() string {
	if o.kind == operandField {
		return o.field.String()
	}
	return o.lit
}

// mirrored is the operator that keeps a comparison true when its sides swap.
var mirrored = map[string]string{"==": "==", "!=": "!=", "<": ">", "<=": ">=", ">": "<", ">=": "<="}

func restriction(left term, op token, right term) (string, error) {
	cmp := op.text
	switch {
	case left.kind == operandField:
	case right.kind == operandField:
		left, right = right, left
		cmp = mirrored[cmp]
	default:
		return "", syntaxError(left.pos, "comparison without a field")
	}
	if cmp == "==" {
		cmp = "="
	}
	return left.String() + " " + cmp + " " + right.String(), nil
}

func (t *translator) operand() (term, error) {
	neg, signed := false, false
	for {
		tok := t.peek()
		if tok.kind == tokMinus {
			neg = !neg
		} else if tok.kind != tokPlus {
			break
		}
		signed = true
		t.advance()
	}

	tok := t.advance()
	switch tok.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(tok.text, 64)
		if err != nil || math.IsInf(v, 0) {
			return term{}, syntaxError(tok.pos, "malformed number "+tok.text)
		}
		if neg {
			v = -v
		}
		return term{kind: operandNumber, pos: tok.pos, lit: floatLiteral(v)}, nil
	case tokIdent:
		f, ok := record.LookupField(tok.text)
		if !ok {
			return term{}, &ParseError{Pos: tok.pos, Msg: tok.text, Err: ErrUnknownField}
		}
		if signed && f.IsString() {
			return term{}, &ParseError{Pos: tok.pos, Msg: "sign applied to text field " + f.String(), Err: ErrType}
		}
		if signed {
			return term{}, syntaxError(tok.pos, "sign applied to field "+f.String())
		}
		return term{kind: operandField, pos: tok.pos, field: f}, nil
	case tokString:
		if signed {
			return term{}, &ParseError{Pos: tok.pos, Msg: "sign applied to text", Err: ErrType}
		}
		return term{kind: operandString, pos: tok.pos, lit: strconv.Quote(tok.text)}, nil
	}
	return term{}, syntaxError(tok.pos, "expected operand, found "+describe(tok))
}

// floatLiteral always carries a decimal point and never an exponent.
func floatLiteral(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func describe(tok token) string {
	switch tok.kind {
	case tokEOF:
		return "end of expression"
	case tokString:
		return strconv.Quote(tok.text)
	}
	return "'" + tok.text + "'"
}
