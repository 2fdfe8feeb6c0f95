// Package query parses and evaluates record filter expressions such as
//
//	stopID == -4 and Eend < 100
//
// Expressions are rewritten into AIP-160 filters and type checked against
// one declaration per record field, so an unknown name fails immediately and
// evaluation never looks a field up by name. Supported: comparisons
// (== != < <= > >=, chainable as in 0 < tend < 500), and/or/not (also
// && || ! & | ~), parentheses, numeric literals with optional sign and
// exponent, and quoted string literals for the kind field.
package query

import (
	"errors"
	"fmt"
	"strings"

	"go.einride.tech/aip/filtering"

	"github.com/san-kum/endstat/internal/record"
)

var (
	// ErrSyntax indicates a malformed expression.
	ErrSyntax = errors.New("query: syntax error")

	// ErrUnknownField indicates a name that is not a record field.
	ErrUnknownField = errors.New("query: unknown field")

	// ErrType indicates a comparison between text and a number.
	ErrType = errors.New("query: type mismatch")
)

// ParseError locates a parse failure in the source expression. Pos is -1
// when the failure has no single position.
type ParseError struct {
	Pos int
	Msg string
	Err error
}

func (e *ParseError) Error() string {
	if e.Pos < 0 {
		return fmt.Sprintf("%v: %s", e.Err, e.Msg)
	}
	return fmt.Sprintf("%v at offset %d: %s", e.Err, e.Pos, e.Msg)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Filter is a parsed, bound predicate. A nil *Filter matches every record.
type Filter struct {
	src    string
	aip    string
	root   node
	fields record.FieldSet
}

// Parse compiles src. An empty expression, or the word "all", yields a
// filter that matches everything.
func Parse(src string) (*Filter, error) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" || strings.EqualFold(trimmed, "all") {
		return &Filter{src: trimmed}, nil
	}

	toks, err := (&lexer{src: src}).tokens()
	if err != nil {
		return nil, err
	}
	text, err := translate(toks)
	if err != nil {
		return nil, err
	}
	decls, err := declarations()
	if err != nil {
		return nil, fmt.Errorf("query: declarations: %w", err)
	}
	checked, err := filtering.ParseFilter(filterString(text), decls)
	if err != nil {
		return nil, &ParseError{Pos: -1, Msg: err.Error(), Err: ErrSyntax}
	}
	root, err := build(checked.CheckedExpr.GetExpr())
	if err != nil {
		return nil, &ParseError{Pos: -1, Msg: text, Err: err}
	}

	f := &Filter{src: trimmed, aip: text, root: root}
	root.collect(&f.fields)
	return f, nil
}

// filterString adapts a bare filter string to filtering.Request.
type filterString string

func (s filterString) GetFilter() string { return string(s) }

// declarations types every record field for the checker: kind is text,
// everything else a float.
func declarations() (*filtering.Declarations, error) {
	opts := []filtering.DeclarationOption{filtering.DeclareStandardFunctions()}
	for _, f := range record.Fields() {
		t := filtering.TypeFloat
		if f.IsString() {
			t = filtering.TypeString
		}
		opts = append(opts, filtering.DeclareIdent(f.String(), t))
	}
	return filtering.NewDeclarations(opts...)
}

// MustParse is Parse for expressions known to be valid. Presets are
// compiled with it when the config package loads.
func MustParse(src string) *Filter {
	f, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return f
}

// IsEmpty reports whether the filter passes every record unchanged.
func (f *Filter) IsEmpty() bool {
	return f == nil || f.root == nil
}

// Match evaluates the predicate against r.
func (f *Filter) Match(r *record.Record) bool {
	if f.IsEmpty() {
		return true
	}
	return f.root.eval(r)
}

// Apply returns the matching records. With an empty filter the input slice
// is returned as is.
func (f *Filter) Apply(records []record.Record) []record.Record {
	if f.IsEmpty() {
		return records
	}
	out := make([]record.Record, 0, len(records))
	for i := range records {
		if f.root.eval(&records[i]) {
			out = append(out, records[i])
		}
	}
	return out
}

// Fields returns the set of fields the expression reads.
func (f *Filter) Fields() record.FieldSet {
	if f == nil {
		return 0
	}
	return f.fields
}

// Source returns the expression as written.
func (f *Filter) Source() string {
	if f == nil {
		return ""
	}
	return f.src
}

// AIP returns the AIP-160 form the expression was checked in.
func (f *Filter) AIP() string {
	if f == nil {
		return ""
	}
	return f.aip
}

// String returns a canonical rendering, stable across spacing and operator
// spelling. Empty filters render as "all".
func (f *Filter) String() string {
	if f.IsEmpty() {
		return "all"
	}
	var sb strings.Builder
	f.root.format(&sb)
	return sb.String()
}

// SQL renders the predicate as a parameterized WHERE clause. column maps a
// field to its quoted column name; if any referenced field has no column the
// predicate cannot be pushed down and ok is false.
func (f *Filter) SQL(column func(record.Field) (string, bool)) (clause string, args []any, ok bool) {
	if f.IsEmpty() {
		return "", nil, false
	}
	b := &sqlBuilder{column: column}
	if !f.root.sql(b) {
		return "", nil, false
	}
	return b.sb.String(), b.args, true
}
