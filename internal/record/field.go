package record

import (
	"math"
	"strings"
)

// Field names one column of an end-of-trajectory table.
type Field int

const (
	FieldJob Field = iota
	FieldParticle
	FieldKind
	FieldTStart
	FieldXStart
	FieldYStart
	FieldZStart
	FieldSxStart
	FieldSyStart
	FieldSzStart
	FieldEStart
	FieldHStart
	FieldTEnd
	FieldXEnd
	FieldYEnd
	FieldZEnd
	FieldSxEnd
	FieldSyEnd
	FieldSzEnd
	FieldBxEnd
	FieldByEnd
	FieldBzEnd
	FieldEEnd
	FieldHEnd
	FieldStopID

	numFields
)

type fieldDef struct {
	name string
	get  func(*Record) float64
	set  func(*Record, float64)
}

var fieldDefs = [numFields]fieldDef{
	FieldJob:      {"jobnumber", func(r *Record) float64 { return float64(r.Job) }, func(r *Record, v float64) { r.Job = int64(v) }},
	FieldParticle: {"particle", func(r *Record) float64 { return float64(r.Particle) }, func(r *Record, v float64) { r.Particle = int64(v) }},
	FieldKind:     {"kind", nil, nil},
	FieldTStart:   {"tstart", func(r *Record) float64 { return r.TStart }, func(r *Record, v float64) { r.TStart = v }},
	FieldXStart:   {"xstart", func(r *Record) float64 { return r.PosStart[0] }, func(r *Record, v float64) { r.PosStart[0] = v }},
	FieldYStart:   {"ystart", func(r *Record) float64 { return r.PosStart[1] }, func(r *Record, v float64) { r.PosStart[1] = v }},
	FieldZStart:   {"zstart", func(r *Record) float64 { return r.PosStart[2] }, func(r *Record, v float64) { r.PosStart[2] = v }},
	FieldSxStart:  {"Sxstart", func(r *Record) float64 { return r.SpinStart[0] }, func(r *Record, v float64) { r.SpinStart[0] = v }},
	FieldSyStart:  {"Systart", func(r *Record) float64 { return r.SpinStart[1] }, func(r *Record, v float64) { r.SpinStart[1] = v }},
	FieldSzStart:  {"Szstart", func(r *Record) float64 { return r.SpinStart[2] }, func(r *Record, v float64) { r.SpinStart[2] = v }},
	FieldEStart:   {"Estart", func(r *Record) float64 { return r.EStart }, func(r *Record, v float64) { r.EStart = v }},
	FieldHStart:   {"Hstart", func(r *Record) float64 { return r.HStart }, func(r *Record, v float64) { r.HStart = v }},
	FieldTEnd:     {"tend", func(r *Record) float64 { return r.TEnd }, func(r *Record, v float64) { r.TEnd = v }},
	FieldXEnd:     {"xend", func(r *Record) float64 { return r.PosEnd[0] }, func(r *Record, v float64) { r.PosEnd[0] = v }},
	FieldYEnd:     {"yend", func(r *Record) float64 { return r.PosEnd[1] }, func(r *Record, v float64) { r.PosEnd[1] = v }},
	FieldZEnd:     {"zend", func(r *Record) float64 { return r.PosEnd[2] }, func(r *Record, v float64) { r.PosEnd[2] = v }},
	FieldSxEnd:    {"Sxend", func(r *Record) float64 { return r.SpinEnd[0] }, func(r *Record, v float64) { r.SpinEnd[0] = v }},
	FieldSyEnd:    {"Syend", func(r *Record) float64 { return r.SpinEnd[1] }, func(r *Record, v float64) { r.SpinEnd[1] = v }},
	FieldSzEnd:    {"Szend", func(r *Record) float64 { return r.SpinEnd[2] }, func(r *Record, v float64) { r.SpinEnd[2] = v }},
	FieldBxEnd:    {"BxEnd", func(r *Record) float64 { return r.BEnd[0] }, func(r *Record, v float64) { r.BEnd[0] = v }},
	FieldByEnd:    {"ByEnd", func(r *Record) float64 { return r.BEnd[1] }, func(r *Record, v float64) { r.BEnd[1] = v }},
	FieldBzEnd:    {"BzEnd", func(r *Record) float64 { return r.BEnd[2] }, func(r *Record, v float64) { r.BEnd[2] = v }},
	FieldEEnd:     {"Eend", func(r *Record) float64 { return r.EEnd }, func(r *Record, v float64) { r.EEnd = v }},
	FieldHEnd:     {"Hend", func(r *Record) float64 { return r.HEnd }, func(r *Record, v float64) { r.HEnd = v }},
	FieldStopID:   {"stopID", func(r *Record) float64 { return float64(r.Stop) }, func(r *Record, v float64) { r.Stop = StopID(v) }},
}

var fieldsByName = func() map[string]Field {
	m := make(map[string]Field, numFields)
	for i := Field(0); i < numFields; i++ {
		m[strings.ToLower(fieldDefs[i].name)] = i
	}
	return m
}()

// Fields returns every known field in schema order.
func Fields() []Field {
	out := make([]Field, numFields)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

// LookupField resolves a column or query name. Matching ignores case, so
// headers written as "Bxend" or "BXEND" bind to BxEnd.
func LookupField(name string) (Field, bool) {
	f, ok := fieldsByName[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

func (f Field) Valid() bool { return f >= 0 && f < numFields }

func (f Field) String() string {
	if !f.Valid() {
		return "invalid"
	}
	return fieldDefs[f].name
}

// IsString reports whether the field holds text rather than a number.
func (f Field) IsString() bool { return f == FieldKind }

// Value returns the numeric value of f in r. String fields yield NaN.
func (f Field) Value(r *Record) float64 {
	if !f.Valid() || fieldDefs[f].get == nil {
		return math.NaN()
	}
	return fieldDefs[f].get(r)
}

// Set stores a numeric value. String fields are left untouched.
func (f Field) Set(r *Record, v float64) {
	if !f.Valid() || fieldDefs[f].set == nil {
		return
	}
	fieldDefs[f].set(r, v)
}

// FieldSet is a small bitset over Field.
type FieldSet uint64

func NewFieldSet(fields ...Field) FieldSet {
	var s FieldSet
	for _, f := range fields {
		s = s.With(f)
	}
	return s
}

func (s FieldSet) With(f Field) FieldSet     { return s | 1<<uint(f) }
func (s FieldSet) Has(f Field) bool          { return s&(1<<uint(f)) != 0 }
func (s FieldSet) Union(o FieldSet) FieldSet { return s | o }

// Missing lists the fields of want that are not in s.
func (s FieldSet) Missing(want FieldSet) []Field {
	var out []Field
	for f := Field(0); f < numFields; f++ {
		if want.Has(f) && !s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

func (s FieldSet) Slice() []Field {
	var out []Field
	for f := Field(0); f < numFields; f++ {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// PolarizationFields are the columns endPol is computed from.
var PolarizationFields = NewFieldSet(FieldSxEnd, FieldSyEnd, FieldSzEnd, FieldBxEnd, FieldByEnd, FieldBzEnd)
