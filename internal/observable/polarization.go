package observable

import (
	"math"

	"github.com/san-kum/endstat/internal/record"
)

// EndPolarization projects the end spin onto the end field direction,
// (s·b)/|b|. A zero field has no direction and yields NaN.
func EndPolarization(r *record.Record) float64 {
	return Projection(r.SpinEnd, r.BEnd)
}

// Projection returns (s·b)/|b|, or NaN when |b| is zero.
func Projection(s, b record.Vec3) float64 {
	norm := b.Norm()
	if norm == 0 {
		return math.NaN()
	}
	return s.Dot(b) / norm
}

// Mean is a running average that skips NaN and Inf samples.
type Mean struct {
	name    string
	sum     float64
	samples int64
}

func NewMean(name string) *Mean { return &Mean{name: name} }

func (m *Mean) Name() string { return m.name }

// Observe adds v and reports whether it was counted.
func (m *Mean) Observe(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	m.sum += v
	m.samples++
	return true
}

func (m *Mean) Sum() float64   { return m.sum }
func (m *Mean) Samples() int64 { return m.samples }

// Value returns the average and false when nothing was observed.
func (m *Mean) Value() (float64, bool) {
	if m.samples == 0 {
		return 0, false
	}
	return m.sum / float64(m.samples), true
}

func (m *Mean) Reset() {
	m.sum = 0
	m.samples = 0
}
