// Package hist implements fixed-range histograms whose merge is bin-wise
// integer addition.
//
// Bins are half-open, [e_i, e_{i+1}), except the last which also includes
// the upper edge. Values outside [Min, Max] and NaN are dropped. Because a
// value's bin depends only on the binning, filling runs separately and
// merging gives the same counts as filling everything at once, in any order.
package hist

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidBinning indicates a binning with no bins or an empty range.
	ErrInvalidBinning = errors.New("hist: invalid binning")

	// ErrBinningMismatch indicates a merge between different binnings.
	ErrBinningMismatch = errors.New("hist: binning mismatch")
)

type Binning struct {
	Min  float64 `json:"min" yaml:"min"`
	Max  float64 `json:"max" yaml:"max"`
	Bins int     `json:"bins" yaml:"bins"`
}

func (b Binning) Validate() error {
	if b.Bins < 1 {
		return fmt.Errorf("%w: bins must be positive, got %d", ErrInvalidBinning, b.Bins)
	}
	if math.IsNaN(b.Min) || math.IsNaN(b.Max) || math.IsInf(b.Min, 0) || math.IsInf(b.Max, 0) {
		return fmt.Errorf("%w: range must be finite", ErrInvalidBinning)
	}
	if !(b.Max > b.Min) {
		return fmt.Errorf("%w: max %g must exceed min %g", ErrInvalidBinning, b.Max, b.Min)
	}
	return nil
}

func (b Binning) Width() float64 {
	return (b.Max - b.Min) / float64(b.Bins)
}

// Edge returns the i-th bin edge, 0 <= i <= Bins. The last edge is Max exactly.
func (b Binning) Edge(i int) float64 {
	if i >= b.Bins {
		return b.Max
	}
	return b.Min + float64(i)*b.Width()
}

func (b Binning) Edges() []float64 {
	edges := make([]float64, b.Bins+1)
	for i := range edges {
		edges[i] = b.Edge(i)
	}
	return edges
}

func (b Binning) Center(i int) float64 {
	return 0.5 * (b.Edge(i) + b.Edge(i+1))
}

func (b Binning) Centers() []float64 {
	centers := make([]float64, b.Bins)
	for i := range centers {
		centers[i] = b.Center(i)
	}
	return centers
}

// Index returns the bin holding v, or -1 when v is outside the range.
func (b Binning) Index(v float64) int {
	if math.IsNaN(v) || v < b.Min || v > b.Max {
		return -1
	}
	if v == b.Max {
		return b.Bins - 1
	}
	i := int((v - b.Min) / b.Width())
	if i >= b.Bins {
		i = b.Bins - 1
	}
	// the division can land one bin off near an edge
	if i > 0 && v < b.Edge(i) {
		i--
	} else if i < b.Bins-1 && v >= b.Edge(i+1) {
		i++
	}
	return i
}

// Histogram counts values over a fixed binning. The zero value is unusable;
// build one with New.
type Histogram struct {
	Binning Binning `json:"binning"`
	Counts  []int64 `json:"counts"`
}

func New(b Binning) (Histogram, error) {
	if err := b.Validate(); err != nil {
		return Histogram{}, err
	}
	return Histogram{Binning: b, Counts: make([]int64, b.Bins)}, nil
}

// Fill adds v and reports whether it landed in a bin.
func (h *Histogram) Fill(v float64) bool {
	i := h.Binning.Index(v)
	if i < 0 {
		return false
	}
	h.Counts[i]++
	return true
}

func (h *Histogram) FillAll(values []float64) int {
	n := 0
	for _, v := range values {
		if h.Fill(v) {
			n++
		}
	}
	return n
}

func (h Histogram) Total() int64 {
	var sum int64
	for _, c := range h.Counts {
		sum += c
	}
	return sum
}

func (h Histogram) Clone() Histogram {
	counts := make([]int64, len(h.Counts))
	copy(counts, h.Counts)
	return Histogram{Binning: h.Binning, Counts: counts}
}

// Merge returns the bin-wise sum of h and o. Neither input is modified.
func (h Histogram) Merge(o Histogram) (Histogram, error) {
	if h.Binning != o.Binning || len(h.Counts) != len(o.Counts) {
		return Histogram{}, fmt.Errorf("%w: %+v vs %+v", ErrBinningMismatch, h.Binning, o.Binning)
	}
	out := h.Clone()
	for i, c := range o.Counts {
		out.Counts[i] += c
	}
	return out, nil
}

// Floats returns the counts as float64, for plotting.
func (h Histogram) Floats() []float64 {
	out := make([]float64, len(h.Counts))
	for i, c := range h.Counts {
		out[i] = float64(c)
	}
	return out
}
