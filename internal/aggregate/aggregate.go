// Package aggregate drives a batch over a range of runs and folds the
// per-run results into one GlobalAggregate.
//
// Each run is reduced to a RunResult on its own, without touching shared
// state. Merge then combines an aggregate with one result and returns a new
// aggregate, so the fold can run in any process layout; the aggregator
// always folds in ascending run order, which keeps floating-point sums
// bitwise identical between sequential and parallel execution.
package aggregate

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/endstat/internal/hist"
	"github.com/san-kum/endstat/internal/observable"
	"github.com/san-kum/endstat/internal/record"
)

// Status is the terminal state of one run.
type Status int

const (
	StatusPending Status = iota
	StatusLoaded
	StatusMissing
	StatusMalformed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusLoaded:
		return "loaded"
	case StatusMissing:
		return "missing"
	case StatusMalformed:
		return "malformed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// RunResult is everything one run contributes.
type RunResult struct {
	RunID  int    `json:"run_id"`
	Status Status `json:"status"`
	Err    error  `json:"-"`
	Path   string `json:"path"`

	// Records is the row count of the file; Filtered is how many passed the
	// filter.
	Records  int64 `json:"records"`
	Filtered int64 `json:"filtered"`
	Partial  bool  `json:"partial,omitempty"`

	PolSum   float64                 `json:"pol_sum"`
	PolCount int64                   `json:"pol_count"`
	PolHist  hist.Histogram          `json:"pol_hist"`
	TimeHist *hist.Histogram         `json:"time_hist,omitempty"`
	SzEndSum float64                 `json:"sz_end_sum"`
	Stops    map[record.StopID]int64 `json:"stops,omitempty"`
}

// Accumulate reduces records into r. Non-finite polarizations, from a zero
// field, are left out of the sum, the count and the histogram.
func (r *RunResult) Accumulate(records []record.Record, countStops bool) {
	pol := observable.NewMean("endPol")
	for i := range records {
		rec := &records[i]
		p := observable.EndPolarization(rec)
		if pol.Observe(p) {
			r.PolHist.Fill(p)
		}
		if r.TimeHist != nil {
			r.TimeHist.Fill(rec.TEnd)
		}
		r.SzEndSum += rec.SpinEnd[2]
		if countStops {
			if r.Stops == nil {
				r.Stops = make(map[record.StopID]int64)
			}
			r.Stops[rec.Stop]++
		}
	}
	r.PolSum += pol.Sum()
	r.PolCount += pol.Samples()
	r.Filtered += int64(len(records))
}

// GlobalAggregate is the fold of every run in a batch.
type GlobalAggregate struct {
	TotalSimulated int64                   `json:"total_simulated"`
	TotalFiltered  int64                   `json:"total_filtered"`
	Loaded         int                     `json:"loaded"`
	MissedRuns     []int                   `json:"missed_runs"`
	PolSum         float64                 `json:"pol_sum"`
	PolCount       int64                   `json:"pol_count"`
	PolHist        hist.Histogram          `json:"pol_hist"`
	TimeHist       *hist.Histogram         `json:"time_hist,omitempty"`
	SzEndSum       float64                 `json:"sz_end_sum"`
	Stops          map[record.StopID]int64 `json:"stops"`
}

// NewGlobal returns an empty aggregate. timeBins may be nil.
func NewGlobal(polBins hist.Binning, timeBins *hist.Binning) (GlobalAggregate, error) {
	g := GlobalAggregate{Stops: make(map[record.StopID]int64)}
	var err error
	if g.PolHist, err = hist.New(polBins); err != nil {
		return GlobalAggregate{}, fmt.Errorf("polarization histogram: %w", err)
	}
	if timeBins != nil {
		th, err := hist.New(*timeBins)
		if err != nil {
			return GlobalAggregate{}, fmt.Errorf("time histogram: %w", err)
		}
		g.TimeHist = &th
	}
	return g, nil
}

// Merge returns g with r folded in. g is not modified. A run that did not
// load only adds its ID to MissedRuns.
func Merge(g GlobalAggregate, r RunResult) (GlobalAggregate, error) {
	out := g
	out.MissedRuns = append([]int(nil), g.MissedRuns...)
	out.Stops = make(map[record.StopID]int64, len(g.Stops))
	for k, v := range g.Stops {
		out.Stops[k] = v
	}

	if r.Status != StatusLoaded {
		out.MissedRuns = append(out.MissedRuns, r.RunID)
		sort.Ints(out.MissedRuns)
		return out, nil
	}

	var err error
	if out.PolHist, err = g.PolHist.Merge(r.PolHist); err != nil {
		return g, fmt.Errorf("run %d: %w", r.RunID, err)
	}
	if g.TimeHist != nil && r.TimeHist != nil {
		th, err := g.TimeHist.Merge(*r.TimeHist)
		if err != nil {
			return g, fmt.Errorf("run %d: %w", r.RunID, err)
		}
		out.TimeHist = &th
	}

	out.Loaded++
	out.TotalSimulated += r.Records
	out.TotalFiltered += r.Filtered
	out.PolSum += r.PolSum
	out.PolCount += r.PolCount
	out.SzEndSum += r.SzEndSum
	for k, v := range r.Stops {
		out.Stops[k] += v
	}
	return out, nil
}

// AveragePolarization is PolSum/PolCount; ok is false with no samples.
func (g GlobalAggregate) AveragePolarization() (avg float64, ok bool) {
	if g.PolCount == 0 {
		return math.NaN(), false
	}
	return g.PolSum / float64(g.PolCount), true
}

// AverageSzEnd averages the end spin z component over filtered records.
func (g GlobalAggregate) AverageSzEnd() (avg float64, ok bool) {
	if g.TotalFiltered == 0 {
		return math.NaN(), false
	}
	return g.SzEndSum / float64(g.TotalFiltered), true
}

// InHistogram is the number of records binned in the polarization histogram.
func (g GlobalAggregate) InHistogram() int64 {
	return g.PolHist.Total()
}

// StopBreakdown lists stop codes with their counts, ascending by code.
func (g GlobalAggregate) StopBreakdown() []StopCount {
	out := make([]StopCount, 0, len(g.Stops))
	for k, v := range g.Stops {
		out = append(out, StopCount{Stop: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stop < out[j].Stop })
	return out
}

type StopCount struct {
	Stop  record.StopID `json:"stop"`
	Count int64         `json:"count"`
}
