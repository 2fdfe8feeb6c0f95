package aggregate

import (
	"time"

	"github.com/san-kum/endstat/internal/analysis"
)

// Outcome says how a batch ended.
type Outcome int

const (
	OutcomeComplete Outcome = iota
	// OutcomeNoRunsLoaded means every run was missing or malformed; the
	// aggregate holds no averages.
	OutcomeNoRunsLoaded
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeNoRunsLoaded:
		return "no runs loaded"
	case OutcomeCanceled:
		return "canceled"
	}
	return "unknown"
}

// Report is what a batch hands to the rendering layer.
type Report struct {
	First  int    `json:"first"`
	Last   int    `json:"last"`
	Filter string `json:"filter"`
	Format string `json:"format"`

	Outcome   Outcome         `json:"outcome"`
	Aggregate GlobalAggregate `json:"aggregate"`
	Runs      []RunResult     `json:"runs"`

	Curve    *analysis.Curve `json:"curve,omitempty"`
	Survival *analysis.Fit   `json:"survival,omitempty"`
	FitErr   error           `json:"-"`

	Elapsed time.Duration `json:"elapsed"`
}

// Runs in the requested range.
func (r *Report) Requested() int {
	return r.Last - r.First + 1
}
