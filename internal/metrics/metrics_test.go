package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/san-kum/endstat/internal/aggregate"
	"github.com/san-kum/endstat/internal/analysis"
	"github.com/san-kum/endstat/internal/hist"
)

func TestBatchCountsRuns(t *testing.T) {
	b := NewBatch()
	b.OnRun(aggregate.RunResult{RunID: 1, Status: aggregate.StatusLoaded, Records: 100, Filtered: 40}, 5*time.Millisecond)
	b.OnRun(aggregate.RunResult{RunID: 2, Status: aggregate.StatusMissing}, time.Millisecond)
	b.OnRun(aggregate.RunResult{RunID: 3, Status: aggregate.StatusLoaded, Records: 50, Filtered: 50}, 2*time.Millisecond)
	b.OnRun(aggregate.RunResult{RunID: 4, Status: aggregate.StatusMalformed}, time.Millisecond)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"loaded", testutil.ToFloat64(b.runs.WithLabelValues("loaded")), 2},
		{"missing", testutil.ToFloat64(b.runs.WithLabelValues("missing")), 1},
		{"malformed", testutil.ToFloat64(b.runs.WithLabelValues("malformed")), 1},
		{"records", testutil.ToFloat64(b.records), 150},
		{"filtered", testutil.ToFloat64(b.filtered), 90},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if n := testutil.CollectAndCount(b.loadSeconds); n != 1 {
		t.Errorf("expected one histogram series, got %d", n)
	}
}

func TestFinish(t *testing.T) {
	b := NewBatch()
	h, _ := hist.New(hist.Binning{Min: -1, Max: 1, Bins: 2})
	rep := &aggregate.Report{
		Aggregate: aggregate.GlobalAggregate{PolSum: 3, PolCount: 4, PolHist: h},
		Survival:  &analysis.Fit{B: 880, BErr: 12},
		Elapsed:   2 * time.Second,
	}
	b.Finish(rep)

	if got := testutil.ToFloat64(b.avgPolarization); got != 0.75 {
		t.Errorf("average polarization = %v, want 0.75", got)
	}
	if got := testutil.ToFloat64(b.lifetime); got != 880 {
		t.Errorf("lifetime = %v, want 880", got)
	}
	if got := testutil.ToFloat64(b.elapsed); got != 2 {
		t.Errorf("elapsed = %v, want 2", got)
	}
}

func TestWriteFile(t *testing.T) {
	b := NewBatch()
	b.OnRun(aggregate.RunResult{Status: aggregate.StatusLoaded, Records: 7, Filtered: 7}, time.Millisecond)

	path := filepath.Join(t.TempDir(), "endstat.prom")
	if err := b.WriteFile(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`endstat_runs_total{status="loaded"} 1`, "endstat_records_total 7"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q:\n%s", want, data)
		}
	}
}
