package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/san-kum/endstat/internal/hist"
	"github.com/san-kum/endstat/internal/query"
	"github.com/san-kum/endstat/internal/record"
	"github.com/san-kum/endstat/internal/source"
	"github.com/san-kum/endstat/internal/storage"
)

func writeRun(t *testing.T, dir string, runID int, recs []record.Record) {
	t.Helper()
	f, err := os.Create(source.NewText(source.Config{Folder: dir}).Path(runID))
	if err != nil {
		t.Fatal(err)
	}
	if err := source.WriteText(f, nil, recs); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	root := newRootCmd()
	root.SetArgs(args)
	return root.Execute()
}

func testRecords() []record.Record {
	return []record.Record{
		{Kind: "neutron", Particle: 1, SpinEnd: record.Vec3{0, 0, 1}, BEnd: record.Vec3{0, 0, 1}, Stop: record.StopDecayed},
		{Kind: "neutron", Particle: 2, SpinEnd: record.Vec3{0, 0, -1}, BEnd: record.Vec3{0, 0, 1}, Stop: record.StopAbsorbedBulk},
		{Kind: "neutron", Particle: 3, SpinEnd: record.Vec3{0, 0, 1}, BEnd: record.Vec3{0, 0, 1}, Stop: record.StopDecayed},
	}
}

func TestResolveConfigPrecedence(t *testing.T) {
	tests := []struct {
		name string
		env  string
		args []string
		want string
	}{
		{"default", "", nil, "all"},
		{"preset", "", []string{"--preset", "decayed"}, "stopID == -4"},
		{"env over preset", "stopID == 1", []string{"--preset", "decayed"}, "stopID == 1"},
		{"flag over env", "stopID == 1", []string{"--preset", "decayed", "-q", "tend > 5"}, "tend > 5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env != "" {
				t.Setenv("ENDSTAT_FILTER", tt.env)
			}
			root := newRootCmd()
			runs, _, err := root.Find([]string{"runs"})
			if err != nil {
				t.Fatal(err)
			}
			if err := runs.ParseFlags(tt.args); err != nil {
				t.Fatal(err)
			}
			cfg, err := resolveConfig(runs)
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Filter != tt.want {
				t.Errorf("filter = %q, want %q", cfg.Filter, tt.want)
			}
		})
	}
}

func TestResolveConfigRejectsBadValues(t *testing.T) {
	root := newRootCmd()
	runs, _, _ := root.Find([]string{"runs"})
	if err := runs.ParseFlags([]string{"--bins", "0"}); err != nil {
		t.Fatal(err)
	}
	if _, err := resolveConfig(runs); err == nil {
		t.Error("expected validation error for zero bins")
	}
}

func TestRunsStoresReport(t *testing.T) {
	runDir := t.TempDir()
	dataDir := filepath.Join(t.TempDir(), "data")
	writeRun(t, runDir, 1, testRecords())
	writeRun(t, runDir, 2, testRecords()[:1])

	if err := execute(t, "runs", "1", "3", "-f", runDir, "--plain", "--data", dataDir, "-q", "stopID == -4"); err != nil {
		t.Fatalf("runs: %v", err)
	}

	reports, err := storage.New(dataDir).List()
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected one stored report, got %d", len(reports))
	}
	r := reports[0]
	if r.TotalSimulated != 4 || r.TotalFiltered != 3 || r.Loaded != 2 {
		t.Errorf("unexpected totals %+v", r)
	}
	if len(r.MissedRuns) != 1 || r.MissedRuns[0] != 3 {
		t.Errorf("missed runs = %v", r.MissedRuns)
	}
	if r.AveragePolarization == nil || *r.AveragePolarization != 1 {
		t.Errorf("average polarization = %v", r.AveragePolarization)
	}

	out := filepath.Join(t.TempDir(), "report.json")
	if err := execute(t, "export-json", r.ID, "--data", dataDir, "-o", out); err != nil {
		t.Fatalf("export-json: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var doc storage.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Polarization.Total() != 3 {
		t.Errorf("exported histogram holds %d entries, want 3", doc.Polarization.Total())
	}
}

func TestRunsNoStore(t *testing.T) {
	runDir := t.TempDir()
	dataDir := filepath.Join(t.TempDir(), "data")
	writeRun(t, runDir, 1, testRecords())

	if err := execute(t, "runs", "1", "1", "-f", runDir, "--plain", "--no-store", "--data", dataDir); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dataDir); !os.IsNotExist(err) {
		t.Error("--no-store should leave the store untouched")
	}
}

func TestRunsBadArguments(t *testing.T) {
	for _, args := range [][]string{
		{"runs", "one", "2"},
		{"runs", "5", "2", "--plain", "--no-store"},
		{"runs", "1", "2", "-q", "stopID ==", "--no-store"},
		{"runs", "1", "2", "--format", "hdf5", "--no-store"},
	} {
		if err := execute(t, args...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestEndAndConvert(t *testing.T) {
	dir := t.TempDir()
	writeRun(t, dir, 0, testRecords())

	if err := execute(t, "end", "-f", dir); err != nil {
		t.Fatalf("end: %v", err)
	}

	in := source.NewText(source.Config{Folder: dir}).Path(0)
	out := filepath.Join(dir, "000000000000neutronend.sqlite")
	if err := execute(t, "convert", in, out); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if err := execute(t, "end", "--format", "sqlite", "-f", dir, "-q", "stopID == -4"); err != nil {
		t.Fatalf("end sqlite: %v", err)
	}
	if err := execute(t, "convert", in, filepath.Join(dir, "out.bin")); err == nil {
		t.Error("expected error for unknown target extension")
	}
}

func TestSingleRunStopColumn(t *testing.T) {
	tests := []struct {
		name      string
		fields    []record.Field
		wantStops int
	}{
		{"with stopID", nil, 2},
		{"without stopID", append(record.PolarizationFields.Slice(), record.FieldParticle), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := source.WriteText(&buf, tt.fields, testRecords()); err != nil {
				t.Fatal(err)
			}
			b, err := source.NewText(source.Config{}).Decode(&buf)
			if err != nil {
				t.Fatal(err)
			}
			rep, err := singleRun(b, "mem", query.MustParse(""), hist.Binning{Min: -1, Max: 1, Bins: 4})
			if err != nil {
				t.Fatal(err)
			}
			stops := rep.Aggregate.StopBreakdown()
			if len(stops) != tt.wantStops {
				t.Errorf("stop breakdown = %v, want %d entries", stops, tt.wantStops)
			}
			if rep.Aggregate.TotalSimulated != 3 || rep.Aggregate.PolCount != 3 {
				t.Errorf("totals %d/%d, want 3/3", rep.Aggregate.TotalSimulated, rep.Aggregate.PolCount)
			}
		})
	}
}

func TestSummaryShowsFitError(t *testing.T) {
	meta := storage.Metadata{First: 1, Last: 2, Filter: "all", Outcome: "complete",
		FitError: "survival fit: optim: too few points: 2 points for 3 parameters"}

	var buf bytes.Buffer
	if err := printSummary(&buf, meta); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "fit error:") || !strings.Contains(buf.String(), "too few points") {
		t.Errorf("summary lacks the fit error:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "lifetime") {
		t.Errorf("summary shows a lifetime without fit parameters:\n%s", buf.String())
	}
}
