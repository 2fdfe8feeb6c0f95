// Package storage keeps finished batch reports on disk, one directory per
// report holding metadata.json and one CSV per histogram.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/endstat/internal/aggregate"
	"github.com/san-kum/endstat/internal/hist"
)

const (
	metadataFile     = "metadata.json"
	PolarizationFile = "polarization.csv"
	TimeFile         = "time.csv"
)

// ErrNotFound indicates no stored report with the requested ID.
var ErrNotFound = errors.New("storage: report not found")

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir() string { return s.baseDir }

// Metadata summarizes a stored report. Averages are nil when they had no
// samples.
type Metadata struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	First     int       `json:"first"`
	Last      int       `json:"last"`
	Filter    string    `json:"filter"`
	Format    string    `json:"format"`
	Outcome   string    `json:"outcome"`

	TotalSimulated int64 `json:"total_simulated"`
	TotalFiltered  int64 `json:"total_filtered"`
	InHistogram    int64 `json:"in_histogram"`
	Loaded         int   `json:"loaded"`
	MissedRuns     []int `json:"missed_runs"`

	AveragePolarization *float64              `json:"average_polarization"`
	AverageSzEnd        *float64              `json:"average_sz_end"`
	Stops               []aggregate.StopCount `json:"stops,omitempty"`

	PolBinning  hist.Binning  `json:"pol_binning"`
	TimeBinning *hist.Binning `json:"time_binning,omitempty"`
	Fit         *FitSummary   `json:"fit,omitempty"`
	FitError    string        `json:"fit_error,omitempty"`

	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// FitSummary is S(t) = A·exp(-t/B) + C with standard errors.
type FitSummary struct {
	A          float64  `json:"a"`
	B          float64  `json:"b"`
	C          float64  `json:"c"`
	AErr       *float64 `json:"a_err"`
	BErr       *float64 `json:"b_err"`
	CErr       *float64 `json:"c_err"`
	SSR        float64  `json:"ssr"`
	DoF        int      `json:"dof"`
	Iterations int      `json:"iterations"`
	Converged  bool     `json:"converged"`
}

func (m *Metadata) Requested() int { return m.Last - m.First + 1 }

func finite(v float64, ok bool) *float64 {
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Summarize builds the metadata for rep without an ID or timestamp.
func Summarize(rep *aggregate.Report) Metadata {
	g := rep.Aggregate
	meta := Metadata{
		First:          rep.First,
		Last:           rep.Last,
		Filter:         rep.Filter,
		Format:         rep.Format,
		Outcome:        rep.Outcome.String(),
		TotalSimulated: g.TotalSimulated,
		TotalFiltered:  g.TotalFiltered,
		InHistogram:    g.InHistogram(),
		Loaded:         g.Loaded,
		MissedRuns:     append([]int{}, g.MissedRuns...),
		Stops:          g.StopBreakdown(),
		PolBinning:     g.PolHist.Binning,
		ElapsedSeconds: rep.Elapsed.Seconds(),
	}
	meta.AveragePolarization = finite(g.AveragePolarization())
	meta.AverageSzEnd = finite(g.AverageSzEnd())
	if g.TimeHist != nil {
		b := g.TimeHist.Binning
		meta.TimeBinning = &b
	}
	if f := rep.Survival; f != nil {
		fs := &FitSummary{
			A: f.A, B: f.B, C: f.C,
			AErr: finite(f.AErr, true), BErr: finite(f.BErr, true), CErr: finite(f.CErr, true),
		}
		if f.FitResult != nil {
			fs.SSR, fs.DoF, fs.Iterations, fs.Converged = f.SSR, f.DoF, f.Iterations, f.Converged
		}
		meta.Fit = fs
	}
	// a fit can fail before it has parameters, e.g. too few bins
	if rep.FitErr != nil {
		meta.FitError = rep.FitErr.Error()
	}
	return meta
}

// Save writes rep under a new directory and returns its ID.
func (s *Store) Save(rep *aggregate.Report) (string, error) {
	if err := s.Init(); err != nil {
		return "", err
	}

	now := time.Now()
	base := fmt.Sprintf("runs_%d-%d_%d", rep.First, rep.Last, now.Unix())
	id := base
	for n := 1; ; n++ {
		err := os.Mkdir(filepath.Join(s.baseDir, id), 0755)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
		id = fmt.Sprintf("%s.%d", base, n)
	}
	runDir := filepath.Join(s.baseDir, id)

	meta := Summarize(rep)
	meta.ID = id
	meta.Timestamp = now

	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}
	if err := writeHistFile(filepath.Join(runDir, PolarizationFile), rep.Aggregate.PolHist); err != nil {
		return "", err
	}
	if th := rep.Aggregate.TimeHist; th != nil {
		if err := writeHistFile(filepath.Join(runDir, TimeFile), *th); err != nil {
			return "", err
		}
	}
	return id, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeHistFile(path string, h hist.Histogram) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteHistCSV(f, h); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteHistCSV writes one row per bin: low edge, high edge, center, count.
// Edges use the shortest exact float form so the binning reads back equal.
func WriteHistCSV(w io.Writer, h hist.Histogram) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"low", "high", "center", "count"}); err != nil {
		return err
	}
	b := h.Binning
	for i, c := range h.Counts {
		row := []string{
			strconv.FormatFloat(b.Edge(i), 'g', -1, 64),
			strconv.FormatFloat(b.Edge(i+1), 'g', -1, 64),
			strconv.FormatFloat(b.Center(i), 'g', -1, 64),
			strconv.FormatInt(c, 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// List returns stored reports, oldest first. Directories without readable
// metadata are skipped.
func (s *Store) List() ([]Metadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Metadata{}, nil
		}
		return nil, err
	}

	reports := make([]Metadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		reports = append(reports, *meta)
	}
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Timestamp.Before(reports[j].Timestamp)
	})
	return reports, nil
}

func (s *Store) Load(id string) (*Metadata, error) {
	if id == "" || id != filepath.Base(id) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, id, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("storage: %s: %w", id, err)
	}
	return &meta, nil
}

// LoadHistogram reads one of the report's histogram files. The binning is
// rebuilt from the edge columns.
func (s *Store) LoadHistogram(id, name string) (hist.Histogram, error) {
	if _, err := s.Load(id); err != nil {
		return hist.Histogram{}, err
	}
	f, err := os.Open(filepath.Join(s.baseDir, id, name))
	if err != nil {
		if os.IsNotExist(err) {
			return hist.Histogram{}, fmt.Errorf("%w: %s/%s", ErrNotFound, id, name)
		}
		return hist.Histogram{}, err
	}
	defer f.Close()
	return ReadHistCSV(f)
}

func ReadHistCSV(r io.Reader) (hist.Histogram, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4
	rows, err := cr.ReadAll()
	if err != nil {
		return hist.Histogram{}, fmt.Errorf("storage: %w", err)
	}
	if len(rows) < 2 {
		return hist.Histogram{}, fmt.Errorf("storage: histogram has no bins")
	}
	rows = rows[1:]

	lo, err := strconv.ParseFloat(rows[0][0], 64)
	if err != nil {
		return hist.Histogram{}, fmt.Errorf("storage: low edge: %w", err)
	}
	hi, err := strconv.ParseFloat(rows[len(rows)-1][1], 64)
	if err != nil {
		return hist.Histogram{}, fmt.Errorf("storage: high edge: %w", err)
	}
	h, err := hist.New(hist.Binning{Min: lo, Max: hi, Bins: len(rows)})
	if err != nil {
		return hist.Histogram{}, fmt.Errorf("storage: %w", err)
	}
	for i, row := range rows {
		c, err := strconv.ParseInt(row[3], 10, 64)
		if err != nil {
			return hist.Histogram{}, fmt.Errorf("storage: bin %d count: %w", i, err)
		}
		h.Counts[i] = c
	}
	return h, nil
}
