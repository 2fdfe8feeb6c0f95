package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/endstat/internal/analysis"
	"github.com/san-kum/endstat/internal/hist"
	"github.com/san-kum/endstat/internal/optim"
	"github.com/san-kum/endstat/internal/query"
	"github.com/san-kum/endstat/internal/record"
	"github.com/san-kum/endstat/internal/source"
)

var (
	// ErrInvalidRange indicates a first run after the last run.
	ErrInvalidRange = errors.New("aggregate: first run after last run")

	// ErrNoTimeHistogram indicates a fit requested without time binning.
	ErrNoTimeHistogram = errors.New("aggregate: survival fit needs a time histogram")
)

// Config describes one batch.
type Config struct {
	First, Last int

	// Filter is a query expression; empty or "all" keeps every record.
	Filter string

	Source source.Config

	PolBinning hist.Binning
	// TimeBinning enables the termination-time histogram.
	TimeBinning *hist.Binning

	Fit bool
	// FitGuess overrides the default a = N, b = 100, c = 100 start.
	FitGuess      *[3]float64
	SeedLifetimes []float64

	// Workers > 1 loads runs concurrently.
	Workers int
}

// Observer sees every run as it is folded, in ascending run order.
type Observer interface {
	OnRun(r RunResult, elapsed time.Duration)
}

// Cache stores loaded run results between invocations.
type Cache interface {
	Lookup(path, fingerprint string) (RunResult, bool)
	Store(path, fingerprint string, r RunResult) error
}

type Option func(*Aggregator)

func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

func WithObserver(o Observer) Option {
	return func(a *Aggregator) { a.observers = append(a.observers, o) }
}

func WithCache(c Cache) Option {
	return func(a *Aggregator) { a.cache = c }
}

func WithRegistry(r *source.Registry) Option {
	return func(a *Aggregator) { a.registry = r }
}

// Aggregator runs one batch. It holds no state between calls to Run.
type Aggregator struct {
	cfg       Config
	filter    *query.Filter
	src       source.Source
	logger    *slog.Logger
	observers []Observer
	cache     Cache
	registry  *source.Registry
}

// New validates cfg, parses the filter and resolves the source. Every
// error here is a configuration mistake.
func New(cfg Config, opts ...Option) (*Aggregator, error) {
	if cfg.First > cfg.Last {
		return nil, fmt.Errorf("%w: %d > %d", ErrInvalidRange, cfg.First, cfg.Last)
	}
	if err := cfg.PolBinning.Validate(); err != nil {
		return nil, fmt.Errorf("polarization binning: %w", err)
	}
	if cfg.TimeBinning != nil {
		if err := cfg.TimeBinning.Validate(); err != nil {
			return nil, fmt.Errorf("time binning: %w", err)
		}
	} else if cfg.Fit {
		return nil, ErrNoTimeHistogram
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	filter, err := query.Parse(cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", cfg.Filter, err)
	}

	a := &Aggregator{cfg: cfg, filter: filter}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.registry == nil {
		a.registry = source.NewRegistry()
	}

	scfg := cfg.Source
	scfg.Require = a.RequiredFields()
	scfg.Filter = filter
	scfg.Logger = a.logger
	if a.src, err = a.registry.Get(scfg); err != nil {
		return nil, err
	}
	return a, nil
}

// RequiredFields are the columns a run must provide to be accumulated.
func (a *Aggregator) RequiredFields() record.FieldSet {
	req := record.PolarizationFields.Union(a.filter.Fields())
	if a.cfg.TimeBinning != nil {
		req = req.With(record.FieldTEnd)
	}
	return req
}

func (a *Aggregator) Filter() *query.Filter { return a.filter }
func (a *Aggregator) Source() source.Source { return a.src }

// Fingerprint identifies everything besides the input file that shapes a
// RunResult.
func (a *Aggregator) Fingerprint() string {
	tb := "none"
	if a.cfg.TimeBinning != nil {
		tb = fmt.Sprintf("%+v", *a.cfg.TimeBinning)
	}
	return fmt.Sprintf("format=%s kind=%s filter=%s pol=%+v time=%s partial=%t",
		a.src.Format(), a.cfg.Source.Kind, a.filter, a.cfg.PolBinning, tb, a.cfg.Source.AllowPartial)
}

// Run processes every run in [First, Last]. Missing and malformed runs are
// recorded and skipped. If ctx is canceled the runs folded so far are
// returned in a report with OutcomeCanceled, together with ctx.Err().
func (a *Aggregator) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	global, err := NewGlobal(a.cfg.PolBinning, a.cfg.TimeBinning)
	if err != nil {
		return nil, err
	}

	report := &Report{
		First:  a.cfg.First,
		Last:   a.cfg.Last,
		Filter: a.filter.String(),
		Format: a.src.Format(),
	}

	var results <-chan timedResult
	if a.cfg.Workers > 1 {
		results = a.runParallel(ctx)
	} else {
		results = a.runSequential(ctx)
	}

	for tr := range results {
		if tr.canceled {
			continue
		}
		if global, err = Merge(global, tr.result); err != nil {
			go func() {
				for range results {
				}
			}()
			return nil, err
		}
		a.observe(tr)
		report.Runs = append(report.Runs, tr.result)
	}

	report.Aggregate = global
	report.Elapsed = time.Since(start)

	if err := ctx.Err(); err != nil && len(report.Runs) < a.cfg.Last-a.cfg.First+1 {
		report.Outcome = OutcomeCanceled
		a.logger.Warn("batch canceled", "folded", len(report.Runs), "err", err)
		return report, err
	}

	if global.Loaded == 0 {
		report.Outcome = OutcomeNoRunsLoaded
		a.logger.Warn("no runs loaded", "first", a.cfg.First, "last", a.cfg.Last)
		return report, nil
	}

	report.Outcome = OutcomeComplete
	if a.cfg.Fit {
		if err := a.fit(report); err != nil {
			return report, err
		}
	}
	return report, nil
}

type timedResult struct {
	result   RunResult
	elapsed  time.Duration
	canceled bool
}

func (a *Aggregator) observe(tr timedResult) {
	r := tr.result
	switch r.Status {
	case StatusLoaded:
		a.logger.Debug("run accumulated", "run", r.RunID, "records", r.Records, "filtered", r.Filtered, "elapsed", tr.elapsed)
	default:
		a.logger.Warn("run skipped", "run", r.RunID, "status", r.Status, "err", r.Err)
	}
	for _, o := range a.observers {
		o.OnRun(r, tr.elapsed)
	}
}

func (a *Aggregator) runSequential(ctx context.Context) <-chan timedResult {
	out := make(chan timedResult)
	go func() {
		defer close(out)
		for id := a.cfg.First; id <= a.cfg.Last; id++ {
			if ctx.Err() != nil {
				return
			}
			out <- a.process(ctx, id)
		}
	}()
	return out
}

// runParallel loads up to Workers runs at once and emits them in run order.
func (a *Aggregator) runParallel(ctx context.Context) <-chan timedResult {
	n := a.cfg.Last - a.cfg.First + 1
	slots := make([]chan timedResult, n)
	for i := range slots {
		slots[i] = make(chan timedResult, 1)
	}

	go func() {
		g := new(errgroup.Group)
		g.SetLimit(a.cfg.Workers)
		for i := 0; i < n; i++ {
			if ctx.Err() != nil {
				slots[i] <- timedResult{canceled: true}
				continue
			}
			slot := slots[i]
			id := a.cfg.First + i
			g.Go(func() error {
				slot <- a.process(ctx, id)
				return nil
			})
		}
		_ = g.Wait()
	}()

	out := make(chan timedResult)
	go func() {
		defer close(out)
		stopped := false
		for _, slot := range slots {
			tr := <-slot
			// fold a contiguous prefix only, so a canceled batch reports a
			// run boundary
			if tr.canceled {
				stopped = true
			}
			if stopped {
				tr.canceled = true
			}
			out <- tr
		}
	}()
	return out
}

func (a *Aggregator) process(ctx context.Context, runID int) timedResult {
	start := time.Now()
	res := RunResult{RunID: runID, Status: StatusPending, Path: a.src.Path(runID)}

	fingerprint := ""
	if a.cache != nil {
		fingerprint = a.Fingerprint()
		if cached, ok := a.cache.Lookup(res.Path, fingerprint); ok {
			cached.RunID = runID
			a.logger.Debug("run from cache", "run", runID)
			return timedResult{result: cached, elapsed: time.Since(start)}
		}
	}

	batch, err := a.src.Load(ctx, runID)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return timedResult{canceled: true}
		}
		res.Err = err
		res.Status = StatusMalformed
		if errors.Is(err, source.ErrSourceUnavailable) {
			res.Status = StatusMissing
		}
		return timedResult{result: res, elapsed: time.Since(start)}
	}

	res.Status = StatusLoaded
	res.Records = batch.Total
	res.Partial = batch.Partial
	if res.PolHist, err = hist.New(a.cfg.PolBinning); err != nil {
		res.Status, res.Err = StatusMalformed, err
		return timedResult{result: res, elapsed: time.Since(start)}
	}
	if a.cfg.TimeBinning != nil {
		th, _ := hist.New(*a.cfg.TimeBinning)
		res.TimeHist = &th
	}

	records := batch.Records
	if !batch.Prefiltered {
		records = a.filter.Apply(records)
	}
	res.Accumulate(records, batch.Fields.Has(record.FieldStopID))

	if a.cache != nil {
		if err := a.cache.Store(res.Path, fingerprint, res); err != nil {
			a.logger.Warn("cache store failed", "run", runID, "err", err)
		}
	}
	return timedResult{result: res, elapsed: time.Since(start)}
}

func (a *Aggregator) fit(report *Report) error {
	g := report.Aggregate
	curve, err := analysis.Survivors(*g.TimeHist, g.TotalSimulated)
	if err != nil {
		report.FitErr = err
		return nil
	}
	report.Curve = &curve

	cfg := analysis.DefaultFitConfig(g.TotalSimulated)
	if a.cfg.FitGuess != nil {
		cfg.A0, cfg.B0, cfg.C0 = a.cfg.FitGuess[0], a.cfg.FitGuess[1], a.cfg.FitGuess[2]
	}
	cfg.SeedLifetimes = a.cfg.SeedLifetimes

	fit, err := analysis.FitSurvival(curve, cfg)
	report.Survival = fit
	if err != nil {
		if errors.Is(err, optim.ErrSingularJacobian) {
			return err
		}
		report.FitErr = err
		a.logger.Warn("survival fit failed", "err", err)
	}
	return nil
}
