package aggregate_test

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/endstat/internal/aggregate"
	"github.com/san-kum/endstat/internal/hist"
	"github.com/san-kum/endstat/internal/optim"
	"github.com/san-kum/endstat/internal/query"
	"github.com/san-kum/endstat/internal/record"
	"github.com/san-kum/endstat/internal/source"
)

func writeRun(dir string, runID int, records []record.Record) {
	path := source.NewText(source.Config{Folder: dir}).Path(runID)
	f, err := os.Create(path)
	Expect(err).NotTo(HaveOccurred())
	defer f.Close()
	Expect(source.WriteText(f, nil, records)).To(Succeed())
}

// permutations lists every ordering of 0..n-1.
func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := make([]int, 0, n)
			q = append(q, p[:i]...)
			q = append(q, n-1)
			q = append(q, p[i:]...)
			out = append(out, q)
		}
	}
	return out
}

func neutron(s, b record.Vec3) record.Record {
	return record.Record{Kind: "neutron", SpinEnd: s, BEnd: b, Stop: record.StopDecayed}
}

func randomRecords(rng *rand.Rand, n int) []record.Record {
	out := make([]record.Record, n)
	for i := range out {
		out[i] = record.Record{
			Kind:     "neutron",
			Particle: int64(i + 1),
			TEnd:     rng.Float64() * 1000,
			SpinEnd:  record.Vec3{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()},
			BEnd:     record.Vec3{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()},
			Stop:     record.StopID(rng.Intn(4) - 3),
		}
		norm := out[i].SpinEnd.Norm()
		for k := range out[i].SpinEnd {
			out[i].SpinEnd[k] /= norm
		}
	}
	return out
}

type recordingObserver struct {
	ids      []int
	statuses []aggregate.Status
}

func (o *recordingObserver) OnRun(r aggregate.RunResult, _ time.Duration) {
	o.ids = append(o.ids, r.RunID)
	o.statuses = append(o.statuses, r.Status)
}

var _ = Describe("Aggregator", func() {
	var (
		dir string
		cfg aggregate.Config
		ctx context.Context
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "endstat-aggregate")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)

		ctx = context.Background()
		cfg = aggregate.Config{
			First:      1,
			Last:       1,
			Source:     source.Config{Format: source.FormatText, Folder: dir},
			PolBinning: hist.Binning{Min: -1, Max: 1, Bins: 200},
		}
	})

	run := func(opts ...aggregate.Option) (*aggregate.Report, error) {
		agg, err := aggregate.New(cfg, opts...)
		Expect(err).NotTo(HaveOccurred())
		return agg.Run(ctx)
	}

	Describe("configuration", func() {
		It("rejects a first run after the last", func() {
			cfg.First, cfg.Last = 5, 4
			_, err := aggregate.New(cfg)
			Expect(err).To(MatchError(aggregate.ErrInvalidRange))
		})

		It("fails on a bad filter before touching any run", func() {
			cfg.Filter = "energy < 5"
			_, err := aggregate.New(cfg)
			Expect(errors.Is(err, query.ErrUnknownField)).To(BeTrue())
		})

		It("needs a time histogram to fit", func() {
			cfg.Fit = true
			_, err := aggregate.New(cfg)
			Expect(err).To(MatchError(aggregate.ErrNoTimeHistogram))
		})

		It("requires the polarization columns, filter columns and tend", func() {
			cfg.Filter = "Eend < 5"
			cfg.TimeBinning = &hist.Binning{Min: 0, Max: 100, Bins: 10}
			agg, err := aggregate.New(cfg)
			Expect(err).NotTo(HaveOccurred())
			req := agg.RequiredFields()
			for _, f := range []record.Field{record.FieldBxEnd, record.FieldSzEnd, record.FieldEEnd, record.FieldTEnd} {
				Expect(req.Has(f)).To(BeTrue(), f.String())
			}
		})
	})

	Describe("a single run", func() {
		It("reproduces the three-record example", func() {
			cfg.PolBinning.Bins = 2
			writeRun(dir, 1, []record.Record{
				neutron(record.Vec3{0, 0, 1}, record.Vec3{0, 0, 5}),
				neutron(record.Vec3{1, 0, 0}, record.Vec3{0, 0, 2}),
				neutron(record.Vec3{0, 0, 0}, record.Vec3{0, 0, 3}),
			})

			report, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Outcome).To(Equal(aggregate.OutcomeComplete))

			g := report.Aggregate
			avg, ok := g.AveragePolarization()
			Expect(ok).To(BeTrue())
			Expect(avg).To(BeNumerically("~", 1.0/3, 1e-12))
			Expect(g.PolHist.Counts).To(Equal([]int64{0, 3}))
			Expect(g.TotalSimulated).To(Equal(int64(3)))
			Expect(g.InHistogram()).To(Equal(int64(3)))
		})

		It("leaves zero-field records out of the average but counts them as simulated", func() {
			writeRun(dir, 1, []record.Record{
				neutron(record.Vec3{0, 0, 1}, record.Vec3{0, 0, 1}),
				neutron(record.Vec3{0, 0, 1}, record.Vec3{0, 0, 0}),
				neutron(record.Vec3{0, 0, -1}, record.Vec3{0, 0, 4}),
				neutron(record.Vec3{0, 0, -1}, record.Vec3{0, 0, 4}),
			})

			report, err := run()
			Expect(err).NotTo(HaveOccurred())
			g := report.Aggregate
			Expect(g.TotalSimulated).To(Equal(int64(4)))
			Expect(g.PolCount).To(Equal(int64(3)))
			Expect(g.InHistogram()).To(Equal(int64(3)))
			avg, _ := g.AveragePolarization()
			Expect(avg).To(BeNumerically("~", -1.0/3, 1e-12))
			Expect(math.IsNaN(avg)).To(BeFalse())
		})

		It("filters to a subset and counts stops of the kept records", func() {
			recs := randomRecords(rand.New(rand.NewSource(3)), 500)
			writeRun(dir, 1, recs)
			cfg.Filter = "stopID == -4 or tend < 100"

			report, err := run()
			Expect(err).NotTo(HaveOccurred())
			g := report.Aggregate
			Expect(g.TotalSimulated).To(Equal(int64(500)))
			Expect(g.TotalFiltered).To(BeNumerically("<=", g.TotalSimulated))

			f := query.MustParse(cfg.Filter)
			Expect(g.TotalFiltered).To(Equal(int64(len(f.Apply(recs)))))

			var stops int64
			for _, sc := range g.StopBreakdown() {
				stops += sc.Count
			}
			Expect(stops).To(Equal(g.TotalFiltered))
		})
	})

	Describe("many runs", func() {
		BeforeEach(func() {
			cfg.First, cfg.Last = 1, 5
		})

		It("records missing and malformed runs and keeps going", func() {
			rng := rand.New(rand.NewSource(1))
			for _, id := range []int{1, 3, 5} {
				writeRun(dir, id, randomRecords(rng, 20))
			}
			bad := source.NewText(source.Config{Folder: dir}).Path(4)
			Expect(os.WriteFile(bad, []byte("Sxend Syend Szend BxEnd ByEnd BzEnd\n1 2 3\n"), 0o644)).To(Succeed())

			obs := &recordingObserver{}
			report, err := run(aggregate.WithObserver(obs))
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Outcome).To(Equal(aggregate.OutcomeComplete))
			Expect(report.Aggregate.MissedRuns).To(Equal([]int{2, 4}))
			Expect(report.Aggregate.Loaded).To(Equal(3))
			Expect(report.Aggregate.TotalSimulated).To(Equal(int64(60)))

			Expect(obs.ids).To(Equal([]int{1, 2, 3, 4, 5}))
			Expect(obs.statuses[1]).To(Equal(aggregate.StatusMissing))
			Expect(obs.statuses[3]).To(Equal(aggregate.StatusMalformed))
		})

		It("reports no runs loaded instead of dividing by zero", func() {
			report, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Outcome).To(Equal(aggregate.OutcomeNoRunsLoaded))
			Expect(report.Aggregate.MissedRuns).To(Equal([]int{1, 2, 3, 4, 5}))
			_, ok := report.Aggregate.AveragePolarization()
			Expect(ok).To(BeFalse())
		})

		It("gives bitwise identical results with parallel workers", func() {
			rng := rand.New(rand.NewSource(7))
			for id := 1; id <= 5; id++ {
				if id == 3 {
					continue
				}
				writeRun(dir, id, randomRecords(rng, 100+id*13))
			}
			cfg.TimeBinning = &hist.Binning{Min: 0, Max: 1000, Bins: 50}
			cfg.Filter = "stopID != -1"

			seq, err := run()
			Expect(err).NotTo(HaveOccurred())

			cfg.Workers = 4
			par, err := run()
			Expect(err).NotTo(HaveOccurred())

			Expect(par.Aggregate).To(Equal(seq.Aggregate))
			Expect(math.Float64bits(par.Aggregate.PolSum)).To(Equal(math.Float64bits(seq.Aggregate.PolSum)))
		})

		It("does not depend on how records are split across runs", func() {
			// dyadic spins and fields keep every projection exact
			var all []record.Record
			for i := 0; i < 64; i++ {
				s := record.Vec3{0, 0, float64(i%8)/8 - 0.5}
				all = append(all, neutron(s, record.Vec3{0, 0, 2}))
			}
			writeRun(dir, 1, all)
			cfg.Last = 1
			whole, err := run()
			Expect(err).NotTo(HaveOccurred())

			writeRun(dir, 2, all[:10])
			writeRun(dir, 3, all[10:41])
			writeRun(dir, 4, all[41:])
			cfg.First, cfg.Last = 2, 4
			split, err := run()
			Expect(err).NotTo(HaveOccurred())

			Expect(split.Aggregate.PolHist).To(Equal(whole.Aggregate.PolHist))
			Expect(split.Aggregate.PolSum).To(Equal(whole.Aggregate.PolSum))
			Expect(split.Aggregate.PolCount).To(Equal(whole.Aggregate.PolCount))
			Expect(split.Aggregate.TotalSimulated).To(Equal(whole.Aggregate.TotalSimulated))
		})

		It("returns a partial report when canceled", func() {
			writeRun(dir, 1, randomRecords(rand.New(rand.NewSource(2)), 10))
			var cancel context.CancelFunc
			ctx, cancel = context.WithCancel(context.Background())
			cancel()

			report, err := run()
			Expect(err).To(MatchError(context.Canceled))
			Expect(report.Outcome).To(Equal(aggregate.OutcomeCanceled))
			Expect(report.Runs).To(BeEmpty())
		})
	})

	Describe("survival fit", func() {
		It("recovers the lifetime of an exponential population", func() {
			const n = 4000
			const lifetime = 50.0
			recs := make([]record.Record, n)
			for i := range recs {
				q := (float64(i) + 0.5) / n
				recs[i] = neutron(record.Vec3{0, 0, 1}, record.Vec3{0, 0, 1})
				recs[i].TEnd = -lifetime * math.Log(1-q)
			}
			writeRun(dir, 1, recs)

			cfg.TimeBinning = &hist.Binning{Min: 0, Max: 400, Bins: 80}
			cfg.Fit = true

			report, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(report.FitErr).NotTo(HaveOccurred())
			Expect(report.Survival).NotTo(BeNil())
			Expect(report.Survival.Lifetime()).To(BeNumerically("~", lifetime, 1))
			Expect(report.Curve.Times).To(HaveLen(79))
		})
	})

	Describe("fit failures", func() {
		It("keeps the error in the report when there are too few bins", func() {
			recs := make([]record.Record, 50)
			for i := range recs {
				recs[i] = neutron(record.Vec3{0, 0, 1}, record.Vec3{0, 0, 1})
				recs[i].TEnd = float64(i)
			}
			writeRun(dir, 1, recs)

			cfg.TimeBinning = &hist.Binning{Min: 0, Max: 60, Bins: 3}
			cfg.Fit = true

			report, err := run()
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Survival).To(BeNil())
			Expect(report.FitErr).To(MatchError(optim.ErrTooFewPoints))
			Expect(report.Aggregate.InHistogram()).To(Equal(int64(50)))
		})
	})

	Describe("Merge", func() {
		It("never mutates its input", func() {
			g, err := aggregate.NewGlobal(hist.Binning{Min: -1, Max: 1, Bins: 4}, nil)
			Expect(err).NotTo(HaveOccurred())
			h, _ := hist.New(hist.Binning{Min: -1, Max: 1, Bins: 4})
			h.Fill(0.25)
			r := aggregate.RunResult{RunID: 1, Status: aggregate.StatusLoaded, Records: 1, Filtered: 1, PolSum: 0.25, PolCount: 1, PolHist: h,
				Stops: map[record.StopID]int64{record.StopDecayed: 1}}

			out, err := aggregate.Merge(g, r)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.PolHist.Counts).To(Equal([]int64{0, 0, 1, 0}))
			Expect(out.Stops[record.StopDecayed]).To(Equal(int64(1)))

			Expect(g.PolHist.Counts).To(Equal([]int64{0, 0, 0, 0}))
			Expect(g.Stops).To(BeEmpty())
			Expect(g.Loaded).To(Equal(0))

			missed, err := aggregate.Merge(out, aggregate.RunResult{RunID: 9, Status: aggregate.StatusMissing})
			Expect(err).NotTo(HaveOccurred())
			Expect(missed.MissedRuns).To(Equal([]int{9}))
			Expect(out.MissedRuns).To(BeEmpty())
		})

		It("gives the same aggregate for every order of runs", func() {
			binning := hist.Binning{Min: -1, Max: 1, Bins: 4}
			timeBinning := hist.Binning{Min: 0, Max: 100, Bins: 5}
			result := func(id int, pols []float64, tend float64, stop record.StopID) aggregate.RunResult {
				ph, _ := hist.New(binning)
				th, _ := hist.New(timeBinning)
				r := aggregate.RunResult{RunID: id, Status: aggregate.StatusLoaded, PolHist: ph, TimeHist: &th}
				recs := make([]record.Record, len(pols))
				for i, p := range pols {
					recs[i] = neutron(record.Vec3{0, 0, p}, record.Vec3{0, 0, 1})
					recs[i].TEnd = tend
					recs[i].Stop = stop
				}
				r.Records = int64(len(recs)) + 1
				r.Accumulate(recs, true)
				return r
			}
			runs := []aggregate.RunResult{
				result(1, []float64{0.5, -0.25}, 10, record.StopDecayed),
				result(2, []float64{1, 0.75, -1}, 55, record.StopAbsorbedBulk),
				{RunID: 3, Status: aggregate.StatusMissing},
				result(4, []float64{0.125}, 99, record.StopDecayed),
			}

			fold := func(order []int) aggregate.GlobalAggregate {
				g, err := aggregate.NewGlobal(binning, &timeBinning)
				Expect(err).NotTo(HaveOccurred())
				for _, i := range order {
					g, err = aggregate.Merge(g, runs[i])
					Expect(err).NotTo(HaveOccurred())
				}
				return g
			}

			want := fold([]int{0, 1, 2, 3})
			Expect(want.TotalFiltered).To(Equal(int64(6)))
			Expect(want.MissedRuns).To(Equal([]int{3}))
			for _, order := range permutations(len(runs)) {
				Expect(fold(order)).To(Equal(want), "order %v", order)
			}
		})

		It("rejects mismatched binnings", func() {
			g, _ := aggregate.NewGlobal(hist.Binning{Min: -1, Max: 1, Bins: 4}, nil)
			h, _ := hist.New(hist.Binning{Min: -1, Max: 1, Bins: 8})
			_, err := aggregate.Merge(g, aggregate.RunResult{Status: aggregate.StatusLoaded, PolHist: h})
			Expect(err).To(MatchError(hist.ErrBinningMismatch))
		})
	})
})
