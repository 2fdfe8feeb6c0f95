package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/endstat/internal/hist"
	"github.com/san-kum/endstat/internal/optim"
)

// ErrEmptyHistogram indicates a time histogram with no bins.
var ErrEmptyHistogram = errors.New("analysis: empty time histogram")

// Curve is a survivor series sampled at bin centers.
type Curve struct {
	Times     []float64 `json:"times"`
	Survivors []float64 `json:"survivors"`
}

// Survivors computes S_0 = N - n_0, S_i = S_{i-1} - n_i over the bins of h
// and drops the final bin, which collects the edge of the time range.
func Survivors(h hist.Histogram, total int64) (Curve, error) {
	if len(h.Counts) == 0 {
		return Curve{}, ErrEmptyHistogram
	}

	n := len(h.Counts) - 1
	c := Curve{Times: make([]float64, n), Survivors: make([]float64, n)}
	remaining := total
	for i := 0; i < n; i++ {
		remaining -= h.Counts[i]
		c.Times[i] = h.Binning.Center(i)
		c.Survivors[i] = float64(remaining)
	}
	return c, nil
}

func decay(t float64, p []float64) float64 {
	return p[0]*math.Exp(-t/p[1]) + p[2]
}

func decayGrad(t float64, p []float64, g []float64) {
	e := math.Exp(-t / p[1])
	g[0] = e
	g[1] = p[0] * e * t / (p[1] * p[1])
	g[2] = 1
}

type FitConfig struct {
	A0, B0, C0 float64

	// SeedLifetimes, when set, is scanned for the b with the lowest
	// residual (a and c fitted linearly for each) before the nonlinear fit.
	SeedLifetimes []float64

	Options optim.FitOptions
}

// DefaultFitConfig starts from a = N, b = 100, c = 100.
func DefaultFitConfig(total int64) FitConfig {
	return FitConfig{A0: float64(total), B0: 100, C0: 100, Options: optim.DefaultFitOptions()}
}

// Fit is the result of a survival fit.
type Fit struct {
	A, B, C          float64
	AErr, BErr, CErr float64
	*optim.FitResult
}

func (f *Fit) Lifetime() float64    { return f.B }
func (f *Fit) LifetimeErr() float64 { return f.BErr }

// Eval returns the fitted curve at t.
func (f *Fit) Eval(t float64) float64 {
	return decay(t, []float64{f.A, f.B, f.C})
}

// FitSurvival fits the decay model to c. A fit that stops early or has a
// singular covariance still returns the parameters it reached with the
// error.
func FitSurvival(c Curve, cfg FitConfig) (*Fit, error) {
	guess := []float64{cfg.A0, cfg.B0, cfg.C0}
	if len(cfg.SeedLifetimes) > 0 {
		if seeded, ok := seedLifetime(c, cfg.SeedLifetimes); ok {
			guess = seeded
		}
	}

	res, err := optim.CurveFit(decay, decayGrad, c.Times, c.Survivors, guess, cfg.Options)
	if res == nil {
		return nil, fmt.Errorf("survival fit: %w", err)
	}

	fit := &Fit{
		A: res.Params[0], B: res.Params[1], C: res.Params[2],
		AErr: res.StdErr[0], BErr: res.StdErr[1], CErr: res.StdErr[2],
		FitResult: res,
	}
	if err != nil {
		return fit, fmt.Errorf("survival fit: %w", err)
	}
	return fit, nil
}

// seedLifetime grid-searches b. For fixed b the model is linear in a and c,
// so each grid point is solved exactly.
func seedLifetime(c Curve, lifetimes []float64) ([]float64, bool) {
	grid := optim.NewGridSearch([]string{"b"}, [][]float64{lifetimes})
	best, _, err := grid.Search(context.Background(), func(p map[string]float64) (float64, error) {
		_, _, ssr, ok := linearAC(c, p["b"])
		if !ok {
			return math.NaN(), nil
		}
		return ssr, nil
	})
	if err != nil || best == nil {
		return nil, false
	}
	a, cc, _, _ := linearAC(c, best["b"])
	return []float64{a, best["b"], cc}, true
}

func linearAC(c Curve, b float64) (a, off, ssr float64, ok bool) {
	if b <= 0 {
		return 0, 0, 0, false
	}
	var see, se, sey, sy, n float64
	for i, t := range c.Times {
		e := math.Exp(-t / b)
		see += e * e
		se += e
		sey += e * c.Survivors[i]
		sy += c.Survivors[i]
		n++
	}
	det := see*n - se*se
	if det == 0 || math.IsNaN(det) {
		return 0, 0, 0, false
	}
	a = (sey*n - se*sy) / det
	off = (see*sy - se*sey) / det
	for i, t := range c.Times {
		r := c.Survivors[i] - a*math.Exp(-t/b) - off
		ssr += r * r
	}
	return a, off, ssr, true
}
