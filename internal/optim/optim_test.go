package optim

import (
	"context"
	"errors"
	"math"
	"testing"
)

func expDecay(x float64, p []float64) float64 {
	return p[0]*math.Exp(-x/p[1]) + p[2]
}

func TestCurveFitRecoversExponential(t *testing.T) {
	want := []float64{1000, 250, 40}
	var xs, ys []float64
	for x := 0.0; x < 1000; x += 10 {
		xs = append(xs, x)
		ys = append(ys, expDecay(x, want))
	}

	res, err := CurveFit(expDecay, nil, xs, ys, []float64{800, 100, 100}, DefaultFitOptions())
	if err != nil {
		t.Fatalf("CurveFit: %v", err)
	}
	for i := range want {
		if math.Abs(res.Params[i]-want[i]) > 1e-4*math.Abs(want[i]) {
			t.Errorf("param %d = %v, want %v", i, res.Params[i], want[i])
		}
	}
	if res.DoF != len(xs)-3 {
		t.Errorf("dof = %d, want %d", res.DoF, len(xs)-3)
	}
	if !res.Converged {
		t.Error("expected convergence")
	}
}

func TestCurveFitLinearStdErr(t *testing.T) {
	line := func(x float64, p []float64) float64 { return p[0] + p[1]*x }
	lineGrad := func(x float64, p []float64, g []float64) {
		g[0] = 1
		g[1] = x
	}

	xs := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	noise := []float64{0.5, -0.25, 0.125, -0.5, 0.25, 0.375, -0.125, -0.375}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = 1 + 2*x + noise[i]
	}

	// ordinary least squares in closed form
	n := float64(len(xs))
	var sx, sy, sxx, sxy float64
	for i, x := range xs {
		sx += x
		sy += ys[i]
		sxx += x * x
		sxy += x * ys[i]
	}
	det := n*sxx - sx*sx
	slope := (n*sxy - sx*sy) / det
	icept := (sy - slope*sx) / n
	var ssr float64
	for i, x := range xs {
		r := ys[i] - icept - slope*x
		ssr += r * r
	}
	s2 := ssr / (n - 2)
	seSlope := math.Sqrt(s2 * n / det)
	seIcept := math.Sqrt(s2 * sxx / det)

	res, err := CurveFit(line, lineGrad, xs, ys, []float64{0, 0}, DefaultFitOptions())
	if err != nil {
		t.Fatalf("CurveFit: %v", err)
	}

	tests := []struct {
		name      string
		got, want float64
	}{
		{"intercept", res.Params[0], icept},
		{"slope", res.Params[1], slope},
		{"intercept err", res.StdErr[0], seIcept},
		{"slope err", res.StdErr[1], seSlope},
		{"ssr", res.SSR, ssr},
	}
	for _, tt := range tests {
		if math.Abs(tt.got-tt.want) > 1e-8*math.Max(1, math.Abs(tt.want)) {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestCurveFitErrors(t *testing.T) {
	xs := []float64{0, 1, 2, 3, 4}
	ys := []float64{5, 4, 3, 2, 1}

	_, err := CurveFit(expDecay, nil, xs[:3], ys[:3], []float64{1, 1, 1}, DefaultFitOptions())
	if !errors.Is(err, ErrTooFewPoints) {
		t.Errorf("expected ErrTooFewPoints, got %v", err)
	}

	// the second parameter never influences the curve
	flat := func(x float64, p []float64) float64 { return p[0] }
	_, err = CurveFit(flat, nil, xs, ys, []float64{1, 1}, DefaultFitOptions())
	if !errors.Is(err, ErrSingularJacobian) {
		t.Errorf("expected ErrSingularJacobian, got %v", err)
	}

	opts := DefaultFitOptions()
	opts.MaxIter = 1
	var longX, longY []float64
	for x := 0.0; x < 500; x += 5 {
		longX = append(longX, x)
		longY = append(longY, expDecay(x, []float64{1000, 80, 5}))
	}
	res, err := CurveFit(expDecay, nil, longX, longY, []float64{10, 500, 300}, opts)
	if !errors.Is(err, ErrNoConvergence) {
		t.Errorf("expected ErrNoConvergence, got %v", err)
	}
	if res == nil || len(res.Params) != 3 {
		t.Error("expected partial result alongside ErrNoConvergence")
	}
}

func TestSolve(t *testing.T) {
	// zero leading entry forces a row swap
	a := [][]float64{{0, 2, 1}, {1, 1, 1}, {2, 1, 0}}
	b := []float64{5, 4, 4}
	x, ok := solve(a, b)
	if !ok {
		t.Fatal("expected solvable system")
	}
	want := []float64{1, 2, 1}
	for i := range want {
		if math.Abs(x[i]-want[i]) > 1e-12 {
			t.Errorf("x[%d] = %v, want %v", i, x[i], want[i])
		}
	}

	if _, ok := solve([][]float64{{1, 2}, {2, 4}}, []float64{1, 2}); ok {
		t.Error("expected singular system")
	}
}

func TestGridSearch(t *testing.T) {
	g := NewGridSearch([]string{"x", "y"}, [][]float64{Linspace(-2, 2, 5), Linspace(0, 4, 5)})
	best, val, err := g.Search(context.Background(), func(p map[string]float64) (float64, error) {
		if p["y"] == 0 {
			return math.NaN(), nil
		}
		return (p["x"]-1)*(p["x"]-1) + (p["y"]-3)*(p["y"]-3), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if best["x"] != 1 || best["y"] != 3 || val != 0 {
		t.Errorf("best = %v (%v), want x=1 y=3", best, val)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := g.Search(ctx, func(map[string]float64) (float64, error) { return 0, nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLinspace(t *testing.T) {
	got := Linspace(0, 1, 5)
	want := []float64{0, 0.25, 0.5, 0.75, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Linspace[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
