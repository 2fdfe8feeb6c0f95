package analysis

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/endstat/internal/hist"
	"github.com/san-kum/endstat/internal/optim"
)

func TestSurvivors(t *testing.T) {
	h, err := hist.New(hist.Binning{Min: 0, Max: 30, Bins: 3})
	if err != nil {
		t.Fatal(err)
	}
	h.Counts = []int64{2, 3, 5}

	c, err := Survivors(h, 10)
	if err != nil {
		t.Fatal(err)
	}
	wantS := []float64{8, 5}
	wantT := []float64{5, 15}
	if len(c.Survivors) != len(wantS) {
		t.Fatalf("got %d points, want %d", len(c.Survivors), len(wantS))
	}
	for i := range wantS {
		if c.Survivors[i] != wantS[i] || c.Times[i] != wantT[i] {
			t.Errorf("point %d = (%v, %v), want (%v, %v)", i, c.Times[i], c.Survivors[i], wantT[i], wantS[i])
		}
	}

	if _, err := Survivors(hist.Histogram{}, 10); !errors.Is(err, ErrEmptyHistogram) {
		t.Errorf("expected ErrEmptyHistogram, got %v", err)
	}
}

func syntheticCurve(a, b, c float64) Curve {
	binning := hist.Binning{Min: 0, Max: 500, Bins: 100}
	var curve Curve
	for i := 0; i < binning.Bins-1; i++ {
		tc := binning.Center(i)
		curve.Times = append(curve.Times, tc)
		curve.Survivors = append(curve.Survivors, a*math.Exp(-tc/b)+c)
	}
	return curve
}

func relErr(got, want float64) float64 {
	return math.Abs(got-want) / math.Abs(want)
}

func TestFitSurvivalRecoversParameters(t *testing.T) {
	curve := syntheticCurve(1000, 50, 10)

	fit, err := FitSurvival(curve, DefaultFitConfig(1010))
	if err != nil {
		t.Fatalf("FitSurvival: %v", err)
	}

	tests := []struct {
		name      string
		got, want float64
	}{
		{"a", fit.A, 1000},
		{"b", fit.Lifetime(), 50},
		{"c", fit.C, 10},
	}
	for _, tt := range tests {
		if relErr(tt.got, tt.want) > 1e-3 {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if fit.DoF != len(curve.Times)-3 {
		t.Errorf("dof = %d, want %d", fit.DoF, len(curve.Times)-3)
	}
	if math.IsNaN(fit.LifetimeErr()) || fit.LifetimeErr() < 0 {
		t.Errorf("lifetime error = %v", fit.LifetimeErr())
	}
	if math.Abs(fit.Eval(100)-(1000*math.Exp(-2)+10)) > 1e-2 {
		t.Errorf("Eval(100) = %v", fit.Eval(100))
	}
}

func TestFitSurvivalSeeded(t *testing.T) {
	curve := syntheticCurve(5000, 400, 200)

	cfg := DefaultFitConfig(5200)
	cfg.SeedLifetimes = optim.Linspace(10, 1000, 100)
	fit, err := FitSurvival(curve, cfg)
	if err != nil {
		t.Fatalf("FitSurvival: %v", err)
	}
	if relErr(fit.B, 400) > 1e-3 {
		t.Errorf("b = %v, want 400", fit.B)
	}
}

func TestSeedLifetimeLinearSolve(t *testing.T) {
	curve := syntheticCurve(300, 80, 20)
	p, ok := seedLifetime(curve, []float64{40, 80, 160})
	if !ok {
		t.Fatal("expected a seed")
	}
	if p[1] != 80 || relErr(p[0], 300) > 1e-9 || relErr(p[2], 20) > 1e-9 {
		t.Errorf("seed = %v, want [300 80 20]", p)
	}
}

func TestFitSurvivalTooFewPoints(t *testing.T) {
	h, _ := hist.New(hist.Binning{Min: 0, Max: 30, Bins: 3})
	h.Counts = []int64{2, 3, 5}
	c, _ := Survivors(h, 10)

	_, err := FitSurvival(c, DefaultFitConfig(10))
	if !errors.Is(err, optim.ErrTooFewPoints) {
		t.Errorf("expected ErrTooFewPoints, got %v", err)
	}
}
