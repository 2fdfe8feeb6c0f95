package optim

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrTooFewPoints indicates fewer data points than needed to fit and
	// estimate errors (more points than parameters).
	ErrTooFewPoints = errors.New("optim: too few points")

	// ErrSingularJacobian indicates JᵀJ is singular at the initial guess, so
	// the parameters are not identifiable from the data.
	ErrSingularJacobian = errors.New("optim: singular jacobian at initial guess")

	// ErrNoConvergence indicates the iteration limit was reached.
	ErrNoConvergence = errors.New("optim: fit did not converge")

	// ErrSingularCovariance indicates JᵀJ is singular at the solution.
	ErrSingularCovariance = errors.New("optim: singular covariance")
)

// Model evaluates a curve at x for parameters p.
type Model func(x float64, p []float64) float64

// Gradient writes ∂Model/∂p at x into grad.
type Gradient func(x float64, p []float64, grad []float64)

type FitOptions struct {
	MaxIter int
	// XTol stops when every step is below XTol·(|p|+XTol).
	XTol float64
	// FTol stops when the relative decrease of the residual sum is below it.
	FTol    float64
	Lambda0 float64
}

func DefaultFitOptions() FitOptions {
	return FitOptions{MaxIter: 500, XTol: 1e-10, FTol: 1e-12, Lambda0: 1e-3}
}

// FitResult holds the fitted parameters and their uncertainties. StdErr is
// sqrt(diag(Cov)) where Cov = (JᵀJ)⁻¹·SSR/DoF.
type FitResult struct {
	Params     []float64   `json:"params"`
	StdErr     []float64   `json:"std_err"`
	Cov        [][]float64 `json:"cov,omitempty"`
	SSR        float64     `json:"ssr"`
	DoF        int         `json:"dof"`
	Iterations int         `json:"iterations"`
	Converged  bool        `json:"converged"`
}

// CurveFit fits model to (xs, ys) by Levenberg–Marquardt least squares,
// starting from guess. grad may be nil, in which case derivatives are taken
// by central differences.
//
// On ErrNoConvergence and ErrSingularCovariance the partial result is
// returned alongside the error.
func CurveFit(model Model, grad Gradient, xs, ys, guess []float64, opts FitOptions) (*FitResult, error) {
	m, n := len(xs), len(guess)
	if len(ys) != m {
		return nil, fmt.Errorf("optim: %d x values but %d y values", m, len(ys))
	}
	if n == 0 || m <= n {
		return nil, fmt.Errorf("%w: %d points for %d parameters", ErrTooFewPoints, m, n)
	}
	if opts.MaxIter <= 0 {
		opts = DefaultFitOptions()
	}
	if grad == nil {
		grad = numericGradient(model)
	}

	p := append([]float64(nil), guess...)
	jac := make([][]float64, m)
	for i := range jac {
		jac[i] = make([]float64, n)
	}
	res := make([]float64, m)

	eval := func(p []float64, withJac bool) float64 {
		ssr := 0.0
		for i, x := range xs {
			res[i] = ys[i] - model(x, p)
			ssr += res[i] * res[i]
			if withJac {
				grad(x, p, jac[i])
			}
		}
		return ssr
	}

	ssr := eval(p, true)
	if math.IsNaN(ssr) || math.IsInf(ssr, 0) {
		return nil, fmt.Errorf("%w: residuals not finite at %v", ErrSingularJacobian, guess)
	}
	jtj, jtr := normal(jac, res)
	if _, ok := invert(jtj); !ok {
		return nil, fmt.Errorf("%w: %v", ErrSingularJacobian, guess)
	}

	lambda := opts.Lambda0
	trial := make([]float64, n)
	result := &FitResult{DoF: m - n}

	for iter := 1; iter <= opts.MaxIter; iter++ {
		result.Iterations = iter

		a := make([][]float64, n)
		for i := range a {
			a[i] = append([]float64(nil), jtj[i]...)
			d := jtj[i][i]
			if d == 0 {
				d = 1
			}
			a[i][i] += lambda * d
		}
		step, ok := solve(a, jtr)
		if !ok {
			lambda *= 10
			continue
		}

		for i := range p {
			trial[i] = p[i] + step[i]
		}
		newSSR := eval(trial, false)

		if newSSR < ssr && !math.IsNaN(newSSR) {
			small := true
			for i := range p {
				if math.Abs(step[i]) > opts.XTol*(math.Abs(p[i])+opts.XTol) {
					small = false
				}
			}
			drop := (ssr - newSSR) / math.Max(ssr, math.SmallestNonzeroFloat64)

			copy(p, trial)
			ssr = eval(p, true)
			jtj, jtr = normal(jac, res)
			lambda = math.Max(lambda/10, 1e-15)

			if small || drop < opts.FTol {
				result.Converged = true
				break
			}
			continue
		}

		lambda *= 10
		if lambda > 1e16 {
			// no downhill step exists at machine precision
			result.Converged = true
			break
		}
	}

	// residuals and jacobian are current for p
	result.Params = p
	result.SSR = ssr
	result.StdErr = make([]float64, n)
	for i := range result.StdErr {
		result.StdErr[i] = math.NaN()
	}

	if !result.Converged {
		return result, fmt.Errorf("%w after %d iterations", ErrNoConvergence, result.Iterations)
	}

	inv, ok := invert(jtj)
	if !ok {
		return result, ErrSingularCovariance
	}
	s2 := ssr / float64(result.DoF)
	result.Cov = make([][]float64, n)
	for i := range inv {
		result.Cov[i] = make([]float64, n)
		for j := range inv[i] {
			result.Cov[i][j] = inv[i][j] * s2
		}
		if result.Cov[i][i] >= 0 {
			result.StdErr[i] = math.Sqrt(result.Cov[i][i])
		}
	}
	return result, nil
}

func numericGradient(model Model) Gradient {
	return func(x float64, p []float64, grad []float64) {
		q := append([]float64(nil), p...)
		for j := range p {
			h := 1e-6 * math.Max(math.Abs(p[j]), 1)
			q[j] = p[j] + h
			up := model(x, q)
			q[j] = p[j] - h
			down := model(x, q)
			q[j] = p[j]
			grad[j] = (up - down) / (2 * h)
		}
	}
}
