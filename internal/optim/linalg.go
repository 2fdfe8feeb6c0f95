package optim

import "math"

// solve returns x with a·x = b by Gaussian elimination with partial
// pivoting. a and b are left untouched. ok is false for a singular system.
func solve(a [][]float64, b []float64) (x []float64, ok bool) {
	n := len(b)
	m := make([][]float64, n)
	scale := 0.0
	for i := range a {
		m[i] = make([]float64, n+1)
		copy(m[i], a[i])
		m[i][n] = b[i]
		for j := 0; j < n; j++ {
			scale = math.Max(scale, math.Abs(a[i][j]))
		}
	}
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, false
	}
	tol := 1e-13 * scale

	for col := 0; col < n; col++ {
		pivot := col
		for row := col + 1; row < n; row++ {
			if math.Abs(m[row][col]) > math.Abs(m[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(m[pivot][col]) <= tol {
			return nil, false
		}
		m[col], m[pivot] = m[pivot], m[col]

		for row := col + 1; row < n; row++ {
			f := m[row][col] / m[col][col]
			if f == 0 {
				continue
			}
			for k := col; k <= n; k++ {
				m[row][k] -= f * m[col][k]
			}
		}
	}

	x = make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := m[i][n]
		for j := i + 1; j < n; j++ {
			sum -= m[i][j] * x[j]
		}
		x[i] = sum / m[i][i]
	}
	return x, true
}

// invert returns a⁻¹, or ok false when a is singular.
func invert(a [][]float64) ([][]float64, bool) {
	n := len(a)
	inv := make([][]float64, n)
	for i := range inv {
		inv[i] = make([]float64, n)
	}
	e := make([]float64, n)
	for col := 0; col < n; col++ {
		for i := range e {
			e[i] = 0
		}
		e[col] = 1
		x, ok := solve(a, e)
		if !ok {
			return nil, false
		}
		for row := 0; row < n; row++ {
			inv[row][col] = x[row]
		}
	}
	return inv, true
}

// normal returns JᵀJ and Jᵀr.
func normal(jac [][]float64, res []float64) ([][]float64, []float64) {
	n := 0
	if len(jac) > 0 {
		n = len(jac[0])
	}
	jtj := make([][]float64, n)
	for i := range jtj {
		jtj[i] = make([]float64, n)
	}
	jtr := make([]float64, n)
	for k, row := range jac {
		for i := 0; i < n; i++ {
			jtr[i] += row[i] * res[k]
			for j := i; j < n; j++ {
				jtj[i][j] += row[i] * row[j]
			}
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < i; j++ {
			jtj[i][j] = jtj[j][i]
		}
	}
	return jtj, jtr
}
