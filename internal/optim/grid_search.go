package optim

import (
	"context"
	"math"
)

// GridSearch evaluates an objective over the cartesian product of parameter
// ranges and keeps the lowest finite value.
type GridSearch struct {
	paramNames []string
	ranges     [][]float64
}

// Objective scores one point of the grid; lower is better.
type Objective func(point map[string]float64) (float64, error)

func NewGridSearch(params []string, ranges [][]float64) *GridSearch {
	return &GridSearch{paramNames: params, ranges: ranges}
}

// Linspace returns n evenly spaced values from lo to hi inclusive.
func Linspace(lo, hi float64, n int) []float64 {
	if n <= 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

// Search returns the best parameter set and its objective value. Points
// where the objective errors or is not finite are skipped; if every point
// is skipped the returned map is nil.
func (g *GridSearch) Search(ctx context.Context, objective Objective) (map[string]float64, float64, error) {
	s := &scan{objective: objective, best: math.Inf(1)}
	err := s.walk(ctx, g, 0, make(map[string]float64, len(g.paramNames)))
	return s.point, s.best, err
}

type scan struct {
	objective Objective
	best      float64
	point     map[string]float64
}

func (s *scan) walk(ctx context.Context, g *GridSearch, depth int, current map[string]float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if depth == len(g.paramNames) {
		val, err := s.objective(current)
		if err != nil || math.IsNaN(val) || math.IsInf(val, 0) || val >= s.best {
			return nil
		}
		s.best = val
		s.point = make(map[string]float64, len(current))
		for k, v := range current {
			s.point[k] = v
		}
		return nil
	}

	name := g.paramNames[depth]
	for _, v := range g.ranges[depth] {
		current[name] = v
		if err := s.walk(ctx, g, depth+1, current); err != nil {
			return err
		}
	}
	delete(current, name)
	return nil
}
