package viz

import (
	"fmt"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/endstat/internal/analysis"
	"github.com/san-kum/endstat/internal/hist"
)

// HistogramPlot draws the bin counts of h.
func HistogramPlot(h hist.Histogram, width, height int, caption string) string {
	if len(h.Counts) == 0 {
		return ""
	}
	return asciigraph.Plot(h.Floats(),
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.LowerBound(0),
		asciigraph.Caption(fmt.Sprintf("%s [%g, %g], %d bins", caption, h.Binning.Min, h.Binning.Max, h.Binning.Bins)),
	)
}

// SurvivalPlot draws the survivor counts and, when fit is non-nil, the
// fitted curve at the same times.
func SurvivalPlot(c analysis.Curve, fit *analysis.Fit, width, height int) string {
	if len(c.Survivors) == 0 {
		return ""
	}
	caption := fmt.Sprintf("survivors, t in [%.4g, %.4g] s", c.Times[0], c.Times[len(c.Times)-1])
	if fit == nil {
		return asciigraph.Plot(c.Survivors,
			asciigraph.Height(height),
			asciigraph.Width(width),
			asciigraph.LowerBound(0),
			asciigraph.Caption(caption),
		)
	}

	model := make([]float64, len(c.Times))
	for i, t := range c.Times {
		model[i] = fit.Eval(t)
	}
	return asciigraph.PlotMany([][]float64{c.Survivors, model},
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.LowerBound(0),
		asciigraph.SeriesColors(asciigraph.Blue, asciigraph.Red),
		asciigraph.SeriesLegends("data", "fit"),
		asciigraph.Caption(caption),
	)
}
