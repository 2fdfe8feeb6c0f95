// Package export writes report artifacts: PNG and SVG charts and an xlsx
// workbook of the histograms.
package export

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/san-kum/endstat/internal/analysis"
	"github.com/san-kum/endstat/internal/hist"
)

// ErrNoData indicates a chart with nothing to draw.
var ErrNoData = errors.New("export: no data")

type Format string

const (
	PNG Format = "png"
	SVG Format = "svg"
)

var (
	histColor = drawing.ColorFromHex("00aa88")
	fitColor  = drawing.ColorFromHex("dd4444")
	dataColor = drawing.ColorFromHex("3366cc")
)

const (
	chartWidth  = 1024
	chartHeight = 512
)

// HistogramChart draws h as a filled step outline.
func HistogramChart(h hist.Histogram, title, xName string) (chart.Chart, error) {
	if len(h.Counts) == 0 {
		return chart.Chart{}, ErrNoData
	}

	xs := make([]float64, 0, 2*len(h.Counts))
	ys := make([]float64, 0, 2*len(h.Counts))
	var top int64
	for i, c := range h.Counts {
		xs = append(xs, h.Binning.Edge(i), h.Binning.Edge(i+1))
		ys = append(ys, float64(c), float64(c))
		if c > top {
			top = c
		}
	}
	if top == 0 {
		top = 1
	}

	return chart.Chart{
		Title:      title,
		Width:      chartWidth,
		Height:     chartHeight,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		XAxis: chart.XAxis{
			Name:  xName,
			Range: &chart.ContinuousRange{Min: h.Binning.Min, Max: h.Binning.Max},
		},
		YAxis: chart.YAxis{
			Name:  "count",
			Range: &chart.ContinuousRange{Min: 0, Max: 1.05 * float64(top)},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    title,
				XValues: xs,
				YValues: ys,
				Style: chart.Style{
					StrokeColor: histColor,
					StrokeWidth: 1,
					FillColor:   histColor.WithAlpha(96),
				},
			},
		},
	}, nil
}

// SurvivalChart draws the survivor points and, when fit is non-nil, the
// fitted curve.
func SurvivalChart(c analysis.Curve, fit *analysis.Fit) (chart.Chart, error) {
	if len(c.Times) < 2 {
		return chart.Chart{}, ErrNoData
	}

	lo, hi := c.Times[0], c.Times[len(c.Times)-1]
	top := 1.0
	for _, s := range c.Survivors {
		top = math.Max(top, s)
	}

	series := []chart.Series{
		chart.ContinuousSeries{
			Name:    "survivors",
			XValues: c.Times,
			YValues: c.Survivors,
			Style: chart.Style{
				StrokeWidth: 0,
				DotWidth:    3,
				DotColor:    dataColor,
			},
		},
	}
	title := "Survivors"
	if fit != nil {
		const samples = 200
		xs := make([]float64, samples)
		ys := make([]float64, samples)
		for i := range xs {
			xs[i] = lo + (hi-lo)*float64(i)/float64(samples-1)
			ys[i] = fit.Eval(xs[i])
			top = math.Max(top, ys[i])
		}
		series = append(series, chart.ContinuousSeries{
			Name:    fmt.Sprintf("%.4g exp(-t/%.4g) + %.4g", fit.A, fit.B, fit.C),
			XValues: xs,
			YValues: ys,
			Style:   chart.Style{StrokeColor: fitColor, StrokeWidth: 2},
		})
		title = fmt.Sprintf("Survivors, lifetime %.4g s", fit.Lifetime())
	}

	ch := chart.Chart{
		Title:      title,
		Width:      chartWidth,
		Height:     chartHeight,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		XAxis:      chart.XAxis{Name: "t [s]", Range: &chart.ContinuousRange{Min: lo, Max: hi}},
		YAxis:      chart.YAxis{Name: "N", Range: &chart.ContinuousRange{Min: 0, Max: 1.05 * top}},
		Series:     series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	return ch, nil
}

func Render(ch chart.Chart, format Format, w io.Writer) error {
	switch format {
	case PNG:
		return ch.Render(chart.PNG, w)
	case SVG:
		return ch.Render(chart.SVG, w)
	}
	return fmt.Errorf("export: unknown chart format %q", format)
}
