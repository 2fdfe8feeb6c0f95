package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/san-kum/endstat/internal/aggregate"
	"github.com/san-kum/endstat/internal/analysis"
	"github.com/san-kum/endstat/internal/export"
	"github.com/san-kum/endstat/internal/hist"
	"github.com/san-kum/endstat/internal/storage"
	"github.com/san-kum/endstat/internal/viz"
)

func orNA(v *float64, format string) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf(format, *v)
}

// summaryLines is the report summary shared by the terminal, the viewer and
// the workbook.
func summaryLines(m storage.Metadata) []viz.Line {
	lines := []viz.Line{
		{Label: "runs", Value: fmt.Sprintf("%d-%d (%d requested, %d loaded)", m.First, m.Last, m.Requested(), m.Loaded)},
		{Label: "filter", Value: m.Filter},
		{Label: "format", Value: m.Format},
		{Label: "average polarization", Value: orNA(m.AveragePolarization, "%.6f")},
		{Label: "neutrons in histogram", Value: fmt.Sprint(m.InHistogram)},
		{Label: "neutrons simulated", Value: fmt.Sprint(m.TotalSimulated)},
		{Label: "neutrons passing filter", Value: fmt.Sprint(m.TotalFiltered)},
		{Label: "average Sz end", Value: orNA(m.AverageSzEnd, "%.6f")},
		{Label: "missed runs", Value: fmt.Sprint(len(m.MissedRuns))},
	}
	if f := m.Fit; f != nil {
		lines = append(lines,
			viz.Line{Label: "fit", Value: fmt.Sprintf("%.6g exp(-t/%.6g) + %.6g", f.A, f.B, f.C)},
			viz.Line{Label: "lifetime", Value: fmt.Sprintf("%.6g ± %s s", f.B, orNA(f.BErr, "%.3g"))},
			viz.Line{Label: "fit iterations", Value: fmt.Sprintf("%d (converged: %t)", f.Iterations, f.Converged)},
		)
	}
	if m.FitError != "" {
		lines = append(lines, viz.Line{Label: "fit error", Value: m.FitError})
	}
	lines = append(lines, viz.Line{Label: "elapsed", Value: fmt.Sprintf("%.2fs", m.ElapsedSeconds)})
	return lines
}

func printSummary(w io.Writer, m storage.Metadata) error {
	if m.Outcome == aggregate.OutcomeNoRunsLoaded.String() {
		fmt.Fprintln(w, "no files were read")
	} else if m.Outcome != aggregate.OutcomeComplete.String() {
		fmt.Fprintf(w, "batch %s\n", m.Outcome)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, l := range summaryLines(m) {
		fmt.Fprintf(tw, "%s:\t%s\n", l.Label, l.Value)
	}
	if len(m.MissedRuns) > 0 {
		fmt.Fprintf(tw, "missed run ids:\t%v\n", m.MissedRuns)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(m.Stops) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "STOP\tCOUNT\tFRACTION\t")
	for _, s := range m.Stops {
		frac := 0.0
		if m.TotalFiltered > 0 {
			frac = float64(s.Count) / float64(m.TotalFiltered)
		}
		fmt.Fprintf(tw, "%d %s\t%d\t%.2f%%\t\n", int(s.Stop), s.Stop, s.Count, 100*frac)
	}
	return tw.Flush()
}

// exportData collects what the plots and the workbook are drawn from.
func exportData(m storage.Metadata, pol hist.Histogram, th *hist.Histogram, curve *analysis.Curve, fit *analysis.Fit) export.Data {
	d := export.Data{
		Title:        fmt.Sprintf("runs %d-%d, %s", m.First, m.Last, m.Filter),
		Polarization: pol,
		Time:         th,
		Curve:        curve,
		Fit:          fit,
	}
	for _, l := range summaryLines(m) {
		d.Summary = append(d.Summary, export.Field{Name: l.Label, Value: l.Value})
	}
	return d
}

func viewerReport(m storage.Metadata, d export.Data) viz.Report {
	return viz.Report{
		Title:        d.Title,
		Lines:        summaryLines(m),
		Polarization: d.Polarization,
		Curve:        d.Curve,
		Fit:          d.Fit,
		Stops:        m.Stops,
		MissedRuns:   m.MissedRuns,
	}
}

func printPlots(w io.Writer, d export.Data) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, viz.HistogramPlot(d.Polarization, 80, 15, "end polarization"))
	if d.Curve != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, viz.SurvivalPlot(*d.Curve, d.Fit, 80, 15))
	}
}

// storedFit rebuilds the fitted curve of a stored report.
func storedFit(f *storage.FitSummary) *analysis.Fit {
	if f == nil {
		return nil
	}
	fit := &analysis.Fit{A: f.A, B: f.B, C: f.C}
	if f.BErr != nil {
		fit.BErr = *f.BErr
	}
	return fit
}
