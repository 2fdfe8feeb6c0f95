package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/san-kum/endstat/internal/aggregate"
	"github.com/san-kum/endstat/internal/analysis"
	"github.com/san-kum/endstat/internal/config"
	"github.com/san-kum/endstat/internal/hist"
	"github.com/san-kum/endstat/internal/query"
	"github.com/san-kum/endstat/internal/record"
	"github.com/san-kum/endstat/internal/source"
	"github.com/san-kum/endstat/internal/storage"
)

// endFile summarizes one end file, by default the run-0 file of the folder.
func endFile(cmd *cobra.Command, args []string) error {
	start := time.Now()
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	filter, err := query.Parse(cfg.Filter)
	if err != nil {
		return fmt.Errorf("filter %q: %w", cfg.Filter, err)
	}

	src, err := source.NewRegistry().Get(source.Config{
		Format: cfg.Format,
		Folder: cfg.Folder,
		Kind:   cfg.Kind,
		Options: source.Options{
			Require:      record.PolarizationFields.Union(filter.Fields()),
			AllowPartial: cfg.AllowPartial,
			Filter:       filter,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	path := src.Path(0)
	if len(args) == 1 {
		path = args[0]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	b, err := src.LoadPath(ctx, path)
	if err != nil {
		return err
	}

	rep, err := singleRun(b, path, filter, cfg.PolBinning())
	if err != nil {
		return err
	}
	rep.Format = src.Format()
	rep.Elapsed = time.Since(start)
	meta := storage.Summarize(rep)

	fmt.Printf("file: %s\n", path)
	if n := len(b.Records); n > 0 && b.Fields.Has(record.FieldParticle) && !b.Prefiltered {
		fmt.Printf("last particle number: %d\n", b.Records[n-1].Particle)
	}
	if b.Partial {
		fmt.Println("file truncated, leading rows only")
	}
	if err := printSummary(os.Stdout, meta); err != nil {
		return err
	}
	printPlots(os.Stdout, exportData(meta, rep.Aggregate.PolHist, nil, nil, nil))
	return nil
}

// singleRun folds one loaded file into a report. Stop codes are only
// counted when the file has a stopID column.
func singleRun(b *source.Batch, path string, filter *query.Filter, pol hist.Binning) (*aggregate.Report, error) {
	records := b.Records
	if !b.Prefiltered {
		records = filter.Apply(records)
	}

	g, err := aggregate.NewGlobal(pol, nil)
	if err != nil {
		return nil, err
	}
	run := aggregate.RunResult{
		Status:  aggregate.StatusLoaded,
		Path:    path,
		Records: b.Total,
		Partial: b.Partial,
		PolHist: g.PolHist.Clone(),
	}
	run.Accumulate(records, b.Fields.Has(record.FieldStopID))
	if g, err = aggregate.Merge(g, run); err != nil {
		return nil, err
	}

	return &aggregate.Report{
		Filter:    filter.String(),
		Outcome:   aggregate.OutcomeComplete,
		Aggregate: g,
		Runs:      []aggregate.RunResult{run},
	}, nil
}

func listReports(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	reports, err := st.List()
	if err != nil {
		return err
	}

	if len(reports) == 0 {
		fmt.Println("no reports found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tRUNS\tLOADED\tMISSED\tFILTER\tAVG POL\tLIFETIME")
	for _, r := range reports {
		lifetime := "-"
		if r.Fit != nil {
			lifetime = fmt.Sprintf("%.4g", r.Fit.B)
		}
		fmt.Fprintf(w, "%s\t%s\t%d-%d\t%d\t%d\t%s\t%s\t%s\n",
			r.ID,
			r.Timestamp.Format("2006-01-02 15:04:05"),
			r.First, r.Last,
			r.Loaded,
			len(r.MissedRuns),
			r.Filter,
			orNA(r.AveragePolarization, "%.4f"),
			lifetime,
		)
	}
	return w.Flush()
}

func plotReport(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	doc, err := st.Document(args[0])
	if err != nil {
		return err
	}

	var curve *analysis.Curve
	if doc.Time != nil {
		c, err := analysis.Survivors(*doc.Time, doc.TotalSimulated)
		if err == nil {
			curve = &c
		}
	}
	data := exportData(doc.Metadata, doc.Polarization, doc.Time, curve, storedFit(doc.Fit))

	fmt.Printf("report: %s\n", doc.ID)
	fmt.Printf("saved: %s\n\n", doc.Timestamp.Format("2006-01-02 15:04:05"))
	if err := printSummary(os.Stdout, doc.Metadata); err != nil {
		return err
	}
	printPlots(os.Stdout, data)

	if save {
		fmt.Println()
		return writeArtifacts(outDir, doc.ID+"_", data)
	}
	return nil
}

// output returns stdout, or the file named by -o.
func output() (io.WriteCloser, error) {
	if outFile == "" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(outFile)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func exportJSON(cmd *cobra.Command, args []string) error {
	w, err := output()
	if err != nil {
		return err
	}
	if err := storage.New(dataDir).ExportJSON(w, args[0]); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func exportCSV(cmd *cobra.Command, args []string) error {
	w, err := output()
	if err != nil {
		return err
	}
	if err := storage.New(dataDir).ExportCSV(w, args[0], whichHist); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func listPresets(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRESET\tFILTER\tDESCRIPTION")
	for _, name := range config.ListPresets() {
		p := config.GetPreset(name)
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, p.Query(), p.Description)
	}
	return w.Flush()
}

func listStops(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tMEANING")
	for _, id := range record.StopIDs() {
		fmt.Fprintf(w, "%d\t%s\n", int(id), id)
	}
	return w.Flush()
}

// convertFile reads a text end file and writes it as an sqlite table or a
// root tree, keeping the numeric columns the input has.
func convertFile(cmd *cobra.Command, args []string) error {
	in, out := args[0], args[1]

	to := strings.ToLower(convertTo)
	if to == "" {
		switch strings.ToLower(filepath.Ext(out)) {
		case ".sqlite", ".sqlite3", ".db":
			to = source.FormatSQLite
		case ".root":
			to = source.FormatROOT
		default:
			return fmt.Errorf("cannot tell the format of %s, use --to sqlite|root", out)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	b, err := source.NewText(source.Config{Kind: kind, Logger: logger}).LoadPath(ctx, in)
	if err != nil {
		return err
	}

	var fields []record.Field
	for _, f := range source.NumericFields() {
		if b.Fields.Has(f) {
			fields = append(fields, f)
		}
	}
	if len(fields) == 0 {
		return fmt.Errorf("%s: no numeric columns", in)
	}

	switch to {
	case source.FormatSQLite:
		err = source.WriteSQLite(ctx, out, kind, fields, b.Records)
	case source.FormatROOT:
		err = source.WriteROOT(out, kind, fields, b.Records)
	default:
		return fmt.Errorf("%w: %q (convert writes sqlite or root)", source.ErrUnknownFormat, convertTo)
	}
	if err != nil {
		return fmt.Errorf("convert %s: %w", in, err)
	}

	logger.Debug("converted", "in", in, "out", out, "rows", len(b.Records), "columns", len(fields))
	fmt.Printf("wrote %d rows, %d columns to %s\n", len(b.Records), len(fields), out)
	return nil
}
