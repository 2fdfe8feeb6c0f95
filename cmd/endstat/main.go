package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/san-kum/endstat/internal/config"
	"github.com/san-kum/endstat/internal/source"
	"github.com/san-kum/endstat/internal/viz"
)

var (
	dataDir string
	verbose bool
	logger  *slog.Logger

	// runs / end
	queryExpr    string
	folder       string
	format       string
	kind         string
	bins         int
	polMin       float64
	polMax       float64
	timeHist     bool
	timeBins     int
	timeMax      float64
	fitEnabled   bool
	fitGuess     []float64
	seedMin      float64
	seedMax      float64
	seedSteps    int
	workers      int
	allowPartial bool
	configFile   string
	preset       string
	cacheDir     string
	metricsFile  string
	outDir       string
	save         bool
	noStore      bool
	plain        bool
	theme        string

	// export
	outFile   string
	whichHist string

	// convert
	convertTo string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newRootCmd registers every command and its flags. Flag variables are
// reset to their defaults on each call.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "endstat",
		Short:         "end-state statistics for neutron tracking runs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", config.DefaultDataDir, "report store directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	runsCmd := &cobra.Command{
		Use:   "runs START END",
		Short: "aggregate the end files of a range of runs",
		Args:  cobra.ExactArgs(2),
		RunE:  runBatch,
	}
	addSourceFlags(runsCmd)
	runsCmd.Flags().IntVar(&bins, "bins", config.DefaultBins, "polarization histogram bins")
	runsCmd.Flags().Float64Var(&polMin, "pol-min", -1, "polarization histogram lower edge")
	runsCmd.Flags().Float64Var(&polMax, "pol-max", 1, "polarization histogram upper edge")
	runsCmd.Flags().BoolVar(&timeHist, "time", false, "fill the termination-time histogram")
	runsCmd.Flags().IntVar(&timeBins, "time-bins", config.DefaultTimeBins, "termination-time histogram bins")
	runsCmd.Flags().Float64Var(&timeMax, "time-max", config.DefaultTimeMax, "termination-time histogram upper edge [s]")
	runsCmd.Flags().BoolVar(&fitEnabled, "fit", false, "fit a·exp(-t/b) + c to the survivor curve")
	runsCmd.Flags().Float64SliceVar(&fitGuess, "fit-guess", nil, "initial a,b,c (default N,100,100)")
	runsCmd.Flags().Float64Var(&seedMin, "seed-min", 0, "lower lifetime of the seeding scan")
	runsCmd.Flags().Float64Var(&seedMax, "seed-max", 0, "upper lifetime of the seeding scan")
	runsCmd.Flags().IntVar(&seedSteps, "seed-steps", 0, "lifetimes scanned before the fit (0 disables)")
	runsCmd.Flags().IntVar(&workers, "workers", config.DefaultWorkers, "runs loaded concurrently")
	runsCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	runsCmd.Flags().StringVar(&preset, "preset", "", "filter preset (see presets)")
	runsCmd.Flags().StringVar(&cacheDir, "cache", "", "per-run result cache directory")
	runsCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	runsCmd.Flags().StringVar(&outDir, "out", config.DefaultOutDir, "artifact directory for --save")
	runsCmd.Flags().BoolVarP(&save, "save", "s", false, "write PNG/SVG plots and an xlsx workbook")
	runsCmd.Flags().BoolVar(&noStore, "no-store", false, "do not keep the report in the store")
	runsCmd.Flags().BoolVar(&plain, "plain", false, "print plots instead of opening the viewer")
	runsCmd.Flags().StringVar(&theme, "theme", viz.ThemeDefault.Name, fmt.Sprintf("viewer theme %v", viz.ThemeNames()))

	endCmd := &cobra.Command{
		Use:   "end [file]",
		Short: "summarize a single end file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  endFile,
	}
	addSourceFlags(endCmd)
	endCmd.Flags().IntVar(&bins, "bins", config.DefaultBins, "polarization histogram bins")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored reports",
		Args:  cobra.NoArgs,
		RunE:  listReports,
	}

	plotCmd := &cobra.Command{
		Use:   "plot ID",
		Short: "plot a stored report",
		Args:  cobra.ExactArgs(1),
		RunE:  plotReport,
	}
	plotCmd.Flags().BoolVarP(&save, "save", "s", false, "also write PNG/SVG plots and an xlsx workbook")
	plotCmd.Flags().StringVar(&outDir, "out", config.DefaultOutDir, "artifact directory for --save")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json ID",
		Short: "export a stored report to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().StringVarP(&outFile, "output", "o", "", "output file (default stdout)")

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv ID",
		Short: "export a stored histogram to CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}
	exportCSVCmd.Flags().StringVarP(&outFile, "output", "o", "", "output file (default stdout)")
	exportCSVCmd.Flags().StringVar(&whichHist, "hist", "polarization", "histogram: polarization or time")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list filter presets",
		Args:  cobra.NoArgs,
		RunE:  listPresets,
	}

	stopsCmd := &cobra.Command{
		Use:   "stops",
		Short: "list stop codes",
		Args:  cobra.NoArgs,
		RunE:  listStops,
	}

	convertCmd := &cobra.Command{
		Use:   "convert IN OUT",
		Short: "convert a text end file to sqlite or root",
		Args:  cobra.ExactArgs(2),
		RunE:  convertFile,
	}
	convertCmd.Flags().StringVar(&convertTo, "to", "", "target format: sqlite or root (default from OUT extension)")
	convertCmd.Flags().StringVar(&kind, "kind", source.DefaultKind, "particle kind, names the table or tree")

	rootCmd.AddCommand(runsCmd, endCmd, listCmd, plotCmd, exportJSONCmd, exportCSVCmd, presetsCmd, stopsCmd, convertCmd)
	return rootCmd
}

func addSourceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&queryExpr, "query", "q", "", `filter expression, e.g. "stopID == -4 and tend > 10"`)
	cmd.Flags().StringVarP(&folder, "folder", "f", config.DefaultFolder, "folder holding the end files")
	cmd.Flags().StringVar(&format, "format", config.DefaultFormat, "end file format: text, sqlite or root")
	cmd.Flags().StringVar(&kind, "kind", config.DefaultKind, "particle kind in the file name")
	cmd.Flags().BoolVar(&allowPartial, "allow-partial", false, "keep rows read before a truncated line")
}
