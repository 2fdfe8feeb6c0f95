package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/san-kum/endstat/internal/aggregate"
	"github.com/san-kum/endstat/internal/cache"
	"github.com/san-kum/endstat/internal/config"
	"github.com/san-kum/endstat/internal/export"
	"github.com/san-kum/endstat/internal/metrics"
	"github.com/san-kum/endstat/internal/optim"
	"github.com/san-kum/endstat/internal/source"
	"github.com/san-kum/endstat/internal/storage"
	"github.com/san-kum/endstat/internal/viz"
)

// resolveConfig layers defaults, preset, config file, environment and the
// flags the user actually set, in that order.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if preset != "" {
		if err := cfg.ApplyPreset(preset); err != nil {
			return nil, err
		}
	}
	if configFile != "" {
		if err := config.LoadInto(configFile, cfg); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("query", func() { cfg.Filter = queryExpr })
	set("folder", func() { cfg.Folder = folder })
	set("format", func() { cfg.Format = format })
	set("kind", func() { cfg.Kind = kind })
	set("allow-partial", func() { cfg.AllowPartial = allowPartial })
	set("bins", func() { cfg.Polarization.Bins = bins })
	set("pol-min", func() { cfg.Polarization.Min = polMin })
	set("pol-max", func() { cfg.Polarization.Max = polMax })
	set("time", func() { cfg.Time.Enabled = timeHist })
	set("time-bins", func() { cfg.Time.Bins = timeBins })
	set("time-max", func() { cfg.Time.Max = timeMax })
	set("fit", func() { cfg.Fit.Enabled = fitEnabled })
	set("fit-guess", func() { cfg.Fit.Guess = fitGuess })
	set("seed-min", func() { cfg.Fit.SeedMin = seedMin })
	set("seed-max", func() { cfg.Fit.SeedMax = seedMax })
	set("seed-steps", func() { cfg.Fit.SeedSteps = seedSteps })
	set("workers", func() { cfg.Workers = workers })
	set("cache", func() { cfg.CacheDir = cacheDir })
	set("metrics-file", func() { cfg.MetricsFile = metricsFile })
	set("out", func() { cfg.OutDir = outDir })
	set("no-store", func() { cfg.Store = !noStore })
	if cmd.Root().PersistentFlags().Changed("data") {
		cfg.DataDir = dataDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseRange(args []string) (first, last int, err error) {
	if first, err = strconv.Atoi(args[0]); err != nil {
		return 0, 0, fmt.Errorf("START %q: not an integer", args[0])
	}
	if last, err = strconv.Atoi(args[1]); err != nil {
		return 0, 0, fmt.Errorf("END %q: not an integer", args[1])
	}
	if first < 0 {
		return 0, 0, fmt.Errorf("START must not be negative, got %d", first)
	}
	return first, last, nil
}

func batchConfig(cfg *config.Config, first, last int) aggregate.Config {
	acfg := aggregate.Config{
		First:  first,
		Last:   last,
		Filter: cfg.Filter,
		Source: source.Config{
			Format:  cfg.Format,
			Folder:  cfg.Folder,
			Kind:    cfg.Kind,
			Options: source.Options{AllowPartial: cfg.AllowPartial},
		},
		PolBinning:  cfg.PolBinning(),
		TimeBinning: cfg.TimeBinning(),
		Fit:         cfg.Fit.Enabled,
		FitGuess:    cfg.FitGuess(),
		Workers:     cfg.Workers,
	}
	if cfg.Fit.SeedSteps > 1 {
		acfg.SeedLifetimes = optim.Linspace(cfg.Fit.SeedMin, cfg.Fit.SeedMax, cfg.Fit.SeedSteps)
	}
	return acfg
}

func runBatch(cmd *cobra.Command, args []string) error {
	first, last, err := parseRange(args)
	if err != nil {
		return err
	}
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := []aggregate.Option{aggregate.WithLogger(logger)}
	var batchMetrics *metrics.Batch
	if cfg.MetricsFile != "" {
		batchMetrics = metrics.NewBatch()
		opts = append(opts, aggregate.WithObserver(batchMetrics))
	}
	if cfg.CacheDir != "" {
		c, err := cache.Open(cfg.CacheDir, logger)
		if err != nil {
			return err
		}
		defer c.Close()
		opts = append(opts, aggregate.WithCache(c))
	}

	agg, err := aggregate.New(batchConfig(cfg, first, last), opts...)
	if err != nil {
		return err
	}
	logger.Debug("batch", "first", first, "last", last, "format", cfg.Format,
		"filter", agg.Filter().String(), "workers", cfg.Workers)

	rep, runErr := agg.Run(ctx)
	if rep == nil {
		return runErr
	}

	meta := storage.Summarize(rep)
	if err := printSummary(os.Stdout, meta); err != nil {
		return err
	}

	if batchMetrics != nil {
		batchMetrics.Finish(rep)
		if err := batchMetrics.WriteFile(cfg.MetricsFile); err != nil {
			logger.Warn("metrics file not written", "path", cfg.MetricsFile, "err", err)
		}
	}

	if runErr != nil {
		if rep.Outcome == aggregate.OutcomeCanceled {
			return fmt.Errorf("interrupted after %d of %d runs: %w", len(rep.Runs), rep.Requested(), runErr)
		}
		return runErr
	}
	if rep.Outcome == aggregate.OutcomeNoRunsLoaded {
		return nil
	}

	if cfg.Store {
		id, err := storage.New(cfg.DataDir).Save(rep)
		if err != nil {
			return fmt.Errorf("store report: %w", err)
		}
		fmt.Printf("\nsaved report %s\n", id)
	}

	data := exportData(meta, rep.Aggregate.PolHist, rep.Aggregate.TimeHist, rep.Curve, rep.Survival)
	if save {
		return writeArtifacts(cfg.OutDir, fmt.Sprintf("runs_%d-%d_", first, last), data)
	}

	if !plain && isatty.IsTerminal(os.Stdout.Fd()) {
		return viz.Run(viewerReport(meta, data), theme)
	}
	printPlots(os.Stdout, data)
	return nil
}

func writeArtifacts(dir, prefix string, data export.Data) error {
	paths, err := export.WriteAll(dir, prefix, data)
	for _, p := range paths {
		fmt.Printf("wrote %s\n", p)
	}
	if errors.Is(err, export.ErrNoData) {
		return nil
	}
	return err
}
