package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/san-kum/endstat/internal/query"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Polarization.Bins != 200 {
		t.Errorf("expected 200 bins, got %d", cfg.Polarization.Bins)
	}
	if cfg.Format != "text" {
		t.Errorf("expected text format, got %s", cfg.Format)
	}
	if cfg.TimeBinning() != nil {
		t.Error("time histogram should be off by default")
	}
}

func TestTimeBinningFollowsFit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fit.Enabled = true
	b := cfg.TimeBinning()
	if b == nil {
		t.Fatal("fit should enable the time histogram")
	}
	if b.Bins != DefaultTimeBins || b.Max != DefaultTimeMax || b.Min != 0 {
		t.Errorf("unexpected time binning %+v", *b)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"sqlite", func(c *Config) { c.Format = "sqlite" }, true},
		{"unknown format", func(c *Config) { c.Format = "hdf5" }, false},
		{"zero bins", func(c *Config) { c.Polarization.Bins = 0 }, false},
		{"reversed range", func(c *Config) { c.Polarization.Min = 1; c.Polarization.Max = -1 }, false},
		{"zero workers", func(c *Config) { c.Workers = 0 }, false},
		{"bad kind", func(c *Config) { c.Kind = "neu tron" }, false},
		{"guess of two", func(c *Config) { c.Fit.Guess = []float64{1, 2} }, false},
		{"guess of three", func(c *Config) { c.Fit.Guess = []float64{1000, 50, 10} }, true},
		{"negative time max", func(c *Config) { c.Time.Max = -5 }, false},
		{"seed range", func(c *Config) { c.Fit.SeedSteps = 10; c.Fit.SeedMin = 10; c.Fit.SeedMax = 500 }, true},
		{"empty seed range", func(c *Config) { c.Fit.SeedSteps = 10 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endstat.yaml")
	cfg := DefaultConfig()
	cfg.Folder = "/data/runs"
	cfg.Filter = "stopID == -4"
	cfg.Fit.Enabled = true
	cfg.Fit.Guess = []float64{1000, 50, 10}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Folder != cfg.Folder || loaded.Filter != cfg.Filter || !loaded.Fit.Enabled {
		t.Errorf("round trip lost values: %+v", loaded)
	}
	if g := loaded.FitGuess(); g == nil || g[1] != 50 {
		t.Errorf("guess = %v", g)
	}
}

func TestLoadIntoKeepsUnsetKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	if err := os.WriteFile(path, []byte("format: root\npolarization:\n  bins: 50\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.Filter = "stopID == 1"
	if err := LoadInto(path, cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Format != "root" || cfg.Polarization.Bins != 50 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Filter != "stopID == 1" || cfg.Polarization.Max != 1 {
		t.Errorf("unset keys overwritten: %+v", cfg)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("ENDSTAT_FOLDER", "/scratch/out")
	t.Setenv("ENDSTAT_WORKERS", "8")
	t.Setenv("ENDSTAT_POL_BINS", "40")
	t.Setenv("ENDSTAT_FIT_ENABLED", "true")
	t.Setenv("ENDSTAT_FIT_GUESS", "900,60,5")

	cfg := DefaultConfig()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Folder != "/scratch/out" || cfg.Workers != 8 || cfg.Polarization.Bins != 40 {
		t.Errorf("env not applied: %+v", cfg)
	}
	if !cfg.Fit.Enabled || len(cfg.Fit.Guess) != 3 || cfg.Fit.Guess[0] != 900 {
		t.Errorf("fit env not applied: %+v", cfg.Fit)
	}
	if cfg.Kind != DefaultKind || cfg.Polarization.Min != -1 {
		t.Errorf("unset variables changed values: %+v", cfg)
	}

	t.Setenv("ENDSTAT_WORKERS", "many")
	if err := ApplyEnv(DefaultConfig()); err == nil {
		t.Error("expected parse error")
	}
}

func TestPresets(t *testing.T) {
	for _, name := range ListPresets() {
		p := GetPreset(name)
		if p == nil {
			t.Fatalf("preset %s listed but missing", name)
		}
		if _, err := query.Parse(p.Filter); err != nil {
			t.Errorf("preset %s filter %q: %v", name, p.Filter, err)
		}
		if p.Query() == nil {
			t.Errorf("preset %s not compiled", name)
		}
	}
	if got := GetPreset("absorbed").Query().String(); got != "(stopID == 1 or stopID == 2)" {
		t.Errorf("absorbed compiles to %q", got)
	}

	cfg := DefaultConfig()
	if err := cfg.ApplyPreset("decayed"); err != nil {
		t.Fatal(err)
	}
	if cfg.Filter != "stopID == -4" {
		t.Errorf("expected decayed filter, got %q", cfg.Filter)
	}
	if err := cfg.ApplyPreset("nonexistent"); err == nil {
		t.Error("expected error for unknown preset")
	}
	if GetPreset("nonexistent") != nil {
		t.Error("expected nil for nonexistent preset")
	}
}
