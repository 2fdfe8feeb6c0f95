package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/endstat/internal/hist"
)

const (
	DefaultFolder    = "."
	DefaultFormat    = "text"
	DefaultKind      = "neutron"
	DefaultBins      = 200
	DefaultTimeBins  = 100
	DefaultTimeMax   = 1000.0
	DefaultWorkers   = 1
	DefaultDataDir   = "data"
	DefaultOutDir    = "."
	DefaultSeedSteps = 50

	EnvPrefix = "ENDSTAT_"
)

type Config struct {
	Folder       string `yaml:"folder" env:"FOLDER" validate:"required"`
	Format       string `yaml:"format" env:"FORMAT" validate:"oneof=text sqlite root"`
	Kind         string `yaml:"kind" env:"KIND" validate:"required,alphanum"`
	Filter       string `yaml:"filter" env:"FILTER"`
	AllowPartial bool   `yaml:"allow_partial" env:"ALLOW_PARTIAL"`
	Workers      int    `yaml:"workers" env:"WORKERS" validate:"min=1,max=256"`

	Polarization HistConfig `yaml:"polarization" envPrefix:"POL_"`
	Time         TimeConfig `yaml:"time" envPrefix:"TIME_"`
	Fit          FitConfig  `yaml:"fit" envPrefix:"FIT_"`

	CacheDir    string `yaml:"cache_dir" env:"CACHE_DIR"`
	MetricsFile string `yaml:"metrics_file" env:"METRICS_FILE"`
	DataDir     string `yaml:"data_dir" env:"DATA_DIR"`
	OutDir      string `yaml:"out_dir" env:"OUT_DIR"`
	Store       bool   `yaml:"store" env:"STORE"`
}

type HistConfig struct {
	Min  float64 `yaml:"min" env:"MIN"`
	Max  float64 `yaml:"max" env:"MAX" validate:"gtfield=Min"`
	Bins int     `yaml:"bins" env:"BINS" validate:"min=1,max=100000"`
}

type TimeConfig struct {
	Enabled bool    `yaml:"enabled" env:"ENABLED"`
	Bins    int     `yaml:"bins" env:"BINS" validate:"min=1,max=100000"`
	Max     float64 `yaml:"max" env:"MAX" validate:"gt=0"`
}

type FitConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Guess is a, b, c; empty uses a = N, b = 100, c = 100.
	Guess []float64 `yaml:"guess,omitempty" env:"GUESS" validate:"omitempty,len=3"`
	// Seed scans b over [SeedMin, SeedMax] before the fit when SeedSteps > 1.
	SeedMin   float64 `yaml:"seed_min" env:"SEED_MIN" validate:"gte=0"`
	SeedMax   float64 `yaml:"seed_max" env:"SEED_MAX"`
	SeedSteps int     `yaml:"seed_steps" env:"SEED_STEPS" validate:"gte=0"`
}

func DefaultConfig() *Config {
	return &Config{
		Folder:  DefaultFolder,
		Format:  DefaultFormat,
		Kind:    DefaultKind,
		Filter:  "all",
		Workers: DefaultWorkers,
		Polarization: HistConfig{
			Min:  -1,
			Max:  1,
			Bins: DefaultBins,
		},
		Time: TimeConfig{
			Bins: DefaultTimeBins,
			Max:  DefaultTimeMax,
		},
		DataDir: DefaultDataDir,
		OutDir:  DefaultOutDir,
		Store:   true,
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := LoadInto(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadInto overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func LoadInto(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyEnv overlays ENDSTAT_* variables; unset variables change nothing.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges. The filter expression is checked when the
// batch is built.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		if c.Fit.SeedSteps > 1 && !(c.Fit.SeedMax > c.Fit.SeedMin && c.Fit.SeedMin > 0) {
			return fmt.Errorf("config: fit seed range [%g, %g] must be positive and increasing", c.Fit.SeedMin, c.Fit.SeedMax)
		}
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
	}
	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}

func (c *Config) PolBinning() hist.Binning {
	return hist.Binning{Min: c.Polarization.Min, Max: c.Polarization.Max, Bins: c.Polarization.Bins}
}

// TimeBinning is nil unless the time histogram or the fit is enabled.
func (c *Config) TimeBinning() *hist.Binning {
	if !c.Time.Enabled && !c.Fit.Enabled {
		return nil
	}
	return &hist.Binning{Min: 0, Max: c.Time.Max, Bins: c.Time.Bins}
}

func (c *Config) FitGuess() *[3]float64 {
	if len(c.Fit.Guess) != 3 {
		return nil
	}
	return &[3]float64{c.Fit.Guess[0], c.Fit.Guess[1], c.Fit.Guess[2]}
}
