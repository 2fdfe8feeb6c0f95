// Package source loads the end-of-trajectory records of one run.
//
// A Source knows where a run's file lives and how to decode it. Three
// formats are registered: whitespace/comma separated text with a header
// line, an SQLite table, and a ROOT tree. Every failure is returned as a
// *LoadError wrapping ErrSourceUnavailable or ErrSchemaMismatch; sources
// never panic on bad input.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/san-kum/endstat/internal/query"
	"github.com/san-kum/endstat/internal/record"
)

var (
	// ErrSourceUnavailable indicates the run file is absent or unreadable.
	ErrSourceUnavailable = errors.New("source: unavailable")

	// ErrSchemaMismatch indicates a short row, a bad number or a missing
	// required column.
	ErrSchemaMismatch = errors.New("source: schema mismatch")

	// ErrUnknownFormat indicates a format name with no registered source.
	ErrUnknownFormat = errors.New("source: unknown format")
)

// LoadError carries the run and path a load failed on.
type LoadError struct {
	RunID int
	Path  string
	Err   error
}

func (e *LoadError) Error() string {
	if e.RunID < 0 {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("run %d (%s): %v", e.RunID, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
}

func mismatch(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSchemaMismatch, fmt.Sprintf(format, args...))
}

// Batch is the decoded content of one run file.
type Batch struct {
	Records []record.Record

	// Total is the number of rows in the file, before any pushed-down
	// filter removed some of them.
	Total int64

	// Fields holds the columns the file provides.
	Fields record.FieldSet

	// Prefiltered reports that Options.Filter was already applied.
	Prefiltered bool

	// Partial reports that a truncated row ended the read early.
	Partial bool
}

type Options struct {
	// Require lists fields that must be present; a file without them is a
	// schema mismatch.
	Require record.FieldSet

	// AllowPartial keeps the rows read before a truncated or unparsable
	// row instead of rejecting the run. Text files only.
	AllowPartial bool

	// Filter may be pushed down by formats that support it.
	Filter *query.Filter
}

// Config selects and parameterizes a source.
type Config struct {
	Format string
	Folder string
	Kind   string
	Options
	Logger *slog.Logger
}

// Source loads runs of one format.
type Source interface {
	// Format names the source in the registry.
	Format() string

	// Path returns the file a run is read from.
	Path(runID int) string

	// Load reads a run. Errors are *LoadError.
	Load(ctx context.Context, runID int) (*Batch, error)

	// LoadPath reads an explicit file.
	LoadPath(ctx context.Context, path string) (*Batch, error)
}

func loadRun(ctx context.Context, s Source, runID int) (*Batch, error) {
	path := s.Path(runID)
	b, err := s.LoadPath(ctx, path)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.RunID = runID
			return nil, le
		}
		return nil, &LoadError{RunID: runID, Path: path, Err: err}
	}
	return b, nil
}

func checkRequired(have, want record.FieldSet) error {
	if missing := have.Missing(want); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, f := range missing {
			names[i] = f.String()
		}
		return mismatch("missing column(s) %s", strings.Join(names, ", "))
	}
	return nil
}

// Factory builds a source from its configuration.
type Factory func(cfg Config) (Source, error)

type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry holding the text, sqlite and root formats.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(FormatText, func(cfg Config) (Source, error) { return NewText(cfg), nil })
	r.Register(FormatSQLite, func(cfg Config) (Source, error) { return NewSQLite(cfg), nil })
	r.Register(FormatROOT, func(cfg Config) (Source, error) { return NewROOT(cfg), nil })
	return r
}

func (r *Registry) Register(name string, f Factory) {
	r.factories[strings.ToLower(name)] = f
}

func (r *Registry) Get(cfg Config) (Source, error) {
	f, ok := r.factories[strings.ToLower(cfg.Format)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrUnknownFormat, cfg.Format, strings.Join(r.List(), ", "))
	}
	if cfg.Kind == "" {
		cfg.Kind = DefaultKind
	}
	if cfg.Folder == "" {
		cfg.Folder = "."
	}
	return f(cfg)
}

func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Format names.
const (
	FormatText   = "text"
	FormatSQLite = "sqlite"
	FormatROOT   = "root"
)

// DefaultKind is the particle kind of the standard neutron end files.
const DefaultKind = "neutron"

func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
