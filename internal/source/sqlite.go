package source

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/san-kum/endstat/internal/record"
	_ "modernc.org/sqlite"
)

// SQLite reads table "<kind>end" from "<folder>/<run %012d><kind>end.sqlite".
// Columns are matched to fields by name. When the filter can be expressed
// in SQL it is pushed into the query and the total comes from COUNT(*).
type SQLite struct {
	cfg    Config
	logger *slog.Logger
}

func NewSQLite(cfg Config) *SQLite {
	if cfg.Kind == "" {
		cfg.Kind = DefaultKind
	}
	return &SQLite{cfg: cfg, logger: orDefault(cfg.Logger)}
}

func (s *SQLite) Format() string { return FormatSQLite }

func (s *SQLite) Path(runID int) string {
	return filepath.Join(s.cfg.Folder, fmt.Sprintf("%012d%send.sqlite", runID, s.cfg.Kind))
}

func (s *SQLite) Load(ctx context.Context, runID int) (*Batch, error) {
	return loadRun(ctx, s, runID)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func openReadOnly(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, unavailable(err)
	}
	db, err := sql.Open("sqlite", "file:"+filepath.Clean(path)+"?mode=ro")
	if err != nil {
		return nil, unavailable(err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, unavailable(err)
	}
	return db, nil
}

func (s *SQLite) LoadPath(ctx context.Context, path string) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, err := openReadOnly(path)
	if err != nil {
		return nil, &LoadError{RunID: -1, Path: path, Err: err}
	}
	defer db.Close()

	b, err := s.read(ctx, db)
	if err != nil {
		return nil, &LoadError{RunID: -1, Path: path, Err: err}
	}
	return b, nil
}

func (s *SQLite) read(ctx context.Context, db *sql.DB) (*Batch, error) {
	table := quoteIdent(s.cfg.Kind + "end")

	names, err := tableColumns(ctx, db, table)
	if err != nil {
		return nil, err
	}

	batch := &Batch{}
	byField := make(map[record.Field]string, len(names))
	var selected []record.Field
	for _, name := range names {
		f, ok := record.LookupField(name)
		if !ok {
			continue
		}
		if _, dup := byField[f]; dup {
			continue
		}
		byField[f] = quoteIdent(name)
		selected = append(selected, f)
		batch.Fields = batch.Fields.With(f)
	}
	batch.Fields = batch.Fields.With(record.FieldKind)
	if err := checkRequired(batch.Fields, s.cfg.Require); err != nil {
		return nil, err
	}

	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&batch.Total); err != nil {
		return nil, mismatch("count rows: %v", err)
	}

	cols := make([]string, len(selected))
	for i, f := range selected {
		cols[i] = byField[f]
	}
	if len(cols) == 0 {
		cols = []string{"1"}
	}
	stmt := "SELECT " + strings.Join(cols, ", ") + " FROM " + table
	var args []any
	if clause, where, ok := s.cfg.Filter.SQL(func(f record.Field) (string, bool) {
		col, ok := byField[f]
		return col, ok
	}); ok {
		stmt += " WHERE " + clause
		args = where
		batch.Prefiltered = true
	}
	s.logger.Debug("sqlite query", "stmt", stmt)

	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, mismatch("query: %v", err)
	}
	defer rows.Close()

	scan := make([]any, len(selected))
	nums := make([]sql.NullFloat64, len(selected))
	strs := make([]sql.NullString, len(selected))
	for i, f := range selected {
		if f.IsString() {
			scan[i] = &strs[i]
		} else {
			scan[i] = &nums[i]
		}
	}
	if len(selected) == 0 {
		var one int
		scan = []any{&one}
	}

	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return nil, mismatch("scan: %v", err)
		}
		rec := record.Record{Kind: s.cfg.Kind}
		for i, f := range selected {
			if f.IsString() {
				if strs[i].Valid {
					rec.Kind = strs[i].String
				}
				continue
			}
			if !nums[i].Valid {
				return nil, mismatch("column %s: NULL value", f)
			}
			f.Set(&rec, nums[i].Float64)
		}
		batch.Records = append(batch.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mismatch("read rows: %v", err)
	}
	return batch, nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT * FROM "+table+" LIMIT 0")
	if err != nil {
		return nil, mismatch("table %s: %v", table, err)
	}
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, mismatch("table %s: %v", table, err)
	}
	return names, nil
}
