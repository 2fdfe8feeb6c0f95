package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/san-kum/endstat/internal/record"
)

const maxLineSize = 1 << 20

// Text reads "<folder>/<run %012d><kind>end.out" files: one header line of
// field names, then one particle per line. Columns are separated by
// whitespace and/or commas and matched to fields by name; unknown columns
// are skipped.
type Text struct {
	cfg    Config
	logger *slog.Logger
}

func NewText(cfg Config) *Text {
	if cfg.Kind == "" {
		cfg.Kind = DefaultKind
	}
	return &Text{cfg: cfg, logger: orDefault(cfg.Logger)}
}

func (t *Text) Format() string { return FormatText }

func (t *Text) Path(runID int) string {
	return filepath.Join(t.cfg.Folder, fmt.Sprintf("%012d%send.out", runID, t.cfg.Kind))
}

func (t *Text) Load(ctx context.Context, runID int) (*Batch, error) {
	return loadRun(ctx, t, runID)
}

func (t *Text) LoadPath(ctx context.Context, path string) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{RunID: -1, Path: path, Err: unavailable(err)}
	}
	defer f.Close()

	b, err := t.Decode(f)
	if err != nil {
		return nil, &LoadError{RunID: -1, Path: path, Err: err}
	}
	if b.Partial {
		t.logger.Warn("truncated run file, keeping leading rows", "path", path, "rows", len(b.Records))
	}
	return b, nil
}

func isSeparator(r rune) bool {
	return r == ' ' || r == '\t' || r == ',' || r == '\r'
}

// Decode parses a whole text stream.
func (t *Text) Decode(r io.Reader) (*Batch, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	var (
		columns []record.Field
		valid   []bool
		batch   = &Batch{}
		line    int
	)

	for sc.Scan() {
		line++
		cells := splitCells(sc.Text())
		if len(cells) == 0 {
			continue
		}

		if columns == nil {
			columns = make([]record.Field, len(cells))
			valid = make([]bool, len(cells))
			for i, name := range cells {
				f, ok := record.LookupField(name)
				columns[i], valid[i] = f, ok
				if ok {
					batch.Fields = batch.Fields.With(f)
				}
			}
			batch.Fields = batch.Fields.With(record.FieldKind)
			if err := checkRequired(batch.Fields, t.cfg.Require); err != nil {
				return nil, err
			}
			continue
		}

		rec, err := t.parseRow(cells, columns, valid)
		if err != nil {
			if t.cfg.AllowPartial {
				batch.Partial = true
				break
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		batch.Records = append(batch.Records, rec)
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, mismatch("line %d: %v", line+1, err)
		}
		return nil, unavailable(err)
	}
	if columns == nil {
		return nil, mismatch("missing header line")
	}

	batch.Total = int64(len(batch.Records))
	return batch, nil
}

func splitCells(s string) []string {
	var cells []string
	start := -1
	for i, r := range s {
		if isSeparator(r) {
			if start >= 0 {
				cells = append(cells, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		cells = append(cells, s[start:])
	}
	return cells
}

func (t *Text) parseRow(cells []string, columns []record.Field, valid []bool) (record.Record, error) {
	rec := record.Record{Kind: t.cfg.Kind}
	if len(cells) < len(columns) {
		return rec, mismatch("short row: %d of %d columns", len(cells), len(columns))
	}
	for i, f := range columns {
		if !valid[i] {
			continue
		}
		if f.IsString() {
			rec.Kind = cells[i]
			continue
		}
		v, err := strconv.ParseFloat(cells[i], 64)
		if err != nil {
			return rec, mismatch("column %s: bad number %q", f, cells[i])
		}
		f.Set(&rec, v)
	}
	return rec, nil
}
