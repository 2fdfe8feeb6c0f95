package source

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/rtree"

	"github.com/san-kum/endstat/internal/record"
)

// NumericFields returns every field except kind, in schema order.
func NumericFields() []record.Field {
	var out []record.Field
	for _, f := range record.Fields() {
		if !f.IsString() {
			out = append(out, f)
		}
	}
	return out
}

func orAllNumeric(fields []record.Field) []record.Field {
	if len(fields) == 0 {
		return NumericFields()
	}
	return fields
}

// WriteText writes records in the text layout read by Text. A nil field
// list writes every numeric field.
func WriteText(w io.Writer, fields []record.Field, records []record.Record) error {
	fields = orAllNumeric(fields)
	bw := bufio.NewWriter(w)

	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.String()
	}
	if _, err := bw.WriteString(strings.Join(names, " ") + "\n"); err != nil {
		return err
	}

	cells := make([]string, len(fields))
	for i := range records {
		for j, f := range fields {
			if f.IsString() {
				cells[j] = records[i].Kind
				continue
			}
			cells[j] = strconv.FormatFloat(f.Value(&records[i]), 'g', -1, 64)
		}
		if _, err := bw.WriteString(strings.Join(cells, " ") + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteSQLite creates path and stores records in table "<kind>end".
func WriteSQLite(ctx context.Context, path, kind string, fields []record.Field, records []record.Record) error {
	fields = orAllNumeric(fields)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	db, err := sql.Open("sqlite", filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("open sqlite db: %w", err)
	}
	defer db.Close()

	table := quoteIdent(kind + "end")
	defs := make([]string, len(fields))
	cols := make([]string, len(fields))
	marks := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = quoteIdent(f.String())
		marks[i] = "?"
		typ := "REAL"
		if f.IsString() {
			typ = "TEXT"
		}
		defs[i] = cols[i] + " " + typ
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return fmt.Errorf("drop table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "CREATE TABLE "+table+" ("+strings.Join(defs, ", ")+")"); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+table+" ("+strings.Join(cols, ", ")+") VALUES ("+strings.Join(marks, ", ")+")")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(fields))
	for i := range records {
		for j, f := range fields {
			if f.IsString() {
				args[j] = records[i].Kind
			} else {
				args[j] = f.Value(&records[i])
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// WriteROOT creates path holding tree "<kind>end" with one float64 branch
// per numeric field.
func WriteROOT(path, kind string, fields []record.Field, records []record.Record) error {
	var numeric []record.Field
	for _, f := range orAllNumeric(fields) {
		if !f.IsString() {
			numeric = append(numeric, f)
		}
	}

	out, err := groot.Create(path)
	if err != nil {
		return fmt.Errorf("create root file: %w", err)
	}
	closed := false
	defer func() {
		if !closed {
			_ = out.Close()
		}
	}()

	values := make([]float64, len(numeric))
	wvars := make([]rtree.WriteVar, len(numeric))
	for i, field := range numeric {
		wvars[i] = rtree.WriteVar{Name: field.String(), Value: &values[i]}
	}

	w, err := rtree.NewWriter(out, kind+"end", wvars)
	if err != nil {
		return fmt.Errorf("create tree: %w", err)
	}
	for i := range records {
		for j, field := range numeric {
			values[j] = field.Value(&records[i])
		}
		if _, err := w.Write(); err != nil {
			_ = w.Close()
			return fmt.Errorf("write entry %d: %w", i, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close tree: %w", err)
	}
	closed = true
	return out.Close()
}
