package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/san-kum/endstat/internal/analysis"
	"github.com/san-kum/endstat/internal/hist"
)

const (
	SheetSummary      = "Summary"
	SheetPolarization = "Polarization"
	SheetTime         = "Time"
	SheetSurvival     = "Survival"
)

// Field is one line of the summary sheet.
type Field struct {
	Name  string
	Value any
}

// Data is what the artifacts are drawn from.
type Data struct {
	Title        string
	Summary      []Field
	Polarization hist.Histogram
	Time         *hist.Histogram
	Curve        *analysis.Curve
	Fit          *analysis.Fit
}

// Workbook builds an xlsx file with a summary sheet and one sheet per
// histogram. The caller closes it.
func Workbook(d Data) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		f.Close()
		return nil, err
	}

	rows := [][]any{{"name", "value"}}
	if d.Title != "" {
		rows = append(rows, []any{"title", d.Title})
	}
	for _, fd := range d.Summary {
		rows = append(rows, []any{fd.Name, fd.Value})
	}
	if err := writeRows(f, SheetSummary, rows); err != nil {
		f.Close()
		return nil, err
	}

	if err := histSheet(f, SheetPolarization, d.Polarization); err != nil {
		f.Close()
		return nil, err
	}
	if d.Time != nil {
		if err := histSheet(f, SheetTime, *d.Time); err != nil {
			f.Close()
			return nil, err
		}
	}
	if d.Curve != nil {
		rows := [][]any{{"t", "survivors", "fit"}}
		for i, t := range d.Curve.Times {
			row := []any{t, d.Curve.Survivors[i], nil}
			if d.Fit != nil {
				row[2] = d.Fit.Eval(t)
			}
			rows = append(rows, row)
		}
		if _, err := f.NewSheet(SheetSurvival); err != nil {
			f.Close()
			return nil, err
		}
		if err := writeRows(f, SheetSurvival, rows); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func histSheet(f *excelize.File, sheet string, h hist.Histogram) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	rows := make([][]any, 0, len(h.Counts)+1)
	rows = append(rows, []any{"low", "high", "center", "count"})
	for i, c := range h.Counts {
		rows = append(rows, []any{h.Binning.Edge(i), h.Binning.Edge(i + 1), h.Binning.Center(i), c})
	}
	return writeRows(f, sheet, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("export: %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func WriteWorkbook(w io.Writer, d Data) error {
	f, err := Workbook(d)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteTo(w)
	return err
}
