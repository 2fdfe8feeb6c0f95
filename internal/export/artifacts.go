package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wcharczuk/go-chart/v2"
)

// WriteAll writes polarization and survival charts in both formats and the
// workbook into dir, and returns the paths written. The survival chart is
// skipped when d has no curve.
func WriteAll(dir, prefix string, d Data) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	var written []string
	pol, err := HistogramChart(d.Polarization, "End polarization", "polarization")
	if err != nil {
		return nil, err
	}
	paths, err := writeChart(dir, prefix+"polarization", pol)
	written = append(written, paths...)
	if err != nil {
		return written, err
	}

	if d.Curve != nil {
		surv, err := SurvivalChart(*d.Curve, d.Fit)
		switch {
		case errors.Is(err, ErrNoData):
		case err != nil:
			return written, err
		default:
			paths, err := writeChart(dir, prefix+"survival", surv)
			written = append(written, paths...)
			if err != nil {
				return written, err
			}
		}
	}

	xlsx := filepath.Join(dir, prefix+"histograms.xlsx")
	f, err := Workbook(d)
	if err != nil {
		return written, err
	}
	defer f.Close()
	if err := f.SaveAs(xlsx); err != nil {
		return written, fmt.Errorf("export: %w", err)
	}
	return append(written, xlsx), nil
}

func writeChart(dir, name string, ch chart.Chart) ([]string, error) {
	var written []string
	for _, format := range []Format{PNG, SVG} {
		path := filepath.Join(dir, name+"."+string(format))
		out, err := os.Create(path)
		if err != nil {
			return written, err
		}
		if err := Render(ch, format, out); err != nil {
			out.Close()
			return written, fmt.Errorf("export: render %s: %w", path, err)
		}
		if err := out.Close(); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
