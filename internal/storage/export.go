package storage

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/san-kum/endstat/internal/hist"
)

// Document is a stored report with its histograms inlined.
type Document struct {
	Metadata
	Polarization hist.Histogram  `json:"polarization"`
	Time         *hist.Histogram `json:"time,omitempty"`
}

func (s *Store) Document(id string) (*Document, error) {
	meta, err := s.Load(id)
	if err != nil {
		return nil, err
	}
	doc := &Document{Metadata: *meta}
	if doc.Polarization, err = s.LoadHistogram(id, PolarizationFile); err != nil {
		return nil, err
	}
	if meta.TimeBinning != nil {
		th, err := s.LoadHistogram(id, TimeFile)
		if err != nil {
			return nil, err
		}
		doc.Time = &th
	}
	return doc, nil
}

func (s *Store) ExportJSON(w io.Writer, id string) error {
	doc, err := s.Document(id)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// ExportCSV writes the named histogram, "polarization" or "time".
func (s *Store) ExportCSV(w io.Writer, id, which string) error {
	var name string
	switch which {
	case "", "polarization", "pol":
		name = PolarizationFile
	case "time":
		name = TimeFile
	default:
		return fmt.Errorf("storage: unknown histogram %q (have polarization, time)", which)
	}
	h, err := s.LoadHistogram(id, name)
	if err != nil {
		return err
	}
	return WriteHistCSV(w, h)
}
