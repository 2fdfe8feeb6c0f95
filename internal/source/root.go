package source

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/rtree"

	"github.com/san-kum/endstat/internal/record"
)

// ROOT reads tree "<kind>end" from "<folder>/<run %012d>.root". Branches are
// matched to fields by name and converted from any scalar numeric type.
type ROOT struct {
	cfg    Config
	logger *slog.Logger
}

func NewROOT(cfg Config) *ROOT {
	if cfg.Kind == "" {
		cfg.Kind = DefaultKind
	}
	return &ROOT{cfg: cfg, logger: orDefault(cfg.Logger)}
}

func (s *ROOT) Format() string { return FormatROOT }

func (s *ROOT) Path(runID int) string {
	return filepath.Join(s.cfg.Folder, fmt.Sprintf("%012d.root", runID))
}

func (s *ROOT) Load(ctx context.Context, runID int) (*Batch, error) {
	return loadRun(ctx, s, runID)
}

func (s *ROOT) LoadPath(ctx context.Context, path string) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := groot.Open(path)
	if err != nil {
		return nil, &LoadError{RunID: -1, Path: path, Err: unavailable(err)}
	}
	defer f.Close()

	name := s.cfg.Kind + "end"
	obj, err := f.Get(name)
	if err != nil {
		return nil, &LoadError{RunID: -1, Path: path, Err: mismatch("tree %s: %v", name, err)}
	}
	tree, ok := obj.(rtree.Tree)
	if !ok {
		return nil, &LoadError{RunID: -1, Path: path, Err: mismatch("%s is a %T, not a tree", name, obj)}
	}

	b, err := s.read(tree)
	if err != nil {
		return nil, &LoadError{RunID: -1, Path: path, Err: err}
	}
	return b, nil
}

func (s *ROOT) read(tree rtree.Tree) (*Batch, error) {
	batch := &Batch{Total: tree.Entries()}

	var (
		rvars  []rtree.ReadVar
		fields []record.Field
	)
	for _, rv := range rtree.NewReadVars(tree) {
		f, ok := record.LookupField(rv.Name)
		if !ok || batch.Fields.Has(f) {
			continue
		}
		if _, ok := scalar(rv.Value); !ok {
			if _, isText := rv.Value.(*string); !(isText && f.IsString()) {
				s.logger.Debug("skipping non-scalar branch", "branch", rv.Name, "type", fmt.Sprintf("%T", rv.Value))
				continue
			}
		}
		rvars = append(rvars, rv)
		fields = append(fields, f)
		batch.Fields = batch.Fields.With(f)
	}
	batch.Fields = batch.Fields.With(record.FieldKind)
	if err := checkRequired(batch.Fields, s.cfg.Require); err != nil {
		return nil, err
	}

	batch.Records = make([]record.Record, 0, batch.Total)
	if len(rvars) == 0 {
		for i := int64(0); i < batch.Total; i++ {
			batch.Records = append(batch.Records, record.Record{Kind: s.cfg.Kind})
		}
		return batch, nil
	}

	r, err := rtree.NewReader(tree, rvars)
	if err != nil {
		return nil, mismatch("tree reader: %v", err)
	}
	defer r.Close()

	err = r.Read(func(rtree.RCtx) error {
		rec := record.Record{Kind: s.cfg.Kind}
		for i, rv := range rvars {
			if text, ok := rv.Value.(*string); ok {
				rec.Kind = *text
				continue
			}
			v, _ := scalar(rv.Value)
			fields[i].Set(&rec, v)
		}
		batch.Records = append(batch.Records, rec)
		return nil
	})
	if err != nil {
		return nil, mismatch("read tree: %v", err)
	}
	return batch, nil
}

func scalar(ptr any) (float64, bool) {
	switch v := ptr.(type) {
	case *float64:
		return *v, true
	case *float32:
		return float64(*v), true
	case *int64:
		return float64(*v), true
	case *int32:
		return float64(*v), true
	case *int16:
		return float64(*v), true
	case *int8:
		return float64(*v), true
	case *uint64:
		return float64(*v), true
	case *uint32:
		return float64(*v), true
	case *uint16:
		return float64(*v), true
	case *uint8:
		return float64(*v), true
	case *bool:
		if *v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
