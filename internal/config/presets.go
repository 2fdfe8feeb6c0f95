package config

import (
	"fmt"
	"sort"

	"github.com/san-kum/endstat/internal/query"
)

// Preset is a named filter over stop codes.
type Preset struct {
	Filter      string
	Description string

	query *query.Filter
}

// Query returns the compiled filter.
func (p *Preset) Query() *query.Filter { return p.query }

var Presets = map[string]*Preset{
	"all": {
		Filter:      "all",
		Description: "every record",
	},
	"decayed": {
		Filter:      "stopID == -4",
		Description: "particles that decayed",
	},
	"absorbed": {
		Filter:      "stopID == 1 or stopID == 2",
		Description: "absorbed in bulk material or on a surface",
	},
	"lost": {
		Filter:      "stopID == -1 or stopID == -2",
		Description: "still flying at the end or left the geometry",
	},
	"errors": {
		Filter:      "stopID == -3 or stopID == -5 or stopID == -6 or stopID == -7",
		Description: "integration, placement, collision or material errors",
	},
}

func init() {
	for _, p := range Presets {
		p.query = query.MustParse(p.Filter)
	}
}

func GetPreset(name string) *Preset {
	p, ok := Presets[name]
	if !ok {
		return nil
	}
	return p
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyPreset replaces the filter with the preset's.
func (c *Config) ApplyPreset(name string) error {
	p := GetPreset(name)
	if p == nil {
		return fmt.Errorf("unknown preset %q (have %v)", name, ListPresets())
	}
	c.Filter = p.Filter
	return nil
}
