// Package namemap translates protocol channel identifiers into the names the
// attached rig expects.
package namemap

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed data/default.yaml
var defaultTable []byte

// ErrEmptyID is returned when a table entry has an empty key or value.
var ErrEmptyID = errors.New("namemap: empty identifier")

// File is the on-disk table layout. Both sections share one namespace.
type File struct {
	Channels map[string]string `yaml:"channels"`
	Visemes  map[string]string `yaml:"visemes"`
}

// Mapper is an immutable identifier lookup table.
// The zero value and a nil *Mapper map every identifier to itself.
type Mapper struct {
	table map[string]string
}

// New creates a Mapper from a copy of table.
func New(table map[string]string) *Mapper {
	m := &Mapper{table: make(map[string]string, len(table))}
	for k, v := range table {
		m.table[k] = v
	}
	return m
}

var (
	defaultOnce   sync.Once
	defaultMapper *Mapper
)

// Default returns the built-in MetaHuman table. The same instance is shared.
func Default() *Mapper {
	defaultOnce.Do(func() {
		var f File
		if err := yaml.Unmarshal(defaultTable, &f); err != nil {
			panic(fmt.Sprintf("namemap: embedded table: %v", err))
		}
		m, err := f.mapper()
		if err != nil {
			panic(fmt.Sprintf("namemap: embedded table: %v", err))
		}
		defaultMapper = m
	})
	return defaultMapper
}

// Load reads a YAML table from r and layers it over base.
// A nil base starts from an empty table.
func Load(r io.Reader, base *Mapper) (*Mapper, error) {
	var f File
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("namemap: decode: %w", err)
	}
	overrides, err := f.mapper()
	if err != nil {
		return nil, err
	}
	return base.With(overrides.table), nil
}

// LoadFile reads a YAML table from path and layers it over the default table.
func LoadFile(path string) (*Mapper, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("namemap: %w", err)
	}
	defer fh.Close()
	return Load(fh, Default())
}

// Map returns the rig identifier for id, or id itself when it is not in the table.
func (m *Mapper) Map(id string) string {
	if m == nil {
		return id
	}
	if mapped, ok := m.table[id]; ok {
		return mapped
	}
	return id
}

// MapAll maps every key of weights, returning a new map.
// When two keys map to the same identifier the lexically greatest source key wins.
func (m *Mapper) MapAll(weights map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	for _, k := range slices.Sorted(maps.Keys(weights)) {
		out[m.Map(k)] = weights[k]
	}
	return out
}

// Len returns the number of entries in the table.
func (m *Mapper) Len() int {
	if m == nil {
		return 0
	}
	return len(m.table)
}

// With returns a new Mapper with overrides layered over m.
func (m *Mapper) With(overrides map[string]string) *Mapper {
	var table map[string]string
	if m != nil {
		table = m.table
	}
	out := New(table)
	for k, v := range overrides {
		out.table[k] = v
	}
	return out
}

func (f File) mapper() (*Mapper, error) {
	m := &Mapper{table: make(map[string]string, len(f.Channels)+len(f.Visemes))}
	for _, section := range []map[string]string{f.Channels, f.Visemes} {
		for k, v := range section {
			if k == "" || v == "" {
				return nil, fmt.Errorf("%w: %q -> %q", ErrEmptyID, k, v)
			}
			m.table[k] = v
		}
	}
	return m, nil
}
