// Package params reads the startup parameter file and overlays its values
// onto tool attributes.
//
// The file is TOML. Each table names a tool and each key one of its
// attributes:
//
//	[tempcon]
//	control_temperature = -95.0
//
//	[exposure]
//	filetype = "FITS"
//
// Dotted keys at the top level (tempcon.control_temperature = -95.0) are
// equivalent. Entries keep file order.
package params

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Entry is one tool attribute value from the parameter file.
type Entry struct {
	Tool  string
	Attr  string
	Value interface{}
}

// Key returns the dotted tool.attr path.
func (e Entry) Key() string {
	return e.Tool + "." + e.Attr
}

// SetFunc writes one attribute. Apply calls it once per entry.
type SetFunc func(ctx context.Context, toolName, attr string, value interface{}) error

// Store holds the parsed parameter entries.
type Store struct {
	path    string
	entries []Entry
	index   map[string]int
}

// New creates an empty store.
func New() *Store {
	return &Store{index: make(map[string]int)}
}

// Load reads a parameter file. A missing file yields an empty store and an
// error matching os.ErrNotExist so callers can treat it as a warning.
func Load(path string) (*Store, error) {
	s := New()
	s.path = path

	raw := make(map[string]interface{})
	md, err := toml.DecodeFile(path, &raw)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, fmt.Errorf("parameter file %s: %w", path, err)
		}
		return nil, fmt.Errorf("failed to parse parameter file %s: %w", path, err)
	}

	var errs []error
	for _, key := range md.Keys() {
		if md.Type(key...) == "Hash" {
			continue
		}
		if len(key) != 2 {
			errs = append(errs, fmt.Errorf("%s: expected tool.attribute key", key.String()))
			continue
		}
		value, ok := lookup(raw, key)
		if !ok {
			continue
		}
		s.put(Entry{Tool: key[0], Attr: key[1], Value: value})
	}
	if len(errs) > 0 {
		return s, errors.Join(errs...)
	}
	return s, nil
}

// Path returns the file the store was loaded from.
func (s *Store) Path() string {
	return s.path
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return len(s.entries)
}

// Entries returns the entries in file order.
func (s *Store) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

// Get returns the value for a tool.attr key, or def when absent.
func (s *Store) Get(key string, def interface{}) interface{} {
	if i, ok := s.index[key]; ok {
		return s.entries[i].Value
	}
	return def
}

// Set records a value for a tool.attr key, replacing any previous one.
func (s *Store) Set(key string, value interface{}) error {
	toolName, attr, ok := strings.Cut(key, ".")
	if !ok || toolName == "" || attr == "" || strings.Contains(attr, ".") {
		return fmt.Errorf("%s: expected tool.attribute key", key)
	}
	s.put(Entry{Tool: toolName, Attr: attr, Value: value})
	return nil
}

// Apply writes every entry through set, in file order. Failures do not stop
// the overlay; they are joined into the returned error.
func (s *Store) Apply(ctx context.Context, set SetFunc) error {
	var errs []error
	for _, e := range s.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := set(ctx, e.Tool, e.Attr, e.Value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Key(), err))
		}
	}
	return errors.Join(errs...)
}

// Save writes the entries as TOML tables, one per tool.
func (s *Store) Save(path string) error {
	tables := make(map[string]map[string]interface{})
	for _, e := range s.entries {
		if tables[e.Tool] == nil {
			tables[e.Tool] = make(map[string]interface{})
		}
		tables[e.Tool][e.Attr] = e.Value
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create parameter folder: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create parameter file: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(tables); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) put(e Entry) {
	if i, ok := s.index[e.Key()]; ok {
		s.entries[i] = e
		return
	}
	s.index[e.Key()] = len(s.entries)
	s.entries = append(s.entries, e)
}

func lookup(raw map[string]interface{}, key toml.Key) (interface{}, bool) {
	var cur interface{} = raw
	for _, part := range key {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
