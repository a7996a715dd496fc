package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrCatalogNotFound = errors.New("catalog file not found")
	ErrMissingColumn   = errors.New("catalog header is missing a required column")
	ErrDuplicateAPI    = errors.New("duplicate API name in catalog")
	ErrEmptyAPIName    = errors.New("empty API name in catalog")
)

// Column names of the catalog CSV header.
const (
	ColumnName        = "api_name"
	ColumnDescription = "description"
	ColumnParameters  = "parameters"
	ColumnExamples    = "examples"
)

var columns = []string{ColumnName, ColumnDescription, ColumnParameters, ColumnExamples}

// APIEntry is one documented API of the target library.
type APIEntry struct {
	Name        string `json:"api_name"`
	Description string `json:"description"`
	Parameters  string `json:"parameters"`
	Examples    string `json:"examples"`
}

// Catalog is an immutable, ordered set of API entries keyed by name.
type Catalog struct {
	entries []APIEntry
	index   map[string]int
}

// New builds a catalog from entries, rejecting blank and duplicate names.
func New(entries []APIEntry) (*Catalog, error) {
	c := &Catalog{
		entries: make([]APIEntry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for i, entry := range entries {
		entry.Name = strings.TrimSpace(entry.Name)
		if entry.Name == "" {
			return nil, fmt.Errorf("%w: row %d", ErrEmptyAPIName, i+1)
		}
		if _, exists := c.index[entry.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateAPI, entry.Name)
		}
		c.index[entry.Name] = len(c.entries)
		c.entries = append(c.entries, entry)
	}
	return c, nil
}

// LoadCSV reads a catalog with an api_name, description, parameters and
// examples header. Extra columns are ignored.
func LoadCSV(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, path)
		}
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	entries, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return New(entries)
}

// ReadCSV decodes catalog rows from r without validating names.
func ReadCSV(r io.Reader) ([]APIEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file", ErrMissingColumn)
	}
	if err != nil {
		return nil, err
	}

	positions := make(map[string]int, len(header))
	for i, column := range header {
		positions[strings.TrimSpace(strings.TrimPrefix(column, "\ufeff"))] = i
	}
	for _, column := range columns {
		if _, ok := positions[column]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, column)
		}
	}

	field := func(record []string, column string) string {
		i := positions[column]
		if i >= len(record) {
			return ""
		}
		return record[i]
	}

	var entries []APIEntry
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, APIEntry{
			Name:        field(record, ColumnName),
			Description: field(record, ColumnDescription),
			Parameters:  field(record, ColumnParameters),
			Examples:    field(record, ColumnExamples),
		})
	}
	return entries, nil
}

// WriteCSV writes entries with the catalog header, creating parent directories.
func WriteCSV(path string, entries []APIEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create catalog: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := w.Write([]string{entry.Name, entry.Description, entry.Parameters, entry.Examples}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// Names returns API names in load order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.entries))
	for i, entry := range c.entries {
		names[i] = entry.Name
	}
	return names
}

// Details returns a fresh name -> entry map.
func (c *Catalog) Details() map[string]APIEntry {
	details := make(map[string]APIEntry, len(c.entries))
	for _, entry := range c.entries {
		details[entry.Name] = entry
	}
	return details
}

func (c *Catalog) Get(name string) (APIEntry, bool) {
	i, ok := c.index[name]
	if !ok {
		return APIEntry{}, false
	}
	return c.entries[i], true
}

func (c *Catalog) Len() int {
	return len(c.entries)
}

// Entries returns a copy of all entries in load order.
func (c *Catalog) Entries() []APIEntry {
	out := make([]APIEntry, len(c.entries))
	copy(out, c.entries)
	return out
}
