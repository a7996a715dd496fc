package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Parameter is one documented argument or return value.
type Parameter struct {
	Name        string  `json:"name"`
	Type        *string `json:"type"`
	Description string  `json:"description"`
}

// ParameterSection maps a field-list heading such as "Parameters" or
// "Returns" to its entries.
type ParameterSection map[string][]Parameter

// RawDetail is the crawled documentation of one API.
type RawDetail struct {
	Description string             `json:"description"`
	Parameters  []ParameterSection `json:"parameters"`
	Examples    []string           `json:"examples"`
}

// RawAPI is one object of a crawled page file: API name -> detail.
type RawAPI map[string]RawDetail

// WriteRaw writes a page file as an indented JSON list.
func WriteRaw(path string, apis []RawAPI) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create raw directory: %w", err)
	}
	if apis == nil {
		apis = []RawAPI{}
	}
	data, err := json.MarshalIndent(apis, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode raw page: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadRaw reads one page file written by WriteRaw.
func ReadRaw(path string) ([]RawAPI, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var apis []RawAPI
	if err := json.Unmarshal(data, &apis); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return apis, nil
}

// ToEntry flattens a crawled detail into a catalog row.
func (d RawDetail) ToEntry(name string) APIEntry {
	params := "[]"
	if len(d.Parameters) > 0 {
		if data, err := json.Marshal(d.Parameters); err == nil {
			params = string(data)
		}
	}
	return APIEntry{
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(d.Description),
		Parameters:  params,
		Examples:    strings.Join(d.Examples, "\n"),
	}
}

// MergeRaw reads every *.json page file in rawDir and returns one entry per
// API name, keeping the first occurrence in file name order. Files that
// cannot be read or decoded are logged and skipped.
func MergeRaw(rawDir string, logger *zap.Logger) ([]APIEntry, error) {
	files, err := filepath.Glob(filepath.Join(rawDir, "*.json"))
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(rawDir); err != nil {
		return nil, fmt.Errorf("failed to read raw directory: %w", err)
	}
	sort.Strings(files)

	seen := make(map[string]struct{})
	var merged []APIEntry
	duplicates := 0

	for _, file := range files {
		apis, err := ReadRaw(file)
		if err != nil {
			logger.Warn("Skipping unreadable page file", zap.String("file", file), zap.Error(err))
			continue
		}

		for _, api := range apis {
			names := make([]string, 0, len(api))
			for name := range api {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				entry := api[name].ToEntry(name)
				if entry.Name == "" {
					continue
				}
				if _, dup := seen[entry.Name]; dup {
					duplicates++
					continue
				}
				seen[entry.Name] = struct{}{}
				merged = append(merged, entry)
			}
		}
	}

	logger.Info("Merged raw API pages",
		zap.Int("files", len(files)),
		zap.Int("apis", len(merged)),
		zap.Int("duplicates_dropped", duplicates))
	return merged, nil
}
