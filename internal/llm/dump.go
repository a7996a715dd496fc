package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

type dumpEntry struct {
	Index      int         `yaml:"index"`
	Completion *Completion `yaml:"completion"`
}

var dumpMu sync.Mutex

// DumpCompletion appends completion to a YAML list in path, so the file
// stays one valid document across calls.
func DumpCompletion(path string, completion *Completion, index int) error {
	data, err := yaml.Marshal([]dumpEntry{{Index: index, Completion: completion}})
	if err != nil {
		return fmt.Errorf("failed to encode completion: %w", err)
	}

	dumpMu.Lock()
	defer dumpMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create dump directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open dump file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write completion: %w", err)
	}
	return nil
}

// ReadDump decodes a file written by DumpCompletion, returning the
// completions in file order.
func ReadDump(path string) ([]Completion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []dumpEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode dump: %w", err)
	}
	completions := make([]Completion, 0, len(entries))
	for _, entry := range entries {
		if entry.Completion != nil {
			completions = append(completions, *entry.Completion)
		}
	}
	return completions, nil
}
