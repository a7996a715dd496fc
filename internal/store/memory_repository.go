package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"lcmeval/internal/common"
)

// MemoryRepository keeps records in process memory. It backs runs with the
// database disabled and doubles as the repository in tests.
type MemoryRepository struct {
	mu          sync.RWMutex
	txMu        sync.Mutex
	generations map[common.RecordID]*GenerationRecord
	covered     map[string]CoveredCombination
	saveError   error
	markError   error
}

// NewMemoryRepository creates an empty MemoryRepository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		generations: make(map[common.RecordID]*GenerationRecord),
		covered:     make(map[string]CoveredCombination),
	}
}

// SaveGeneration stores a copy of record
func (m *MemoryRepository) SaveGeneration(_ context.Context, record *GenerationRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveError != nil {
		return m.saveError
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	m.generations[record.ID] = cloneRecord(record)
	return nil
}

// GetGeneration returns a copy of the record with id
func (m *MemoryRepository) GetGeneration(_ context.Context, id common.RecordID) (*GenerationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.generations[id]
	if !ok {
		return nil, common.NotFoundError{Resource: "GenerationRecord", ID: string(id)}
	}
	return cloneRecord(record), nil
}

// ListGenerations mirrors the ordering and paging of the GORM repository
func (m *MemoryRepository) ListGenerations(_ context.Context, filter GenerationFilter) ([]*GenerationRecord, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	m.mu.RLock()
	var records []*GenerationRecord
	for _, record := range m.generations {
		if filter.RunID != "" && record.RunID != filter.RunID {
			continue
		}
		if filter.Status != nil && record.Status != *filter.Status {
			continue
		}
		records = append(records, cloneRecord(record))
	}
	m.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})

	limit := filter.Limit
	if limit == 0 {
		limit = defaultListLimit
	}
	if filter.Offset >= len(records) {
		return []*GenerationRecord{}, nil
	}
	records = records[filter.Offset:]
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// CountGenerations counts records of a run, or of all runs for an empty runID
func (m *MemoryRepository) CountGenerations(_ context.Context, runID common.RunID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, record := range m.generations {
		if runID == "" || record.RunID == runID {
			count++
		}
	}
	return count, nil
}

// MarkCovered records key once; later calls keep the first run
func (m *MemoryRepository) MarkCovered(_ context.Context, runID common.RunID, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.markError != nil {
		return m.markError
	}
	if _, exists := m.covered[key]; !exists {
		m.covered[key] = CoveredCombination{Key: key, RunID: runID, CoveredAt: time.Now()}
	}
	return nil
}

// CoveredKeys returns every covered key in key order
func (m *MemoryRepository) CoveredKeys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.covered))
	for key := range m.covered {
		keys = append(keys, key)
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}

// WithTransaction runs fn and restores the previous state if it fails.
// Transactions are serialized with each other but not with plain calls.
func (m *MemoryRepository) WithTransaction(_ context.Context, fn func(Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	generations := make(map[common.RecordID]*GenerationRecord, len(m.generations))
	for id, record := range m.generations {
		generations[id] = record
	}
	covered := make(map[string]CoveredCombination, len(m.covered))
	for key, c := range m.covered {
		covered[key] = c
	}
	m.mu.RUnlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.generations = generations
		m.covered = covered
		m.mu.Unlock()
		return err
	}
	return nil
}

// SetSaveError makes SaveGeneration fail with err
func (m *MemoryRepository) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

// SetMarkError makes MarkCovered fail with err
func (m *MemoryRepository) SetMarkError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markError = err
}

func cloneRecord(record *GenerationRecord) *GenerationRecord {
	clone := *record
	clone.APIs = append([]string(nil), record.APIs...)
	return &clone
}
