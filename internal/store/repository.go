package store

import (
	"context"

	"lcmeval/internal/common"
)

// Repository persists generation records and covered combinations
type Repository interface {
	SaveGeneration(ctx context.Context, record *GenerationRecord) error
	GetGeneration(ctx context.Context, id common.RecordID) (*GenerationRecord, error)
	ListGenerations(ctx context.Context, filter GenerationFilter) ([]*GenerationRecord, error)
	CountGenerations(ctx context.Context, runID common.RunID) (int64, error)

	// MarkCovered is idempotent; the first run to cover a key keeps it.
	MarkCovered(ctx context.Context, runID common.RunID, key string) error
	CoveredKeys(ctx context.Context) ([]string, error)

	WithTransaction(ctx context.Context, fn func(Repository) error) error
}
