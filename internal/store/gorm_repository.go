package store

import (
	"context"
	"errors"
	"time"

	"lcmeval/internal/common"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultListLimit = 50

// gormRepository implements Repository using GORM
type gormRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormRepository creates a new GORM-backed repository
func NewGormRepository(db *gorm.DB, logger *zap.Logger) Repository {
	return &gormRepository{
		db:     db,
		logger: logger,
	}
}

// SaveGeneration inserts a generation record
func (r *gormRepository) SaveGeneration(ctx context.Context, record *GenerationRecord) error {
	if err := validateRecord(record); err != nil {
		return err
	}

	r.logger.Debug("Saving generation",
		zap.String("recordID", string(record.ID)),
		zap.String("runID", string(record.RunID)))

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return WrapRepositoryError(err, "save generation")
	}
	return nil
}

// GetGeneration retrieves a record by ID
func (r *gormRepository) GetGeneration(ctx context.Context, id common.RecordID) (*GenerationRecord, error) {
	var record GenerationRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.NotFoundError{Resource: "GenerationRecord", ID: string(id)}
		}
		return nil, WrapRepositoryError(err, "get generation")
	}
	return &record, nil
}

// ListGenerations returns records matching filter, newest first
func (r *gormRepository) ListGenerations(ctx context.Context, filter GenerationFilter) ([]*GenerationRecord, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).Model(&GenerationRecord{})
	if filter.RunID != "" {
		query = query.Where("run_id = ?", filter.RunID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	limit := filter.Limit
	if limit == 0 {
		limit = defaultListLimit
	}

	var records []*GenerationRecord
	err := query.Order("created_at DESC").Order("id").Limit(limit).Offset(filter.Offset).Find(&records).Error
	if err != nil {
		return nil, WrapRepositoryError(err, "list generations")
	}

	r.logger.Debug("Listed generations", zap.Int("count", len(records)))
	return records, nil
}

// CountGenerations counts records of a run, or of all runs for an empty runID
func (r *gormRepository) CountGenerations(ctx context.Context, runID common.RunID) (int64, error) {
	query := r.db.WithContext(ctx).Model(&GenerationRecord{})
	if runID != "" {
		query = query.Where("run_id = ?", runID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, WrapRepositoryError(err, "count generations")
	}
	return count, nil
}

// MarkCovered inserts the key, ignoring keys that are already covered
func (r *gormRepository) MarkCovered(ctx context.Context, runID common.RunID, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	covered := CoveredCombination{Key: key, RunID: runID, CoveredAt: time.Now()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoNothing: true}).
		Create(&covered).Error
	if err != nil {
		return WrapRepositoryError(err, "mark covered")
	}
	return nil
}

// CoveredKeys returns every covered key in key order
func (r *gormRepository) CoveredKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := r.db.WithContext(ctx).Model(&CoveredCombination{}).Order("key").Pluck("key", &keys).Error
	if err != nil {
		return nil, WrapRepositoryError(err, "covered keys")
	}
	return keys, nil
}

// WithTransaction executes fn within a database transaction
func (r *gormRepository) WithTransaction(ctx context.Context, fn func(Repository) error) error {
	r.logger.Debug("Starting transaction")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &gormRepository{
			db:     tx,
			logger: r.logger,
		}

		if err := fn(txRepo); err != nil {
			r.logger.Debug("Transaction failed, rolling back", zap.Error(err))
			return err
		}
		return nil
	})
}
