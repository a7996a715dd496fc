package store

import (
	"fmt"

	"gorm.io/gorm"
)

// RunMigrations creates the generation and coverage tables
func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(&GenerationRecord{}, &CoveredCombination{}); err != nil {
		return fmt.Errorf("failed to auto-migrate store tables: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_generation_records_run_created ON generation_records(run_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_generation_records_status ON generation_records(status)",
	}
	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// DropTables drops the store tables (for testing cleanup)
func DropTables(db *gorm.DB) error {
	for _, table := range []string{"covered_combinations", "generation_records"} {
		if err := db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", table)).Error; err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}
	return nil
}

// GetTableStats returns row counts per store table
func GetTableStats(db *gorm.DB) (map[string]int64, error) {
	stats := make(map[string]int64)

	var generations int64
	if err := db.Model(&GenerationRecord{}).Count(&generations).Error; err != nil {
		return nil, fmt.Errorf("failed to count generation records: %w", err)
	}
	stats["generation_records"] = generations

	var covered int64
	if err := db.Model(&CoveredCombination{}).Count(&covered).Error; err != nil {
		return nil, fmt.Errorf("failed to count covered combinations: %w", err)
	}
	stats["covered_combinations"] = covered

	return stats, nil
}
