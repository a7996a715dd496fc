package store

import (
	"sort"
	"strings"
	"time"

	"lcmeval/internal/common"
)

// keySeparator joins API names in persisted combination keys. Postgres text
// columns reject NUL, so the in-memory coverage key is not reused here.
const keySeparator = ","

// GenerationRecord is one task/code generation for a sampled combination
type GenerationRecord struct {
	ID               common.RecordID         `json:"id" gorm:"primaryKey;type:varchar(36)"`
	RunID            common.RunID            `json:"run_id" gorm:"type:varchar(36);not null;index"`
	CombinationKey   string                  `json:"combination_key" gorm:"type:text;not null;index"`
	APIs             []string                `json:"apis" gorm:"type:text;serializer:json"`
	Task             string                  `json:"task" gorm:"type:text"`
	Code             string                  `json:"code" gorm:"type:text"`
	Think            string                  `json:"think,omitempty" gorm:"type:text"`
	Status           common.GenerationStatus `json:"status" gorm:"type:varchar(20);not null;default:'succeeded'"`
	Error            string                  `json:"error,omitempty" gorm:"type:text"`
	PromptTokens     int                     `json:"prompt_tokens"`
	CompletionTokens int                     `json:"completion_tokens"`
	CreatedAt        time.Time               `json:"created_at" gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP"`
}

// CoveredCombination marks a combination as exercised by some run
type CoveredCombination struct {
	Key       string       `json:"key" gorm:"primaryKey;type:text"`
	RunID     common.RunID `json:"run_id" gorm:"type:varchar(36);not null;index"`
	CoveredAt time.Time    `json:"covered_at" gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP"`
}

// GenerationFilter narrows ListGenerations
type GenerationFilter struct {
	RunID  common.RunID             `json:"run_id,omitempty"`
	Status *common.GenerationStatus `json:"status,omitempty"`
	Limit  int                      `json:"limit,omitempty"`
	Offset int                      `json:"offset,omitempty"`
}

// CombinationKey returns the persisted key for a set of API names.
func CombinationKey(apis []string) string {
	sorted := make([]string, len(apis))
	copy(sorted, apis)
	sort.Strings(sorted)
	return strings.Join(sorted, keySeparator)
}

// SplitKey reverses CombinationKey.
func SplitKey(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, keySeparator)
}

func validateRecord(record *GenerationRecord) error {
	switch {
	case record == nil:
		return common.ValidationError{Field: "record", Message: "must not be nil"}
	case !common.ID(record.ID).IsValid():
		return common.ValidationError{Field: "id", Message: "must be a valid UUID"}
	case record.RunID == "":
		return common.ValidationError{Field: "run_id", Message: "is required"}
	case record.CombinationKey == "":
		return common.ValidationError{Field: "combination_key", Message: "is required"}
	case !record.Status.IsValid():
		return common.ValidationError{Field: "status", Message: "must be succeeded or failed"}
	}
	return nil
}

func validateFilter(filter GenerationFilter) error {
	if filter.Limit < 0 {
		return common.ValidationError{Field: "limit", Message: "cannot be negative"}
	}
	if filter.Offset < 0 {
		return common.ValidationError{Field: "offset", Message: "cannot be negative"}
	}
	if filter.Status != nil && !filter.Status.IsValid() {
		return common.ValidationError{Field: "status", Message: "must be succeeded or failed"}
	}
	return nil
}
