package config

import "time"

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// SoftDeleteRetentionDays is how many days a soft-deleted reference is
	// kept before pkg/cleanup purges its identifiers and enhancements.
	SoftDeleteRetentionDays int `yaml:"soft_delete_retention_days"`

	// OrphanedSearchDocumentTTL bounds how long a search/index document can
	// survive after its canonical reference was soft-deleted before
	// pkg/cleanup purges it as orphaned.
	OrphanedSearchDocumentTTL time.Duration `yaml:"orphaned_search_document_ttl"`

	// DeadLetterTaskTTL is the maximum age of a dead_letter_tasks row before
	// the cleanup sweep deletes it.
	DeadLetterTaskTTL time.Duration `yaml:"dead_letter_task_ttl"`

	// CleanupInterval is how often the retention sweep runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		SoftDeleteRetentionDays:   90,
		OrphanedSearchDocumentTTL: 24 * time.Hour,
		DeadLetterTaskTTL:         30 * 24 * time.Hour,
		CleanupInterval:           12 * time.Hour,
	}
}
