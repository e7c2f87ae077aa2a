package config

// IngestionConfig tunes the reference ingestion pipeline (pkg/ingestion):
// bulk-import parsing, validation, collision resolution, and persistence.
type IngestionConfig struct {
	// FanOut is the number of import records processed concurrently per
	// ImportBatch.
	FanOut int `yaml:"fan_out"`

	// MaxRecordSizeBytes bounds a single JSONL line's size before ingestion
	// rejects it as malformed rather than attempting to parse it.
	MaxRecordSizeBytes int `yaml:"max_record_size_bytes"`
}

// DefaultIngestionConfig returns the built-in ingestion defaults.
func DefaultIngestionConfig() *IngestionConfig {
	return &IngestionConfig{
		FanOut:             32,
		MaxRecordSizeBytes: 1 << 20,
	}
}
