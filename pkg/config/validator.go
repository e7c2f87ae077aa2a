package config

import "fmt"

// Validator validates configuration comprehensively with clear error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error).
func (v *Validator) ValidateAll() error {
	if err := v.validateDatabase(); err != nil {
		return fmt.Errorf("database validation failed: %w", err)
	}
	if err := v.validateBlob(); err != nil {
		return fmt.Errorf("blob validation failed: %w", err)
	}
	if err := v.validateTaskBus(); err != nil {
		return fmt.Errorf("task_bus validation failed: %w", err)
	}
	if err := v.validateDedup(); err != nil {
		return fmt.Errorf("dedup validation failed: %w", err)
	}
	if err := v.validateIngestion(); err != nil {
		return fmt.Errorf("ingestion validation failed: %w", err)
	}
	if err := v.validateRobotAuth(); err != nil {
		return fmt.Errorf("robot_auth validation failed: %w", err)
	}
	if err := v.validateAutomation(); err != nil {
		return fmt.Errorf("automation validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateDatabase() error {
	d := v.cfg.Database
	if d == nil {
		return fmt.Errorf("database configuration is nil")
	}
	if d.DSN == "" {
		return NewValidationError("database", "dsn", ErrMissingRequiredField)
	}
	if d.MaxOpenConns < 1 {
		return NewValidationError("database", "max_open_conns", fmt.Errorf("%w: must be at least 1, got %d", ErrInvalidValue, d.MaxOpenConns))
	}
	if d.MaxIdleConns < 0 || d.MaxIdleConns > d.MaxOpenConns {
		return NewValidationError("database", "max_idle_conns", fmt.Errorf("%w: must be between 0 and max_open_conns, got %d", ErrInvalidValue, d.MaxIdleConns))
	}
	return nil
}

func (v *Validator) validateBlob() error {
	b := v.cfg.Blob
	if b == nil {
		return fmt.Errorf("blob configuration is nil")
	}
	if b.Bucket == "" {
		return NewValidationError("blob", "bucket", ErrMissingRequiredField)
	}
	if b.UploadURLTTL <= 0 {
		return NewValidationError("blob", "upload_url_ttl", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if b.DownloadURLTTL <= 0 {
		return NewValidationError("blob", "download_url_ttl", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateTaskBus() error {
	q := v.cfg.TaskBus
	if q == nil {
		return fmt.Errorf("task_bus configuration is nil")
	}
	if q.WorkerCount < 1 || q.WorkerCount > 100 {
		return NewValidationError("task_bus", "worker_count", fmt.Errorf("%w: must be between 1 and 100, got %d", ErrInvalidValue, q.WorkerCount))
	}
	if q.MaxConcurrentTasks < 1 {
		return NewValidationError("task_bus", "max_concurrent_tasks", fmt.Errorf("%w: must be at least 1, got %d", ErrInvalidValue, q.MaxConcurrentTasks))
	}
	if q.PollInterval <= 0 {
		return NewValidationError("task_bus", "poll_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if q.PollIntervalJitter < 0 || q.PollIntervalJitter >= q.PollInterval {
		return NewValidationError("task_bus", "poll_interval_jitter", fmt.Errorf("%w: must be non-negative and less than poll_interval", ErrInvalidValue))
	}
	if q.TaskLeaseDuration <= q.LeaseRenewInterval {
		return NewValidationError("task_bus", "task_lease_duration", fmt.Errorf("%w: must be greater than lease_renew_interval", ErrInvalidValue))
	}
	if q.MaxRetries < 0 {
		return NewValidationError("task_bus", "max_retries", fmt.Errorf("%w: must be non-negative, got %d", ErrInvalidValue, q.MaxRetries))
	}
	return nil
}

func (v *Validator) validateDedup() error {
	d := v.cfg.Dedup
	if d == nil {
		return fmt.Errorf("dedup configuration is nil")
	}
	if len(d.TrustedUniqueIdentifierTypes) == 0 {
		return NewValidationError("dedup", "trusted_unique_identifier_types", ErrMissingRequiredField)
	}
	if d.CandidateRecallLimit < 1 {
		return NewValidationError("dedup", "candidate_recall_limit", fmt.Errorf("%w: must be at least 1, got %d", ErrInvalidValue, d.CandidateRecallLimit))
	}
	if d.DuplicateScoreThreshold <= d.UnresolvedScoreThreshold {
		return NewValidationError("dedup", "duplicate_score_threshold", fmt.Errorf("%w: must exceed unresolved_score_threshold", ErrInvalidValue))
	}
	if d.UnresolvedScoreThreshold < 0 || d.DuplicateScoreThreshold > 1 {
		return NewValidationError("dedup", "duplicate_score_threshold", fmt.Errorf("%w: thresholds must fall within [0,1]", ErrInvalidValue))
	}
	if d.AuthorOverlapSaturation < 1 {
		return NewValidationError("dedup", "author_overlap_saturation", fmt.Errorf("%w: must be at least 1, got %d", ErrInvalidValue, d.AuthorOverlapSaturation))
	}
	if d.PromotionRetryLimit < 0 {
		return NewValidationError("dedup", "promotion_retry_limit", fmt.Errorf("%w: must be non-negative, got %d", ErrInvalidValue, d.PromotionRetryLimit))
	}
	return nil
}

func (v *Validator) validateIngestion() error {
	i := v.cfg.Ingestion
	if i == nil {
		return fmt.Errorf("ingestion configuration is nil")
	}
	if i.FanOut < 1 {
		return NewValidationError("ingestion", "fan_out", fmt.Errorf("%w: must be at least 1, got %d", ErrInvalidValue, i.FanOut))
	}
	if i.MaxRecordSizeBytes < 1 {
		return NewValidationError("ingestion", "max_record_size_bytes", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateRobotAuth() error {
	r := v.cfg.RobotAuth
	if r == nil {
		return fmt.Errorf("robot_auth configuration is nil")
	}
	if r.ReplayWindow <= 0 {
		return NewValidationError("robot_auth", "replay_window", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if r.SignatureHeader == "" || r.TimestampHeader == "" {
		return NewValidationError("robot_auth", "signature_header", ErrMissingRequiredField)
	}
	return nil
}

func (v *Validator) validateAutomation() error {
	a := v.cfg.Automation
	if a == nil {
		return fmt.Errorf("automation configuration is nil")
	}
	if a.AggregationWindow <= 0 {
		return NewValidationError("automation", "aggregation_window", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}
