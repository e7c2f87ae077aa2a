package api

import "time"

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string                 `json:"status"`
	Checks map[string]HealthCheck `json:"checks"`
}

// HealthCheck is the status of a single health check component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// importUploadResponse is returned by POST /api/v1/import-uploads.
type importUploadResponse struct {
	StorageKey string `json:"storage_key"`
	UploadURL  string `json:"upload_url"`
}

// importBatchResponse is returned by the import-batch create/get endpoints.
type importBatchResponse struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	TotalEntries int        `json:"total_entries"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// registerRobotResponse is returned by POST /api/v1/robots. ClientSecret is
// returned exactly once: neither the raw secret nor anything it can be
// derived from is persisted server-side.
type registerRobotResponse struct {
	RobotID      string `json:"robot_id"`
	ClientSecret string `json:"client_secret"`
}

// pullBatchResponse is returned by POST /api/v1/robot-enhancement-batches
// and GET /api/v1/robot-enhancement-batches/:batch_id, per spec.md §6.
type pullBatchResponse struct {
	BatchID             string    `json:"batch_id"`
	ReferenceStorageURL string    `json:"reference_storage_url"`
	ResultStorageURL    string    `json:"result_storage_url"`
	Status              string    `json:"status"`
	Deadline            time.Time `json:"deadline"`
}

// submitResultResponse is returned by
// POST /api/v1/robot-enhancement-batches/:batch_id/results.
type submitResultResponse struct {
	Enhancements      int      `json:"enhancements"`
	LinkedErrors      int      `json:"linked_errors"`
	ValidationErrors  []string `json:"validation_errors,omitempty"`
	MissingReferences []string `json:"missing_references,omitempty"`
	ReportURL         string   `json:"report_url,omitempty"`
}
