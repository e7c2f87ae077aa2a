package api

import "github.com/codeready-toolchain/destiny/pkg/models"

// createImportBatchRequest is the body of POST /api/v1/import-batches.
type createImportBatchRequest struct {
	StorageKey        string                   `json:"storage_key"`
	CollisionStrategy models.CollisionStrategy `json:"collision_strategy"`
	TotalEntries      int                      `json:"total_entries"`
}

// registerRobotRequest is the body of POST /api/v1/robots.
type registerRobotRequest struct {
	BaseURL string `json:"base_url"`
	Name    string `json:"name"`
	Owner   string `json:"owner"`
}

// registerAutomationRequest is the body of POST /api/v1/robots/:robot_id/automations.
type registerAutomationRequest struct {
	Query models.Query `json:"query"`
}

// createEnhancementRequestRequest is the body of POST /api/v1/enhancement-requests.
type createEnhancementRequestRequest struct {
	RobotID       string   `json:"robot_id"`
	ReferenceIDs  []string `json:"reference_ids"`
	OriginRobotID *string  `json:"origin_robot_id,omitempty"`
}

// submitResultRequest is the body of
// POST /api/v1/robot-enhancement-batches/:batch_id/results.
// A non-empty GlobalError fails the whole batch without importing anything
// (RobotGlobalError, per spec.md §7); otherwise the repository fetches and
// validates the result blob the robot already uploaded.
type submitResultRequest struct {
	GlobalError *string `json:"error,omitempty"`
}
