package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/destiny/pkg/models"
)

// defaultMaxBatchSize bounds how many reference ids PullBatch cuts into one
// robot-enhancement-batches poll when the caller doesn't override max_size.
const defaultMaxBatchSize = 100

// pullBatchHandler handles POST /api/v1/robot-enhancement-batches: the
// authenticated robot's next unit of work, or 204 if nothing is pending
// (spec.md §6, scenario 6).
func (s *Server) pullBatchHandler(c *echo.Context) error {
	robot := robotFromContext(c)

	maxSize := defaultMaxBatchSize
	if raw := c.QueryParam("max_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "max_size must be a positive integer")
		}
		maxSize = n
	}

	batch, err := s.orchestrator.PullBatch(c.Request().Context(), robot.ID, maxSize)
	if err != nil {
		return mapStoreError(err)
	}
	if batch == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, toPullBatchResponse(batch))
}

// refreshBatchHandler handles GET /api/v1/robot-enhancement-batches/:batch_id:
// re-signs a batch's URLs and returns its current state. Reference data
// itself is point-in-time and is never re-cut.
func (s *Server) refreshBatchHandler(c *echo.Context) error {
	batch, err := s.orchestrator.RefreshBatch(c.Request().Context(), c.Param("batch_id"))
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, toPullBatchResponse(batch))
}

// submitResultHandler handles
// POST /api/v1/robot-enhancement-batches/:batch_id/results.
func (s *Server) submitResultHandler(c *echo.Context) error {
	var req submitResultRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := s.orchestrator.SubmitResult(c.Request().Context(), c.Param("batch_id"), req.GlobalError)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, &submitResultResponse{
		Enhancements:      len(result.Enhancements),
		LinkedErrors:      len(result.LinkedErrors),
		ValidationErrors:  result.ValidationErrors,
		MissingReferences: result.MissingReferences,
		ReportURL:         result.ReportURL,
	})
}

func toPullBatchResponse(b *models.RobotEnhancementBatch) *pullBatchResponse {
	return &pullBatchResponse{
		BatchID:             b.ID,
		ReferenceStorageURL: b.ReferenceStorageURL,
		ResultStorageURL:    b.ResultStorageURL,
		Status:              string(b.Status),
		Deadline:            b.Deadline,
	}
}
