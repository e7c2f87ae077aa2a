package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/destiny/pkg/models"
)

// createImportUploadHandler handles POST /api/v1/import-uploads: issues a
// pre-signed PUT URL the caller uploads their JSONL file to directly. The
// object key is not content-addressed (the content doesn't exist yet);
// createImportBatchHandler is called afterward with the returned key.
func (s *Server) createImportUploadHandler(c *echo.Context) error {
	key := fmt.Sprintf("%s/imports/%s", s.cfg.Blob.KeyPrefix, uuid.New())
	url, err := s.blobs.PresignUpload(c.Request().Context(), key)
	if err != nil {
		slog.Error("failed to presign import upload", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to presign upload")
	}
	return c.JSON(http.StatusOK, &importUploadResponse{StorageKey: key, UploadURL: url})
}

// createImportBatchHandler handles POST /api/v1/import-batches: registers
// an already-uploaded JSONL file and kicks off pkg/ingestion.Pipeline in
// the background, per spec.md §4.D. It returns immediately with the batch
// id; GET import-batches/:id reports progress.
func (s *Server) createImportBatchHandler(c *echo.Context) error {
	var req createImportBatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.StorageKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "storage_key is required")
	}

	batch, err := s.imports.CreateBatch(c.Request().Context(), req.StorageKey, req.CollisionStrategy, req.TotalEntries)
	if err != nil {
		return mapStoreError(err)
	}

	go func() {
		if err := s.pipeline.ProcessBatch(context.Background(), batch.ID); err != nil {
			slog.Error("import batch processing failed", "batch_id", batch.ID, "error", err)
		}
	}()

	return c.JSON(http.StatusAccepted, toImportBatchResponse(batch))
}

// getImportBatchHandler handles GET /api/v1/import-batches/:id.
func (s *Server) getImportBatchHandler(c *echo.Context) error {
	batch, err := s.imports.GetBatch(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, toImportBatchResponse(batch))
}

func toImportBatchResponse(b *models.ImportBatch) *importBatchResponse {
	return &importBatchResponse{
		ID:           b.ID,
		Status:       string(b.Status),
		TotalEntries: b.TotalEntries,
		CreatedAt:    b.CreatedAt,
		CompletedAt:  b.CompletedAt,
	}
}
