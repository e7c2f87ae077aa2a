package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// createEnhancementRequestHandler handles POST /api/v1/enhancement-requests.
func (s *Server) createEnhancementRequestHandler(c *echo.Context) error {
	var req createEnhancementRequestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.RobotID == "" || len(req.ReferenceIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "robot_id and reference_ids are required")
	}

	out, err := s.orchestrator.CreateRequest(c.Request().Context(), req.RobotID, req.ReferenceIDs, req.OriginRobotID)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

// getEnhancementRequestHandler handles GET /api/v1/enhancement-requests/:id.
func (s *Server) getEnhancementRequestHandler(c *echo.Context) error {
	out, err := s.orchestrator.GetRequest(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, out)
}
