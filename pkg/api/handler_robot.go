package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/destiny/pkg/automation"
	"github.com/codeready-toolchain/destiny/pkg/models"
)

// registerRobotHandler handles POST /api/v1/robots: issues a fresh client
// secret, persists only its sha256 (the value VerifyRequest signs with, per
// pkg/orchestrator's VerifyRequest doc comment), and returns the raw secret
// exactly once.
func (s *Server) registerRobotHandler(c *echo.Context) error {
	var req registerRobotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.BaseURL == "" || req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "base_url and name are required")
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to generate client secret")
	}
	secretHex := hex.EncodeToString(secret)
	hash := sha256.Sum256(secret)

	robot, err := s.robots.Register(c.Request().Context(), models.Robot{
		BaseURL:          req.BaseURL,
		Name:             req.Name,
		Owner:            req.Owner,
		ClientSecretHash: hex.EncodeToString(hash[:]),
	})
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusCreated, &registerRobotResponse{
		RobotID:      robot.ID,
		ClientSecret: secretHex,
	})
}

// registerAutomationHandler handles POST /api/v1/robots/:robot_id/automations.
// The query is rejected at registration time if it never discriminates on
// the changeset subdocument (automation.Validate), per spec.md §6.
func (s *Server) registerAutomationHandler(c *echo.Context) error {
	robotID := c.Param("robot_id")
	if _, err := s.robots.Get(c.Request().Context(), robotID); err != nil {
		return mapStoreError(err)
	}

	var req registerAutomationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := automation.Validate(req.Query); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid automation query: %v", err))
	}

	a, err := s.robots.RegisterAutomation(c.Request().Context(), robotID, req.Query)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusCreated, a)
}
