package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/destiny/pkg/models"
	"github.com/codeready-toolchain/destiny/pkg/orchestrator"
)

// robotContextKey is the echo context key the verified robot is stashed
// under by robotAuthMiddleware.
const robotContextKey = "destiny_robot"

// robotFromContext returns the robot authenticated by robotAuthMiddleware.
func robotFromContext(c *echo.Context) models.Robot {
	return c.Get(robotContextKey).(models.Robot)
}

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// robotAuthMiddleware authenticates robot polling-protocol requests via
// orchestrator.VerifyRequest: the caller's identity comes from the
// X-Destiny-Robot-Id header, the signature and timestamp from the headers
// named in RobotAuthConfig. The verified robot is stashed on the echo
// context for handlers to read with robotFromContext.
func (s *Server) robotAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			robotID := c.Request().Header.Get("X-Destiny-Robot-Id")
			if robotID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing X-Destiny-Robot-Id header")
			}
			robot, err := s.robots.Get(c.Request().Context(), robotID)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "unknown robot")
			}

			body, err := io.ReadAll(c.Request().Body)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
			}
			c.Request().Body = io.NopCloser(bytes.NewReader(body))

			authCfg := s.cfg.RobotAuth
			sig := c.Request().Header.Get(authCfg.SignatureHeader)
			ts := c.Request().Header.Get(authCfg.TimestampHeader)

			if err := s.orchestrator.VerifyRequest(c.Request().Context(), *robot, body, ts, sig); err != nil {
				switch {
				case errors.Is(err, orchestrator.ErrReplayedRequest):
					return echo.NewHTTPError(http.StatusConflict, "request already processed")
				default:
					return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
				}
			}

			c.Set(robotContextKey, *robot)
			return next(c)
		}
	}
}
