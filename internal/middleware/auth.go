package middleware // middleware provides reusable request guards for the HTTP layer

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bitspanel/ebs/internal/auth"
)

// Context keys under which the authenticated identity is stored.  Handlers
// and downstream guards read these via c.Get().
const (
	ctxChannelID = "channel_id"
	ctxRole      = "role"
)

// Identity injected when the auth bypass switch is enabled.  The values match
// what local frontend tooling expects when running against a dev backend.
const (
	bypassChannelID int64 = 12345678
	bypassRole            = auth.RoleBroadcaster
)

// Authenticate returns an Echo middleware that validates the Bearer extension
// JWT and injects the resolved channel id and role into the request context.
// When bypass is true verification is skipped entirely and a fixed
// broadcaster identity is injected instead; config.Load refuses to enable
// that switch in production.
func Authenticate(v *auth.Verifier, bypass bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if bypass {
				c.Set(ctxChannelID, bypassChannelID)
				c.Set(ctxRole, bypassRole)
				return next(c)
			}

			id, err := v.VerifyHeader(c.Request().Header.Get("Authorization"))
			if err != nil {
				c.Logger().Debugf("authentication failed: %v", err)
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication failed"})
			}

			// Debug-level trace of who the request resolved to; useful when
			// chasing ownership rejections.
			c.Logger().Debugf("authenticated request for channel_id=%d role=%s", id.ChannelID, id.Role)

			c.Set(ctxChannelID, id.ChannelID)
			c.Set(ctxRole, id.Role)
			return next(c)
		}
	}
}

// ChannelID extracts the authenticated channel id from the context.  It
// returns an error when no identity was injected, which means the route is
// missing the Authenticate guard.
func ChannelID(c echo.Context) (int64, error) {
	v, ok := c.Get(ctxChannelID).(int64)
	if !ok {
		return 0, errors.New("no authenticated channel in context")
	}
	return v, nil
}

// Role extracts the authenticated role from the context, or "" when absent.
func Role(c echo.Context) string {
	v, _ := c.Get(ctxRole).(string)
	return v
}
