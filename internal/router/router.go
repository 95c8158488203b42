// Package router defines how HTTP routes are registered for the extension
// backend and which guard stack protects each group.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/bitspanel/ebs/internal/auth"
	"github.com/bitspanel/ebs/internal/handler"
	"github.com/bitspanel/ebs/internal/middleware"
)

// Register wires every route onto the Echo instance.  Three guard levels
// exist:
//
//   - public: no token at all (health check, image bytes embedded in <img>
//     tags).
//   - authenticated: any valid extension JWT.  Viewer tokens carry the
//     channel they are watching, so ownership checks still apply.
//   - broadcaster: valid JWT with role=broadcaster, plus ownership of every
//     resource id in the path.
//
// Every id-bearing route uses the canonical param names (layout_id,
// element_id, image_id, text_id, webhook_id) so the ownership middleware can
// resolve each one.
func Register(e *echo.Echo, h *handler.Handler, v *auth.Verifier, resolver middleware.OwnershipResolver, authBypass bool) {
	// Public routes.
	e.GET("/healthz", handler.Health)
	e.GET("/element/image/:image_id", h.GetImage)

	// Any authenticated caller: panel rendering and paid redemptions.  The
	// ownership guard pins the webhook to the channel the token was issued
	// for, so a receipt from one channel cannot fire another channel's
	// webhook.
	viewer := e.Group("")
	viewer.Use(middleware.Authenticate(v, authBypass))
	viewer.Use(middleware.RequireOwnership(resolver))
	viewer.GET("/layout", h.GetCurrentLayout)
	viewer.POST("/webhook/:webhook_id", h.Redeem)

	// Broadcaster-only configuration surface.
	bc := e.Group("")
	bc.Use(middleware.Authenticate(v, authBypass))
	bc.Use(middleware.RequireRole(auth.RoleBroadcaster))
	bc.Use(middleware.RequireOwnership(resolver))

	bc.GET("/layouts", h.ListLayouts)
	bc.POST("/layout", h.CreateLayout)
	bc.GET("/layout/:layout_id", h.GetLayout)
	bc.PUT("/layout/:layout_id", h.UpdateLayout)
	bc.DELETE("/layout/:layout_id", h.DeleteLayout)
	bc.POST("/layout/:layout_id/activate", h.ActivateLayout)
	bc.POST("/layout/:layout_id/order", h.ReorderLayout)

	bc.POST("/layout/:layout_id/text", h.CreateText)
	bc.POST("/layout/:layout_id/image", h.CreateImage)
	bc.POST("/layout/:layout_id/webhook", h.CreateWebhook)

	bc.GET("/element/:element_id", h.GetElement)
	bc.PUT("/element/:element_id/text/:text_id", h.UpdateText)
	bc.PUT("/element/:element_id/image/:image_id", h.UpdateImage)
	bc.PUT("/element/:element_id/webhook/:webhook_id", h.UpdateWebhook)
	bc.POST("/element/:element_id/webhook/:webhook_id/test", h.TestRedeem)
	bc.DELETE("/element/:element_id", h.DeleteElement)
}
