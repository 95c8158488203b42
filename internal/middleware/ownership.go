package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/bitspanel/ebs/internal/model"
	"github.com/bitspanel/ebs/internal/repository"
)

// OwnershipResolver resolves which broadcaster owns a path-addressed
// resource.  repository.OwnershipRepo implements it; tests substitute fakes.
type OwnershipResolver interface {
	OwnerOf(ctx context.Context, kind model.ResourceKind, id int64) (int64, error)
}

// pathParamKinds maps route parameter names to the resource kind whose
// ownership chain must be walked when the parameter is present.
var pathParamKinds = map[string]model.ResourceKind{
	"layout_id":  model.KindLayout,
	"element_id": model.KindElement,
	"image_id":   model.KindImage,
	"text_id":    model.KindText,
	"webhook_id": model.KindWebhook,
}

// RequireOwnership returns a middleware that checks, for every recognised id
// parameter in the matched route, that the addressed resource transitively
// belongs to the authenticated broadcaster.  Every supplied id must pass; a
// resource that does not exist fails with 404 rather than 403 so a caller
// probing for ids cannot distinguish "deleted" from "someone else's" only by
// guessing.  Routes without id parameters pass through untouched.
func RequireOwnership(resolver OwnershipResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			channelID, err := ChannelID(c)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
			}

			for _, name := range c.ParamNames() {
				kind, ok := pathParamKinds[name]
				if !ok {
					continue
				}
				id, err := strconv.ParseInt(c.Param(name), 10, 64)
				if err != nil {
					return c.JSON(http.StatusBadRequest, echo.Map{"error": fmt.Sprintf("invalid %s", name)})
				}
				owner, err := resolver.OwnerOf(c.Request().Context(), kind, id)
				if err != nil {
					if errors.Is(err, repository.ErrNotFound) {
						return c.JSON(http.StatusNotFound, echo.Map{"error": fmt.Sprintf("%s %d not found", kind, id)})
					}
					return c.JSON(http.StatusInternalServerError, echo.Map{"error": "ownership lookup failed"})
				}
				if owner != channelID {
					c.Logger().Debugf("%s %d owned by %d, not %d", kind, id, owner, channelID)
					return c.JSON(http.StatusForbidden, echo.Map{
						"error": fmt.Sprintf("%s with id=%d is not owned by broadcaster", kind, id),
					})
				}
			}
			return next(c)
		}
	}
}
