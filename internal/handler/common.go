// Package handler defines the HTTP handlers of the extension backend.  The
// guard middleware has already authenticated the request and checked resource
// ownership by the time any handler in this package runs; handlers only
// translate between HTTP and the stores, and trigger viewer refreshes after
// committed mutations.
package handler

import (
	"context"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/bitspanel/ebs/internal/model"
	"github.com/bitspanel/ebs/internal/relay"
)

// BroadcasterStore persists broadcaster rows.  Implemented by
// repository.BroadcasterRepo.
type BroadcasterStore interface {
	Ensure(ctx context.Context, id int64) (*model.Broadcaster, error)
	GetByID(ctx context.Context, id int64) (*model.Broadcaster, error)
	SetCurrentLayout(ctx context.Context, broadcasterID, layoutID int64) error
	SetEditingLayout(ctx context.Context, broadcasterID, layoutID int64) error
}

// LayoutStore persists layouts.  Implemented by repository.LayoutRepo.
type LayoutStore interface {
	Create(ctx context.Context, l *model.Layout) error
	GetByID(ctx context.Context, id int64) (*model.Layout, error)
	ListByBroadcaster(ctx context.Context, broadcasterID int64) ([]*model.Layout, error)
	Update(ctx context.Context, l *model.Layout) error
	Delete(ctx context.Context, id int64) error
}

// ElementStore persists elements and their payloads.  Implemented by
// repository.ElementRepo.
type ElementStore interface {
	ListByLayout(ctx context.Context, layoutID int64) ([]*model.Element, error)
	GetElement(ctx context.Context, id int64) (*model.Element, error)
	GetImage(ctx context.Context, id int64) (*model.Image, error)
	WebhookByID(ctx context.Context, id int64) (*model.Webhook, error)
	CreateText(ctx context.Context, layoutID int64, text string) (*model.Element, error)
	CreateImage(ctx context.Context, layoutID int64, filename string, data []byte) (*model.Element, error)
	CreateWebhook(ctx context.Context, layoutID int64, w *model.Webhook) (*model.Element, error)
	UpdateText(ctx context.Context, textID int64, text string) error
	UpdateImage(ctx context.Context, imageID int64, filename string, data []byte) error
	UpdateWebhook(ctx context.Context, w *model.Webhook) error
	DeleteElement(ctx context.Context, elementID int64) (int64, error)
	Reorder(ctx context.Context, layoutID int64, order []int) error
}

// Notifier pushes refresh messages to viewers.  Implemented by
// twitch.Notifier.
type Notifier interface {
	NotifyRefresh(ctx context.Context, channelID int64) error
}

// Handler bundles the stores and outbound collaborators used by the HTTP
// layer.
type Handler struct {
	Broadcasters BroadcasterStore
	Layouts      LayoutStore
	Elements     ElementStore
	Notifier     Notifier
	Relay        *relay.Relay
}

// New constructs a Handler and panics if any dependency is nil.
func New(broadcasters BroadcasterStore, layouts LayoutStore, elements ElementStore, notifier Notifier, rl *relay.Relay) *Handler {
	if broadcasters == nil || layouts == nil || elements == nil || notifier == nil || rl == nil {
		panic("nil dependency passed to handler.New")
	}
	return &Handler{
		Broadcasters: broadcasters,
		Layouts:      layouts,
		Elements:     elements,
		Notifier:     notifier,
		Relay:        rl,
	}
}

// pathID parses a numeric path parameter.
func pathID(c echo.Context, name string) (int64, error) {
	return strconv.ParseInt(c.Param(name), 10, 64)
}

// notifyRefresh sends a pub/sub refresh after a committed mutation.  The
// mutation has already succeeded, so a failure here is logged and swallowed:
// viewers will catch up on their next natural reload.  The send deliberately
// does not inherit the request context; a viewer disconnecting must not
// cancel the notification, only the notifier's own timeout bounds it.
func (h *Handler) notifyRefresh(c echo.Context, channelID int64) {
	if err := h.Notifier.NotifyRefresh(context.Background(), channelID); err != nil {
		c.Logger().Warnf("pubsub: refresh for channel %d failed: %v", channelID, err)
	}
}
