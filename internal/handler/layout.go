package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bitspanel/ebs/internal/middleware"
	"github.com/bitspanel/ebs/internal/model"
	"github.com/bitspanel/ebs/internal/repository"
)

// layoutJSON is the wire form of a layout, optionally with its ordered
// elements attached.
type layoutJSON struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Title     string         `json:"title"`
	ShowTitle bool           `json:"show_title"`
	Elements  []*elementJSON `json:"elements,omitempty"`
}

// elementJSON is the viewer-facing form of an element.  Webhook URLs and
// payload templates are broadcaster secrets and are never included here.
type elementJSON struct {
	ID       int64           `json:"id"`
	Type     string          `json:"type"`
	Position int             `json:"position"`
	Image    *imageRefJSON   `json:"image,omitempty"`
	Text     *textJSON       `json:"text,omitempty"`
	Webhook  *webhookRefJSON `json:"webhook,omitempty"`
}

type imageRefJSON struct {
	ID       int64  `json:"id"`
	Filename string `json:"filename"`
	Version  int64  `json:"version"`
}

type textJSON struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

type webhookRefJSON struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	BitsProduct string `json:"bits_product"`
	Cost        int    `json:"cost"`
}

func layoutToJSON(l *model.Layout, elements []*model.Element) *layoutJSON {
	out := &layoutJSON{
		ID:        l.ID,
		Name:      l.Name,
		Title:     l.Title,
		ShowTitle: l.ShowTitle,
	}
	if elements != nil {
		out.Elements = make([]*elementJSON, 0, len(elements))
		for _, el := range elements {
			out.Elements = append(out.Elements, elementToJSON(el))
		}
	}
	return out
}

func elementToJSON(el *model.Element) *elementJSON {
	e := &elementJSON{ID: el.ID, Type: string(el.Type), Position: el.Position}
	switch {
	case el.Image != nil:
		e.Image = &imageRefJSON{
			ID:       el.Image.ID,
			Filename: el.Image.Filename,
			Version:  el.Image.DateModified.Unix(),
		}
	case el.Text != nil:
		e.Text = &textJSON{ID: el.Text.ID, Text: el.Text.Text}
	case el.Webhook != nil:
		cost, _ := el.Webhook.BitsProduct.Cost()
		e.Webhook = &webhookRefJSON{
			ID:          el.Webhook.ID,
			Name:        el.Webhook.Name,
			BitsProduct: string(el.Webhook.BitsProduct),
			Cost:        cost,
		}
	}
	return e
}

// GetCurrentLayout returns the channel's active layout with its elements in
// display order.  When the broadcaster has not activated a layout yet the
// panel has nothing to show and the layout field is null.
func (h *Handler) GetCurrentLayout(c echo.Context) error {
	channelID, err := middleware.ChannelID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication failed"})
	}
	ctx := c.Request().Context()

	b, err := h.Broadcasters.GetByID(ctx, channelID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && b.CurrentLayoutID == nil) {
		return c.JSON(http.StatusOK, echo.Map{"layout": nil})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load broadcaster"})
	}

	l, err := h.Layouts.GetByID(ctx, *b.CurrentLayoutID)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusOK, echo.Map{"layout": nil})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load layout"})
	}

	elements, err := h.Elements.ListByLayout(ctx, l.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load elements"})
	}
	return c.JSON(http.StatusOK, echo.Map{"layout": layoutToJSON(l, elements)})
}

// ListLayouts returns every layout owned by the calling broadcaster, plus
// which one is live and which one is being edited.
func (h *Handler) ListLayouts(c echo.Context) error {
	channelID, _ := middleware.ChannelID(c)
	ctx := c.Request().Context()

	b, err := h.Broadcasters.Ensure(ctx, channelID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load broadcaster"})
	}
	layouts, err := h.Layouts.ListByBroadcaster(ctx, channelID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list layouts"})
	}

	out := make([]*layoutJSON, 0, len(layouts))
	for _, l := range layouts {
		out = append(out, layoutToJSON(l, nil))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"layouts":           out,
		"current_layout_id": b.CurrentLayoutID,
		"editing_layout_id": b.EditingLayoutID,
	})
}

// GetLayout returns a single layout with its ordered elements, for the
// broadcaster's editor view.
func (h *Handler) GetLayout(c echo.Context) error {
	layoutID, err := pathID(c, "layout_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid layout id"})
	}
	ctx := c.Request().Context()

	l, err := h.Layouts.GetByID(ctx, layoutID)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "layout not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load layout"})
	}
	elements, err := h.Elements.ListByLayout(ctx, l.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load elements"})
	}
	return c.JSON(http.StatusOK, echo.Map{"layout": layoutToJSON(l, elements)})
}

type layoutRequest struct {
	Name      string `json:"name"`
	Title     string `json:"title"`
	ShowTitle bool   `json:"show_title"`
}

// CreateLayout creates an empty layout for the calling broadcaster and marks
// it as the one currently being edited.
func (h *Handler) CreateLayout(c echo.Context) error {
	channelID, _ := middleware.ChannelID(c)
	ctx := c.Request().Context()

	var req layoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.Name == "" {
		req.Name = "New layout"
	}

	if _, err := h.Broadcasters.Ensure(ctx, channelID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load broadcaster"})
	}

	l := &model.Layout{
		BroadcasterID: channelID,
		Name:          req.Name,
		Title:         req.Title,
		ShowTitle:     req.ShowTitle,
	}
	if err := h.Layouts.Create(ctx, l); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create layout"})
	}
	if err := h.Broadcasters.SetEditingLayout(ctx, channelID, l.ID); err != nil {
		c.Logger().Warnf("layout: set editing layout failed: %v", err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"layout": layoutToJSON(l, nil)})
}

// UpdateLayout renames a layout or changes its title settings.  Viewers are
// refreshed only when the layout is the active one.
func (h *Handler) UpdateLayout(c echo.Context) error {
	channelID, _ := middleware.ChannelID(c)
	layoutID, err := pathID(c, "layout_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid layout id"})
	}
	ctx := c.Request().Context()

	var req layoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	l := &model.Layout{
		ID:            layoutID,
		BroadcasterID: channelID,
		Name:          req.Name,
		Title:         req.Title,
		ShowTitle:     req.ShowTitle,
	}
	switch err := h.Layouts.Update(ctx, l); {
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "layout not found"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update layout"})
	}

	if h.isCurrentLayout(c, channelID, layoutID) {
		h.notifyRefresh(c, channelID)
	}
	return c.JSON(http.StatusOK, echo.Map{"layout": layoutToJSON(l, nil)})
}

// DeleteLayout removes a layout together with all of its elements.
func (h *Handler) DeleteLayout(c echo.Context) error {
	channelID, _ := middleware.ChannelID(c)
	layoutID, err := pathID(c, "layout_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid layout id"})
	}
	ctx := c.Request().Context()

	wasCurrent := h.isCurrentLayout(c, channelID, layoutID)

	switch err := h.Layouts.Delete(ctx, layoutID); {
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "layout not found"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to delete layout"})
	}

	if wasCurrent {
		h.notifyRefresh(c, channelID)
	}
	return c.JSON(http.StatusOK, echo.Map{"deleted": layoutID})
}

// ActivateLayout makes a layout the one viewers see and notifies open panels.
func (h *Handler) ActivateLayout(c echo.Context) error {
	channelID, _ := middleware.ChannelID(c)
	layoutID, err := pathID(c, "layout_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid layout id"})
	}
	ctx := c.Request().Context()

	if _, err := h.Broadcasters.Ensure(ctx, channelID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load broadcaster"})
	}
	if err := h.Broadcasters.SetCurrentLayout(ctx, channelID, layoutID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to activate layout"})
	}

	h.notifyRefresh(c, channelID)
	return c.JSON(http.StatusOK, echo.Map{"current_layout_id": layoutID})
}

type orderRequest struct {
	Order []int `json:"order"`
}

// ReorderLayout applies a full reordering of a layout's elements.  The order
// array maps each current slot to its new rank; an invalid array leaves the
// stored order untouched.
func (h *Handler) ReorderLayout(c echo.Context) error {
	channelID, _ := middleware.ChannelID(c)
	layoutID, err := pathID(c, "layout_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid layout id"})
	}
	ctx := c.Request().Context()

	var req orderRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	switch err := h.Elements.Reorder(ctx, layoutID, req.Order); {
	case errors.Is(err, repository.ErrInvalidOrder):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "order must be a permutation of the layout's element slots"})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "layout not found"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to reorder elements"})
	}

	if h.isCurrentLayout(c, channelID, layoutID) {
		h.notifyRefresh(c, channelID)
	}
	return c.JSON(http.StatusOK, echo.Map{"reordered": layoutID})
}

// isCurrentLayout reports whether layoutID is the broadcaster's live layout.
// Errors are treated as "not current"; the worst case is a skipped refresh.
func (h *Handler) isCurrentLayout(c echo.Context, channelID, layoutID int64) bool {
	b, err := h.Broadcasters.GetByID(c.Request().Context(), channelID)
	if err != nil || b.CurrentLayoutID == nil {
		return false
	}
	return *b.CurrentLayoutID == layoutID
}
