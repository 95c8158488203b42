package handler

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/bitspanel/ebs/internal/middleware"
	"github.com/bitspanel/ebs/internal/model"
	"github.com/bitspanel/ebs/internal/repository"
)

// maxImageBytes caps uploaded image payloads at 1 MiB.
const maxImageBytes = 1 << 20

type textRequest struct {
	Text string `json:"text"`
}

type imageRequest struct {
	Filename string `json:"filename"`
	// Data is the base64-encoded PNG body.
	Data string `json:"data"`
}

type webhookRequest struct {
	Name                   string         `json:"name"`
	URL                    string         `json:"url"`
	BitsProduct            string         `json:"bits_product"`
	Data                   map[string]any `json:"data"`
	IncludeTransactionData bool           `json:"include_transaction_data"`
	Cooldown               int            `json:"cooldown"`
}

func (r *imageRequest) decode() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(r.Data)
	if err != nil {
		return nil, errors.New("data must be base64-encoded")
	}
	if len(raw) == 0 || len(raw) > maxImageBytes {
		return nil, errors.New("image must be between 1 byte and 1 MiB")
	}
	return raw, nil
}

func (r *webhookRequest) toModel() (*model.Webhook, error) {
	u, err := url.Parse(r.URL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, errors.New("url must be an absolute https URL")
	}
	product := model.BitsProduct(r.BitsProduct)
	if !product.Valid() {
		return nil, errors.New("unknown bits product")
	}
	if r.Cooldown < 0 {
		return nil, errors.New("cooldown must be zero or positive")
	}
	data := r.Data
	if data == nil {
		data = map[string]any{}
	}
	return &model.Webhook{
		Name:                   r.Name,
		URL:                    r.URL,
		BitsProduct:            product,
		Data:                   data,
		IncludeTransactionData: r.IncludeTransactionData,
		Cooldown:               r.Cooldown,
	}, nil
}

// CreateText appends a text element to a layout.
func (h *Handler) CreateText(c echo.Context) error {
	layoutID, err := pathID(c, "layout_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid layout id"})
	}
	var req textRequest
	if err := c.Bind(&req); err != nil || req.Text == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "text is required"})
	}

	el, err := h.Elements.CreateText(c.Request().Context(), layoutID, req.Text)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "layout not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create element"})
	}

	h.refreshIfCurrent(c, layoutID)
	return c.JSON(http.StatusCreated, echo.Map{"element": elementToJSON(el)})
}

// CreateImage appends an image element to a layout.  The body carries the
// PNG bytes base64-encoded.
func (h *Handler) CreateImage(c echo.Context) error {
	layoutID, err := pathID(c, "layout_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid layout id"})
	}
	var req imageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	raw, err := req.decode()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	el, err := h.Elements.CreateImage(c.Request().Context(), layoutID, req.Filename, raw)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "layout not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create element"})
	}

	h.refreshIfCurrent(c, layoutID)
	return c.JSON(http.StatusCreated, echo.Map{"element": elementToJSON(el)})
}

// CreateWebhook appends a bits-redeemable webhook element to a layout.
func (h *Handler) CreateWebhook(c echo.Context) error {
	layoutID, err := pathID(c, "layout_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid layout id"})
	}
	var req webhookRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	wh, err := req.toModel()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	el, err := h.Elements.CreateWebhook(c.Request().Context(), layoutID, wh)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "layout not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create element"})
	}

	h.refreshIfCurrent(c, layoutID)
	return c.JSON(http.StatusCreated, echo.Map{"element": elementToJSON(el)})
}

// GetElement returns a single element with its full payload, including the
// webhook URL and template only the owner may see.  Ownership has already
// been checked by the guard chain.
func (h *Handler) GetElement(c echo.Context) error {
	elementID, err := pathID(c, "element_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid element id"})
	}

	el, err := h.Elements.GetElement(c.Request().Context(), elementID)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "element not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load element"})
	}

	out := echo.Map{"id": el.ID, "type": el.Type, "position": el.Position}
	switch {
	case el.Text != nil:
		out["text"] = textJSON{ID: el.Text.ID, Text: el.Text.Text}
	case el.Image != nil:
		out["image"] = imageRefJSON{ID: el.Image.ID, Filename: el.Image.Filename, Version: el.Image.DateModified.Unix()}
	case el.Webhook != nil:
		out["webhook"] = echo.Map{
			"id":                       el.Webhook.ID,
			"name":                     el.Webhook.Name,
			"url":                      el.Webhook.URL,
			"bits_product":             el.Webhook.BitsProduct,
			"data":                     el.Webhook.Data,
			"include_transaction_data": el.Webhook.IncludeTransactionData,
			"cooldown":                 el.Webhook.Cooldown,
		}
	}
	return c.JSON(http.StatusOK, out)
}

// UpdateText replaces the content of a text element.
func (h *Handler) UpdateText(c echo.Context) error {
	textID, err := pathID(c, "text_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid text id"})
	}
	var req textRequest
	if err := c.Bind(&req); err != nil || req.Text == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "text is required"})
	}

	switch err := h.Elements.UpdateText(c.Request().Context(), textID, req.Text); {
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "text not found"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update element"})
	}

	h.refreshForElement(c)
	return c.JSON(http.StatusOK, echo.Map{"updated": textID})
}

// UpdateImage replaces the bytes of an image element and bumps its version so
// panels bust their cache.
func (h *Handler) UpdateImage(c echo.Context) error {
	imageID, err := pathID(c, "image_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid image id"})
	}
	var req imageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	raw, err := req.decode()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	switch err := h.Elements.UpdateImage(c.Request().Context(), imageID, req.Filename, raw); {
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "image not found"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update element"})
	}

	h.refreshForElement(c)
	return c.JSON(http.StatusOK, echo.Map{"updated": imageID})
}

// UpdateWebhook replaces a webhook element's configuration.
func (h *Handler) UpdateWebhook(c echo.Context) error {
	webhookID, err := pathID(c, "webhook_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid webhook id"})
	}
	var req webhookRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	wh, err := req.toModel()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	wh.ID = webhookID

	switch err := h.Elements.UpdateWebhook(c.Request().Context(), wh); {
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "webhook not found"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update element"})
	}

	h.refreshForElement(c)
	return c.JSON(http.StatusOK, echo.Map{"updated": webhookID})
}

// DeleteElement removes an element and its payload, then closes the position
// gap it leaves behind.
func (h *Handler) DeleteElement(c echo.Context) error {
	channelID, _ := middleware.ChannelID(c)
	elementID, err := pathID(c, "element_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid element id"})
	}

	layoutID, err := h.Elements.DeleteElement(c.Request().Context(), elementID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "element not found"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to delete element"})
	}

	if h.isCurrentLayout(c, channelID, layoutID) {
		h.notifyRefresh(c, channelID)
	}
	return c.JSON(http.StatusOK, echo.Map{"deleted": elementID})
}

// GetImage serves the raw PNG bytes of an image element.  The route is
// public: panels embed the URL directly in <img> tags, so there is no
// Authorization header to verify.  Image ids are not secrets.
func (h *Handler) GetImage(c echo.Context) error {
	imageID, err := pathID(c, "image_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid image id"})
	}

	img, err := h.Elements.GetImage(c.Request().Context(), imageID)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "image not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load image"})
	}

	c.Response().Header().Set("Cache-Control", "public, max-age=86400")
	c.Response().Header().Set("Last-Modified", img.DateModified.UTC().Format(http.TimeFormat))
	return c.Blob(http.StatusOK, "image/png", img.Data)
}

// refreshIfCurrent notifies viewers when layoutID is the caller's live
// layout.
func (h *Handler) refreshIfCurrent(c echo.Context, layoutID int64) {
	channelID, err := middleware.ChannelID(c)
	if err != nil {
		return
	}
	if h.isCurrentLayout(c, channelID, layoutID) {
		h.notifyRefresh(c, channelID)
	}
}

// refreshForElement notifies viewers after an element payload update.  The
// element's layout is resolved through the element_id path param.
func (h *Handler) refreshForElement(c echo.Context) {
	channelID, err := middleware.ChannelID(c)
	if err != nil {
		return
	}
	elementID, err := strconv.ParseInt(c.Param("element_id"), 10, 64)
	if err != nil {
		return
	}
	el, err := h.Elements.GetElement(c.Request().Context(), elementID)
	if err != nil {
		return
	}
	if h.isCurrentLayout(c, channelID, el.LayoutID) {
		h.notifyRefresh(c, channelID)
	}
}
