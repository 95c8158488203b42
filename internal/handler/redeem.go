package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bitspanel/ebs/internal/auth"
	"github.com/bitspanel/ebs/internal/middleware"
	"github.com/bitspanel/ebs/internal/queue"
	"github.com/bitspanel/ebs/internal/relay"
	"github.com/bitspanel/ebs/internal/repository"
	queue_publisher "github.com/bitspanel/ebs/internal/service"
)

type redeemRequest struct {
	Transaction map[string]any `json:"transaction"`
}

// Redeem forwards a paid bits transaction to the webhook's configured URL.
// The transaction receipt is verified before anything leaves the backend;
// relay failures surface as a 500 so the frontend can tell the viewer the
// reward did not fire.
func (h *Handler) Redeem(c echo.Context) error {
	webhookID, err := pathID(c, "webhook_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid webhook id"})
	}
	var req redeemRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ctx := c.Request().Context()
	res, err := h.Relay.Redeem(ctx, webhookID, req.Transaction)
	switch {
	case errors.Is(err, relay.ErrMissingReceipt),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid transaction receipt"})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "webhook not found"})
	case errors.Is(err, relay.ErrCooldownActive):
		return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "webhook is cooling down"})
	case errors.Is(err, relay.ErrDeliveryFailed):
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "webhook failed"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "webhook failed"})
	}

	h.auditRedemption(c, webhookID, req.Transaction)
	return c.JSON(http.StatusOK, echo.Map{"status": res.Status, "body": string(res.Body)})
}

// TestRedeem posts a synthetic transaction to a webhook so broadcasters can
// verify their configuration without spending bits.
func (h *Handler) TestRedeem(c echo.Context) error {
	webhookID, err := pathID(c, "webhook_id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid webhook id"})
	}
	ctx := c.Request().Context()

	wh, err := h.Elements.WebhookByID(ctx, webhookID)
	if errors.Is(err, repository.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "webhook not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load webhook"})
	}

	res, err := h.Relay.Test(ctx, wh)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "webhook failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": res.Status, "body": string(res.Body)})
}

// auditRedemption publishes a redemption.completed event after a delivered
// redemption.  Broker trouble is the consumer's problem, not the viewer's:
// failures are logged inside the publisher and ignored here.
func (h *Handler) auditRedemption(c echo.Context, webhookID int64, tx map[string]any) {
	channelID, _ := middleware.ChannelID(c)
	wh, err := h.Elements.WebhookByID(c.Request().Context(), webhookID)
	if err != nil {
		return
	}
	txID, _ := tx["transactionId"].(string)
	cost, _ := wh.BitsProduct.Cost()
	ev := queue.RedemptionCompletedEvent{
		WebhookID:     wh.ID,
		BroadcasterID: channelID,
		WebhookName:   wh.Name,
		BitsProduct:   string(wh.BitsProduct),
		BitsCost:      cost,
		TransactionID: txID,
		RedeemedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	_ = queue_publisher.PublishRedemptionCompleted(c.Request().Context(), ev)
}
