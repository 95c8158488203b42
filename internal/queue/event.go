// Package queue defines message payloads exchanged over the message broker.
package queue

// RedemptionCompletedEvent is published after a webhook redemption was
// delivered successfully.  It contains enough information for downstream
// consumers to log or trigger analytics without querying the primary
// database.
type RedemptionCompletedEvent struct {
	WebhookID     int64  `json:"webhook_id"`
	BroadcasterID int64  `json:"broadcaster_id"`
	WebhookName   string `json:"webhook_name"`
	BitsProduct   string `json:"bits_product"`
	BitsCost      int    `json:"bits_cost"`
	TransactionID string `json:"transaction_id"`
	RedeemedAt    string `json:"redeemed_at"`
}
