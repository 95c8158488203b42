// Package twitch implements the outbound calls this service makes to the
// platform, currently only the extension pub/sub endpoint used to tell
// connected viewers that a layout changed.
package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bitspanel/ebs/internal/auth"
)

// Notifier sends best-effort refresh messages to a broadcaster's viewers.
// Each send mints its own short-lived JWT; nothing is cached between calls.
type Notifier struct {
	secret   []byte
	clientID string
	url      string
	client   *http.Client
}

// NewNotifier returns a Notifier posting to url with the given bounded
// timeout.  The timeout is the only cancellation mechanism for the outbound
// call: a client that disconnects mid-request does not abort the send.
func NewNotifier(secret []byte, clientID, url string, timeout time.Duration) *Notifier {
	return &Notifier{
		secret:   secret,
		clientID: clientID,
		url:      url,
		client:   &http.Client{Timeout: timeout},
	}
}

// NotifyRefresh tells every viewer connected to the channel to re-fetch the
// current layout.  Callers treat a failure as best-effort: the layout
// mutation that triggered the notification is already committed, so an error
// here is logged by the caller and never unwinds the mutation.
func (n *Notifier) NotifyRefresh(ctx context.Context, channelID int64) error {
	token, err := auth.NewPubSubToken(n.secret, channelID)
	if err != nil {
		return fmt.Errorf("mint pubsub token: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"target":         []string{"broadcast"},
		"broadcaster_id": strconv.FormatInt(channelID, 10),
		"message":        "refresh",
	})
	if err != nil {
		return fmt.Errorf("marshal pubsub body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build pubsub request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Client-Id", n.clientID)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send pubsub message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Read a little of the body for the log line; the platform returns
		// short JSON error descriptions.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pubsub endpoint returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
