// Package relay delivers bits redemptions to broadcaster-configured webhook
// URLs.  A redemption validates the purchase receipt, resolves the stored
// webhook, merges transaction metadata into a copy of the stored payload
// template and performs exactly one outbound POST with a bounded timeout.
// There is no retry and no queuing; the caller surfaces failures to the
// viewer.
package relay

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bitspanel/ebs/internal/auth"
	"github.com/bitspanel/ebs/internal/model"
)

// WebhookStore resolves webhook payloads by id.  The element repository
// implements it; tests substitute fakes.
type WebhookStore interface {
	WebhookByID(ctx context.Context, id int64) (*model.Webhook, error)
}

// Sentinel errors surfaced to the handler layer.
var (
	// ErrDeliveryFailed is returned when the outbound POST got a non-2xx
	// response or failed at the transport level.  Maps to HTTP 500.
	ErrDeliveryFailed = errors.New("webhook delivery failed")
	// ErrCooldownActive is returned when the webhook was redeemed again
	// before its cooldown window elapsed.  Maps to HTTP 429.
	ErrCooldownActive = errors.New("webhook cooldown active")
	// ErrMissingReceipt is returned when the transaction carries no receipt
	// string.  Maps to HTTP 401 like any other receipt failure.
	ErrMissingReceipt = errors.New("transaction has no receipt")
)

// Result is the upstream endpoint's answer to a successful delivery, echoed
// back to the redeeming client.
type Result struct {
	Status int
	Body   []byte
}

// Relay performs webhook deliveries.  The redis client is optional: when nil
// the cooldown gate is disabled and every redemption goes straight out.
type Relay struct {
	store    WebhookStore
	verifier *auth.Verifier
	client   *http.Client
	cooldown *redis.Client
}

// maxResponseBytes caps how much of the upstream response is read back.
const maxResponseBytes = 64 << 10

// New constructs a Relay with a bounded outbound timeout.
func New(store WebhookStore, verifier *auth.Verifier, timeout time.Duration, cooldown *redis.Client) *Relay {
	return &Relay{
		store:    store,
		verifier: verifier,
		client:   &http.Client{Timeout: timeout},
		cooldown: cooldown,
	}
}

// Redeem delivers one bits redemption.  transaction is the object the client
// received from the platform purchase flow; its transactionReceipt field must
// be a valid receipt JWT.  Ownership of the webhook has already been enforced
// by the route's guards, so it is not re-checked here.
func (r *Relay) Redeem(ctx context.Context, webhookID int64, transaction map[string]any) (*Result, error) {
	receipt, _ := transaction["transactionReceipt"].(string)
	if receipt == "" {
		return nil, ErrMissingReceipt
	}
	if err := r.verifier.VerifyReceipt(receipt); err != nil {
		return nil, err
	}

	wh, err := r.store.WebhookByID(ctx, webhookID)
	if err != nil {
		return nil, err
	}

	if err := r.acquireCooldown(ctx, wh); err != nil {
		return nil, err
	}

	payload := clonePayload(wh.Data)
	if wh.IncludeTransactionData {
		payload["transaction"] = transaction
	}
	return r.post(ctx, wh.URL, payload)
}

// Test delivers a synthetic redemption so a broadcaster can validate their
// endpoint before going live.  The transaction uses fixed example identity
// fields and a placeholder receipt; no real viewer data is involved and the
// cooldown gate is not consulted.
func (r *Relay) Test(ctx context.Context, wh *model.Webhook) (*Result, error) {
	cost, err := wh.BitsProduct.Cost()
	if err != nil {
		return nil, err
	}

	payload := clonePayload(wh.Data)
	if wh.IncludeTransactionData {
		payload["transaction"] = map[string]any{
			"product": map[string]any{
				"sku":           string(wh.BitsProduct),
				"displayName":   fmt.Sprintf("%d Bit Reward", cost),
				"cost":          map[string]any{"amount": strconv.Itoa(cost), "type": "bits"},
				"inDevelopment": false,
			},
			"transactionId":      randomID(),
			"userId":             "123456789",
			"displayName":        "test_user",
			"initiator":          "current_user",
			"transactionReceipt": "<jwt with transaction receipt goes here>",
		}
	}
	return r.post(ctx, wh.URL, payload)
}

// acquireCooldown claims the webhook's cooldown slot.  SET NX PX makes the
// claim atomic across concurrent redemptions of the same webhook.
func (r *Relay) acquireCooldown(ctx context.Context, wh *model.Webhook) error {
	if wh.Cooldown <= 0 || r.cooldown == nil {
		return nil
	}
	key := "cooldown:webhook:" + strconv.FormatInt(wh.ID, 10)
	ok, err := r.cooldown.SetNX(ctx, key, 1, time.Duration(wh.Cooldown)*time.Second).Result()
	if err != nil {
		// Redis being down must not block redemptions; degrade to no gate.
		return nil
	}
	if !ok {
		return ErrCooldownActive
	}
	return nil
}

func (r *Relay) post(ctx context.Context, url string, payload map[string]any) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal webhook payload: %w", err)
	}
	// The delivery must not be tied to the viewer's connection: a client
	// disconnect mid-redemption would otherwise abort a paid delivery.  Only
	// the relay's own client timeout bounds the call.
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: endpoint returned %d", ErrDeliveryFailed, resp.StatusCode)
	}
	return &Result{Status: resp.StatusCode, Body: respBody}, nil
}

// clonePayload copies the stored data template so merging transaction data
// never mutates what is persisted.  Templates are flat-ish JSON objects; a
// top-level copy is enough to protect the stored map from the keys this
// package adds.
func clonePayload(data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	return out
}

// randomID produces a hex transaction id for synthetic test redemptions.
func randomID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "0"
	}
	return hex.EncodeToString(buf)
}
