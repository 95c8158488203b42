package twitch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestNotifyRefreshSendsSignedRequest(t *testing.T) {
	var gotBody map[string]any
	var gotAuth, gotClientID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotClientID = r.Header.Get("Client-Id")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewNotifier(testSecret, "client-abc", srv.URL, time.Second)
	if err := n.NotifyRefresh(context.Background(), 456); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	if gotClientID != "client-abc" {
		t.Fatalf("expected Client-Id header, got %q", gotClientID)
	}
	if gotBody["broadcaster_id"] != "456" || gotBody["message"] != "refresh" {
		t.Fatalf("unexpected body: %v", gotBody)
	}
	target, ok := gotBody["target"].([]any)
	if !ok || len(target) != 1 || target[0] != "broadcast" {
		t.Fatalf("unexpected target: %v", gotBody["target"])
	}

	// The bearer token must verify against the extension secret and carry
	// the send-broadcast permission for the right channel.
	raw := strings.TrimPrefix(gotAuth, "Bearer ")
	if raw == gotAuth {
		t.Fatalf("expected bearer authorization, got %q", gotAuth)
	}
	tok, err := jwt.Parse(raw, func(tk *jwt.Token) (interface{}, error) { return testSecret, nil })
	if err != nil || !tok.Valid {
		t.Fatalf("pubsub token does not verify: %v", err)
	}
	claims := tok.Claims.(jwt.MapClaims)
	if claims["channel_id"] != "456" {
		t.Fatalf("token scoped to wrong channel: %v", claims)
	}
}

func TestNotifyRefreshSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"nope"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	n := NewNotifier(testSecret, "client-abc", srv.URL, time.Second)
	if err := n.NotifyRefresh(context.Background(), 456); err == nil {
		t.Fatal("expected error on non-2xx response")
	}
}

func TestNotifyRefreshSurfacesTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // shut down before the call

	n := NewNotifier(testSecret, "client-abc", srv.URL, time.Second)
	if err := n.NotifyRefresh(context.Background(), 456); err == nil {
		t.Fatal("expected error when endpoint is unreachable")
	}
}
