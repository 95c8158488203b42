package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func viewerClaims(exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"channel_id": "123",
		"role":       RoleViewer,
		"exp":        exp.Unix(),
	}
}

func TestVerifyValidToken(t *testing.T) {
	v := NewVerifier(testSecret)
	raw := signToken(t, testSecret, viewerClaims(time.Now().Add(time.Hour)))

	id, err := v.Verify(raw)
	if err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
	if id.ChannelID != 123 || id.Role != RoleViewer {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestVerifyHeader(t *testing.T) {
	v := NewVerifier(testSecret)
	raw := signToken(t, testSecret, viewerClaims(time.Now().Add(time.Hour)))

	if _, err := v.VerifyHeader("Bearer " + raw); err != nil {
		t.Fatalf("expected valid header, got %v", err)
	}
	if _, err := v.VerifyHeader(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken for empty header, got %v", err)
	}
	if _, err := v.VerifyHeader(raw); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken without Bearer prefix, got %v", err)
	}
}

func TestVerifyTamperedSignature(t *testing.T) {
	v := NewVerifier(testSecret)
	raw := signToken(t, []byte("some-other-secret-entirely-here!"), viewerClaims(time.Now().Add(time.Hour)))

	if _, err := v.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	v := NewVerifier(testSecret)
	raw := signToken(t, testSecret, viewerClaims(time.Now().Add(-time.Minute)))

	if _, err := v.Verify(raw); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifyMissingClaims(t *testing.T) {
	v := NewVerifier(testSecret)
	exp := time.Now().Add(time.Hour).Unix()

	cases := map[string]jwt.MapClaims{
		"no channel_id":      {"role": RoleViewer, "exp": exp},
		"no role":            {"channel_id": "123", "exp": exp},
		"numeric channel_id": {"channel_id": 123, "role": RoleViewer, "exp": exp},
		"bad channel_id":     {"channel_id": "abc", "role": RoleViewer, "exp": exp},
		"empty role":         {"channel_id": "123", "role": "", "exp": exp},
	}
	for name, claims := range cases {
		raw := signToken(t, testSecret, claims)
		if _, err := v.Verify(raw); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestVerifyReceipt(t *testing.T) {
	v := NewVerifier(testSecret)

	valid := signToken(t, testSecret, jwt.MapClaims{"exp": time.Now().Add(time.Minute).Unix()})
	if err := v.VerifyReceipt(valid); err != nil {
		t.Fatalf("expected valid receipt, got %v", err)
	}

	expired := signToken(t, testSecret, jwt.MapClaims{"exp": time.Now().Add(-time.Minute).Unix()})
	if err := v.VerifyReceipt(expired); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}

	forged := signToken(t, []byte("some-other-secret-entirely-here!"), jwt.MapClaims{"exp": time.Now().Add(time.Minute).Unix()})
	if err := v.VerifyReceipt(forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestNewPubSubToken(t *testing.T) {
	raw, err := NewPubSubToken(testSecret, 456)
	if err != nil {
		t.Fatalf("mint pub/sub token: %v", err)
	}

	tok, err := jwt.Parse(raw, func(tk *jwt.Token) (interface{}, error) { return testSecret, nil })
	if err != nil || !tok.Valid {
		t.Fatalf("pub/sub token does not verify: %v", err)
	}
	claims := tok.Claims.(jwt.MapClaims)
	if claims["channel_id"] != "456" || claims["user_id"] != "456" {
		t.Fatalf("unexpected ids in claims: %v", claims)
	}
	if claims["role"] != RoleExternal {
		t.Fatalf("expected external role, got %v", claims["role"])
	}
	perms, ok := claims["pubsub_perms"].(map[string]any)
	if !ok {
		t.Fatalf("missing pubsub_perms claim: %v", claims)
	}
	send, ok := perms["send"].([]any)
	if !ok || len(send) != 1 || send[0] != "broadcast" {
		t.Fatalf("unexpected send perms: %v", perms)
	}

	// Token must be short-lived: no more than ten seconds of validity.
	exp, err := claims.GetExpirationTime()
	if err != nil {
		t.Fatalf("read exp: %v", err)
	}
	if ttl := time.Until(exp.Time); ttl > 10*time.Second {
		t.Fatalf("pub/sub token lives too long: %s", ttl)
	}
}
