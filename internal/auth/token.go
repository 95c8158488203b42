// Package auth verifies the platform-signed JWTs that accompany every
// extension request and mints the short-lived tokens used for outbound
// pub/sub calls.  All tokens share one symmetric secret: the base64-decoded
// extension secret issued by the platform.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles the platform encodes in the "role" claim.
const (
	RoleBroadcaster = "broadcaster"
	RoleViewer      = "viewer"
	RoleExternal    = "external"
)

// Sentinel errors returned by verification.  All of them map to HTTP 401.
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Identity is the result of verifying a credential: which channel the request
// was made for and the role of the user making it.  It lives for one request
// and is never persisted.
type Identity struct {
	ChannelID int64
	Role      string
}

// Verifier validates inbound extension JWTs against the shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier bound to the decoded extension secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// VerifyHeader extracts the token from an "Authorization: Bearer <jwt>"
// header value and verifies it.  A missing or malformed header fails with
// ErrMissingToken.
func (v *Verifier) VerifyHeader(header string) (Identity, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return Identity{}, ErrMissingToken
	}
	return v.Verify(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
}

// Verify parses and validates a raw JWT and extracts the channel id and role
// claims.  The platform signs extension tokens with HS256; any other signing
// method is rejected before the key is consulted.
func (v *Verifier) Verify(raw string) (Identity, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}
	if !tok.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	// channel_id arrives as a stringified integer; role as a plain string.
	// Either claim missing or of the wrong type fails verification.
	channelStr, ok := claims["channel_id"].(string)
	if !ok {
		return Identity{}, fmt.Errorf("%w: missing channel_id claim", ErrInvalidToken)
	}
	channelID, err := strconv.ParseInt(channelStr, 10, 64)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: channel_id is not an integer", ErrInvalidToken)
	}
	role, ok := claims["role"].(string)
	if !ok || role == "" {
		return Identity{}, fmt.Errorf("%w: missing role claim", ErrInvalidToken)
	}

	return Identity{ChannelID: channelID, Role: role}, nil
}

// VerifyReceipt validates a transaction receipt JWT.  Receipts are signed by
// the platform with the same extension secret; only signature and expiry
// matter here, the embedded transaction detail is supplied separately by the
// client.
func (v *Verifier) VerifyReceipt(raw string) error {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !tok.Valid {
		return ErrInvalidToken
	}
	return nil
}

// NewPubSubToken builds and signs a short-lived HS256 JWT that authorizes one
// broadcast pub/sub message to the given channel.  The platform requires the
// sender to present a token scoped with pubsub_perms; ten seconds is enough
// for a single send.
func NewPubSubToken(secret []byte, channelID int64) (string, error) {
	id := strconv.FormatInt(channelID, 10)
	claims := jwt.MapClaims{
		"exp":          time.Now().UTC().Add(10 * time.Second).Unix(),
		"user_id":      id,
		"role":         RoleExternal,
		"channel_id":   id,
		"pubsub_perms": map[string]any{"send": []string{"broadcast"}},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(secret)
}
