package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ElementType discriminates the payload attached to an element.  Exactly one
// of the payload structs is populated for a given element.
type ElementType string

// Element types supported by the panel.
const (
	ElementImage   ElementType = "image"
	ElementText    ElementType = "text"
	ElementWebhook ElementType = "webhook"
)

// Valid reports whether t is one of the known element types.
func (t ElementType) Valid() bool {
	switch t {
	case ElementImage, ElementText, ElementWebhook:
		return true
	}
	return false
}

// Element is one positioned slot in a layout.  Position is a dense 0-based
// ordering within the layout: after every structural change the positions of
// a layout's elements form a contiguous permutation of 0..n-1.
type Element struct {
	ID       int64
	LayoutID int64
	Type     ElementType
	Position int

	// Payload; the field matching Type is set, the others are nil.
	Image   *Image
	Text    *Text
	Webhook *Webhook
}

// Image is the payload of an image element.  The bytes are stored in the
// database and served directly by the backend.
type Image struct {
	ID           int64
	ElementID    int64
	Filename     string
	Data         []byte
	DateModified time.Time
}

// Text is the payload of a text element.
type Text struct {
	ID        int64
	ElementID int64
	Text      string
}

// Webhook is the payload of a bits-redeemable element.  Data is a JSON object
// template that is cloned and posted to URL on every redemption; it must
// never be mutated in place.  Cooldown is the minimum number of seconds
// between two redemptions of the same webhook (0 disables the gate).
type Webhook struct {
	ID                     int64
	ElementID              int64
	Name                   string
	URL                    string
	BitsProduct            BitsProduct
	Data                   map[string]any
	IncludeTransactionData bool
	Cooldown               int
}

// BitsProduct identifies one of the fixed bit tiers the extension registers
// with the platform, e.g. "reward_100bits".
type BitsProduct string

// Cost returns the number of bits the product costs, or an error when the
// product name is not one of the fixed tiers.  Valid tiers are 1, 5, 10, 20
// and 50 bits, and every multiple of 100 up to 10000.
func (p BitsProduct) Cost() (int, error) {
	s := string(p)
	if !strings.HasPrefix(s, "reward_") || !strings.HasSuffix(s, "bits") {
		return 0, fmt.Errorf("unknown bits product %q", s)
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(s, "reward_"), "bits"))
	if err != nil {
		return 0, fmt.Errorf("unknown bits product %q", s)
	}
	switch n {
	case 1, 5, 10, 20, 50:
		return n, nil
	}
	if n >= 100 && n <= 10000 && n%100 == 0 {
		return n, nil
	}
	return 0, fmt.Errorf("unknown bits product %q", s)
}

// Valid reports whether p names one of the fixed bit tiers.
func (p BitsProduct) Valid() bool {
	_, err := p.Cost()
	return err == nil
}
