// Package payment verifies and decodes signed gateway webhook deliveries.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventCheckoutCompleted activates the listing named in the event metadata.
const EventCheckoutCompleted = "checkout.completed"

var (
	ErrBadSignature   = errors.New("webhook signature mismatch")
	ErrStaleTimestamp = errors.New("webhook timestamp outside tolerance")
)

// Event is the gateway's webhook envelope. Metadata carries the listing and
// user the checkout was created for.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		AmountCents int64 `json:"amount_cents"`
		Metadata    struct {
			ListingID string `json:"listing_id"`
			UserID    string `json:"user_id"`
		} `json:"metadata"`
	} `json:"data"`
}

// VerifySignature checks a `t=<unix>,v1=<hex hmac>` header against the raw
// request body. The signed string is "<t>.<body>"; timestamps older or newer
// than the tolerance are rejected to blunt replay.
func VerifySignature(secret []byte, header string, body []byte, now time.Time, tolerance time.Duration) error {
	var timestamp int64
	var signature string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return ErrBadSignature
			}
			timestamp = parsed
		case "v1":
			signature = value
		}
	}
	if timestamp == 0 || signature == "" {
		return ErrBadSignature
	}

	age := now.Sub(time.Unix(timestamp, 0))
	if age > tolerance || age < -tolerance {
		return ErrStaleTimestamp
	}

	expected := Sign(secret, timestamp, body)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the v1 signature for a timestamp and body. Exposed so tests
// and local tooling can build valid headers.
func Sign(secret []byte, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.", timestamp)
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader builds a complete header value for a timestamp and body.
func SignatureHeader(secret []byte, timestamp time.Time, body []byte) string {
	unix := timestamp.Unix()
	return fmt.Sprintf("t=%d,v1=%s", unix, Sign(secret, unix, body))
}

// ParseEvent decodes a verified webhook body.
func ParseEvent(body []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, fmt.Errorf("decode webhook event: %w", err)
	}
	if event.ID == "" || event.Type == "" {
		return Event{}, errors.New("webhook event missing id or type")
	}
	return event, nil
}
