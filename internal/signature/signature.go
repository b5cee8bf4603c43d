// Package signature implements the shared-secret signing scheme used on
// both legs of the webhook exchange. The signed material is the sender's
// epoch-millisecond timestamp and the raw body, joined by a dot, keyed with
// the subscription secret. Binding the timestamp into the MAC bounds how
// long a captured request stays replayable.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// HeaderPrefix tags the digest algorithm in the X-Signature header value.
const HeaderPrefix = "sha256="

// DefaultFreshnessWindow is how far a presented timestamp may drift from the
// verifier's clock, in either direction, before the request is rejected.
const DefaultFreshnessWindow = 5 * time.Minute

var (
	ErrBadSignature     = errors.New("signature mismatch")
	ErrTimestampExpired = errors.New("timestamp outside freshness window")
)

// Sign computes the hex-encoded HMAC-SHA256 of timestamp + "." + payload.
// The timestamp is epoch milliseconds as a decimal string, exactly as it
// will appear in the X-Timestamp header.
func Sign(payload []byte, secret, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Timestamp formats t the way Sign and Verify expect it.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// EncodeHeader wraps a signature for the X-Signature header.
func EncodeHeader(sig string) string {
	return HeaderPrefix + sig
}

// ParseHeader strips the algorithm prefix from an X-Signature value.
func ParseHeader(header string) (string, bool) {
	if !strings.HasPrefix(header, HeaderPrefix) {
		return "", false
	}
	return strings.TrimPrefix(header, HeaderPrefix), true
}

// Verify checks a presented signature and timestamp against the payload.
// It returns ErrTimestampExpired when the timestamp falls outside the
// window, ErrBadSignature when the MAC does not match, and nil otherwise.
// A window of zero or less falls back to DefaultFreshnessWindow.
func Verify(payload []byte, presented, secret, timestamp string, window time.Duration) error {
	return verifyAt(time.Now(), payload, presented, secret, timestamp, window)
}

func verifyAt(now time.Time, payload []byte, presented, secret, timestamp string, window time.Duration) error {
	if window <= 0 {
		window = DefaultFreshnessWindow
	}

	ms, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	drift := now.Sub(time.UnixMilli(ms))
	if drift < 0 {
		drift = -drift
	}
	if drift > window {
		return ErrTimestampExpired
	}

	presentedRaw, err := hex.DecodeString(presented)
	if err != nil {
		return ErrBadSignature
	}
	expectedRaw, _ := hex.DecodeString(Sign(payload, secret, timestamp))

	// hmac.Equal is constant-time; string comparison would leak how many
	// leading bytes an attacker guessed right.
	if !hmac.Equal(presentedRaw, expectedRaw) {
		return ErrBadSignature
	}
	return nil
}
