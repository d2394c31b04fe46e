package stream

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Media stream tokens are capabilities, not session identifiers: the call
// session id travels alongside the token in the clear, so the MAC only
// proves the expiry was minted by a holder of the secret. Verification is
// O(1) with no server-side state; expiry is the only invalidation path.
//
// Wire format (fixed by the carrier integration):
//   base64url( `{"expiresAt":N}` + "." + hex(HMAC-SHA256(payload)) )

// clockSkewAllowance absorbs small clock drift between minting and
// verifying hosts when checking the upper expiry bound.
const clockSkewAllowance = 5 * time.Second

type tokenPayload struct {
	ExpiresAt int64 `json:"expiresAt"`
}

// MintToken issues a token that expires ttl from now.
func MintToken(secret string, ttl time.Duration) string {
	return mintTokenAt(secret, ttl, time.Now())
}

func mintTokenAt(secret string, ttl time.Duration, now time.Time) string {
	payload, _ := json.Marshal(tokenPayload{ExpiresAt: now.Add(ttl).Unix()})
	mac := signPayload(secret, payload)
	return base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf("%s.%s", payload, mac)))
}

// VerifyToken reports whether token was minted with secret and is currently
// valid for the configured ttl. Expiries beyond now + ttl + skew are rejected
// even with a correct signature; a token claiming an implausibly distant
// expiry was not minted by this process. Malformed input yields false.
func VerifyToken(token, secret string, ttl time.Duration) bool {
	return verifyTokenAt(token, secret, ttl, time.Now())
}

func verifyTokenAt(token, secret string, ttl time.Duration, now time.Time) bool {
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		// Tolerate padded encoders.
		decoded, err = base64.URLEncoding.DecodeString(token)
		if err != nil {
			return false
		}
	}

	payload, mac, ok := strings.Cut(string(decoded), ".")
	if !ok || payload == "" || mac == "" {
		return false
	}
	expected := signPayload(secret, []byte(payload))
	if !hmac.Equal([]byte(expected), []byte(mac)) {
		return false
	}

	var data tokenPayload
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return false
	}
	if data.ExpiresAt < now.Unix() {
		return false
	}
	if data.ExpiresAt > now.Add(ttl+clockSkewAllowance).Unix() {
		return false
	}
	return true
}

func signPayload(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
