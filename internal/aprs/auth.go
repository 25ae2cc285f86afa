package aprs

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// TokenLength is how many base64 characters of the HMAC form the
// wire token (§4.5 "first 6 chars of base64(...)").
const TokenLength = 6

// AcceptanceWindow lists the minute offsets, relative to the verifier's
// current minute, accepted for an incoming token (§4.5 "4-minute
// acceptance window").
var AcceptanceWindow = []int{0, -1, -2, -3, 1}

// SecretKey derives the per-peer HMAC key from a shared secret (§4.5
// "SecretKey = SHA-256(sharedSecret)").
func SecretKey(sharedSecret string) [32]byte {
	return sha256.Sum256([]byte(sharedSecret))
}

func minuteCount(t time.Time) int64 {
	return t.Unix() / 60
}

// Token computes the auth token for one minute count, source, dest,
// text and optional message id (§4.5). id is empty when none is set.
func Token(key [32]byte, minute int64, src, dst, text, id string) string {
	msg := fmt.Sprintf("%d:%s:%s:%s", minute, src, dst, text)
	if id != "" {
		msg += "{" + id
	}
	mac := hmac.New(sha256.New, key[:])
	mac.Write([]byte(msg))
	sum := mac.Sum(nil)
	encoded := base64.StdEncoding.EncodeToString(sum)
	if len(encoded) > TokenLength {
		encoded = encoded[:TokenLength]
	}
	return encoded
}

// Verify checks token against every minute in AcceptanceWindow relative
// to now, returning whether any matched (§4.5 "accepts on any match").
func Verify(key [32]byte, now time.Time, src, dst, text, id, token string) bool {
	if token == "" {
		return false
	}
	current := minuteCount(now)
	for _, offset := range AcceptanceWindow {
		if hmac.Equal([]byte(Token(key, current+int64(offset), src, dst, text, id)), []byte(token)) {
			return true
		}
	}
	return false
}
