package s2s

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// DialbackKey computes the XEP-0220 Server Dialback key: an HMAC-SHA256,
// keyed by secret, of streamID||to||from (to is the receiving domain, from
// the originating one), rendered as hex.
func DialbackKey(secret, streamID, to, from string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(streamID))
	mac.Write([]byte(to))
	mac.Write([]byte(from))
	return hex.EncodeToString(mac.Sum(nil))
}

func hmacHex(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyDialbackKey reports whether key is the expected dialback key for
// the given stream id and domain pair, using a constant-time comparison
// to avoid leaking the secret through timing.
func VerifyDialbackKey(secret, streamID, to, from, key string) bool {
	expected := DialbackKey(secret, streamID, to, from)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(key)) == 1
}
