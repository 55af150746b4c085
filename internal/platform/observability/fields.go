package observability

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// sessionFields hold checkout session keys. They are bearer credentials for the cart, so events
// only ever carry a digest of them.
var sessionFields = map[string]struct{}{
	"sessionKey":  {},
	"session_key": {},
}

// SessionFingerprint is a short stable digest of a session key that lets log lines be correlated
// without recording the key.
func SessionFingerprint(sessionKey string) string {
	if sessionKey == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(sessionKey))
	return hex.EncodeToString(sum[:6])
}

// logSafe drops control characters from caller-supplied values and caps their length.
func logSafe(value string, limit int) string {
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if runes := []rune(value); len(runes) > limit {
		value = string(runes[:limit])
	}
	return value
}
