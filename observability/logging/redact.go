package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// sensitiveKeys never reach the log sink with their value. Setup masks them
// on every record, whichever component logged them.
var sensitiveKeys = map[string]struct{}{
	"api_key":       {},
	"authorization": {},
	"bearer_token":  {},
	"jwt_secret":    {},
	"passphrase":    {},
	"mnemonic":      {},
	"seed":          {},
	"private_key":   {},
	"signature":     {},
	"boc":           {},
	"envelope":      {},
}

// Sensitive reports whether values logged under key are masked.
func Sensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskValue returns RedactedValue for non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField logs a credential as a short SHA-256 fingerprint so operators can
// tell which key is configured without seeing it.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	sum := sha256.Sum256([]byte(value))
	return slog.String(key, RedactedValue+" sha256:"+hex.EncodeToString(sum[:4]))
}

func redactAttr(attr slog.Attr) slog.Attr {
	if !Sensitive(attr.Key) {
		return attr
	}
	if strings.HasPrefix(attr.Value.String(), RedactedValue) {
		return attr
	}
	return slog.String(attr.Key, MaskValue(attr.Value.String()))
}
