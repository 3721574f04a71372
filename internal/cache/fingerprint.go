package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint is the content address of a render: identical normalized source
// rendered with identical options always yields the same fingerprint.
type Fingerprint string

// Short returns an abbreviated fingerprint for logs.
func (f Fingerprint) Short() string {
	if len(f) > 12 {
		return string(f[:12])
	}
	return string(f)
}

// Normalize applies the normalization fingerprints are computed over:
// CRLF and CR line endings become LF and surrounding whitespace is trimmed.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}

// Compute derives the fingerprint of text rendered under optionsKey.
func Compute(text, optionsKey string) Fingerprint {
	h := sha256.New()
	h.Write([]byte(optionsKey))
	h.Write([]byte{0})
	h.Write([]byte(Normalize(text)))
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}
