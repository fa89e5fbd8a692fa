// Package content provides the content-addressed digests used for change
// detection: a screenshot digest over raw bytes and a text digest over a
// normalized form that is stable across OCR noise.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// ImageSum returns the hex SHA-256 digest of raw screenshot bytes.
// Deterministic across runs for byte-identical images.
func ImageSum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// TextSum returns the hex SHA-256 digest of Normalize(s).
func TextSum(s string) string {
	sum := sha256.Sum256([]byte(Normalize(s)))
	return hex.EncodeToString(sum[:])
}

// Normalize lowercases the text, strips punctuation commonly injected by
// OCR (keeping alphanumerics, whitespace and "-_/.:@") and collapses runs
// of whitespace, so that a re-read of unchanged content hashes equal.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || strings.ContainsRune("-_/.:@", r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
