package codec

import (
	"encoding/base64"
	"strings"
)

// Base64URLToStd rewrites a base64url string into standard base64:
// character substitution ('-' to '+', '_' to '/') plus padding management.
func Base64URLToStd(s string) string {
	s = strings.ReplaceAll(s, "-", "+")
	s = strings.ReplaceAll(s, "_", "/")
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return s
}

// StdToBase64URL is the inverse of Base64URLToStd.
func StdToBase64URL(s string) string {
	s = strings.ReplaceAll(s, "+", "-")
	s = strings.ReplaceAll(s, "/", "_")
	return strings.TrimRight(s, "=")
}

// EncodeBase64 returns standard base64 encoding without newlines.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBase64 decodes standard base64.
func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// EncodeBase64URL returns unpadded base64url encoding, the alphabet
// WebAuthn uses for challenges and credential IDs.
func EncodeBase64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeBase64URL decodes unpadded base64url.
func DecodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
