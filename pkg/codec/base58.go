// Package codec converts between the textual encodings used on the wire
// (base58 for Solana-style keys, base64/base64url for WebAuthn material)
// and raw byte buffers.
package codec

import (
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/getodyssey/odyssey-companion-go/pkg/flowerr"
)

// PublicKeyLength is the decoded size of a Solana-style public key.
const PublicKeyLength = 32

// DecodeBase58 decodes s using the Bitcoin/Solana alphabet. Any character
// outside the 58-symbol alphabet (digits and letters excluding 0, O, I, l)
// fails with CategoryInvalidCharacter. Leading '1' characters map 1:1 to
// leading zero bytes.
func DecodeBase58(s string) ([]byte, error) {
	decoded, err := base58.Decode(s)
	if err != nil {
		return nil, flowerr.Wrap(flowerr.CategoryInvalidCharacter, err, "invalid base58 input")
	}
	return decoded, nil
}

// EncodeBase58 encodes b using the Bitcoin/Solana alphabet.
func EncodeBase58(b []byte) string {
	return base58.Encode(b)
}

// DecodePublicKey decodes a base58 public key and enforces the 32-byte
// decoded length. Callers expecting a public key must use this instead of
// DecodeBase58; a syntactically valid string of the wrong length fails with
// CategoryInvalidKeyLength.
func DecodePublicKey(s string) ([PublicKeyLength]byte, error) {
	var key [PublicKeyLength]byte

	decoded, err := DecodeBase58(s)
	if err != nil {
		return key, err
	}

	if len(decoded) != PublicKeyLength {
		return key, flowerr.New(flowerr.CategoryInvalidKeyLength,
			fmt.Sprintf("invalid public key length: %d, expected %d", len(decoded), PublicKeyLength))
	}

	copy(key[:], decoded)
	return key, nil
}
