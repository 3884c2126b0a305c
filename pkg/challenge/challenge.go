// Package challenge builds the fixed-layout byte challenge a passkey signs
// to authorize creation of an on-chain delegated-spending session.
//
// Layout (89 bytes, all multi-byte integers little-endian):
//
//	[0]      u8   discriminator = 5 (CreateSession)
//	[1..33)  32B  sessionPubkey (base58-decoded)
//	[33..41) i64  expiresAtSlot
//	[41..73) 32B  mint (all-zero for "native", else base58-decoded SPL mint)
//	[73..81) u64  maxAmount
//	[81..89) u64  currentSlot
//
// The authenticator never sees the raw buffer, only its SHA-256 hash; the
// backend replicates the same bytes to check the assertion, so the layout
// is compatibility-critical.
package challenge

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/getodyssey/odyssey-companion-go/pkg/codec"
	"github.com/getodyssey/odyssey-companion-go/pkg/flowerr"
)

const (
	// Length is the exact size of a session challenge.
	Length = 89

	// MintNative marks the native token; its mint field encodes as 32 zero bytes.
	MintNative = "native"

	createSessionDiscriminator = 5
)

// Params is the subset of the session approval data that is bound into the
// signed challenge.
type Params struct {
	SessionPubkey string
	ExpiresAtSlot int64
	Mint          string
	MaxAmount     uint64
	CurrentSlot   uint64
}

// Build produces the 89-byte challenge. Identical params always yield
// byte-identical output. A session pubkey or non-native mint that does not
// decode to exactly 32 bytes aborts construction; nothing is truncated or
// padded.
func Build(p Params) ([]byte, error) {
	sessionKey, err := codec.DecodePublicKey(p.SessionPubkey)
	if err != nil {
		return nil, flowerr.Wrap(flowerr.CategoryInvalidPublicKey, err, "invalid session pubkey")
	}

	if p.ExpiresAtSlot < 0 {
		return nil, flowerr.New(flowerr.CategoryIntegerOverflow, "expiresAtSlot out of range")
	}

	buf := make([]byte, Length)
	buf[0] = createSessionDiscriminator
	copy(buf[1:33], sessionKey[:])
	binary.LittleEndian.PutUint64(buf[33:41], uint64(p.ExpiresAtSlot))

	if p.Mint != MintNative {
		mintKey, err := codec.DecodePublicKey(p.Mint)
		if err != nil {
			return nil, flowerr.Wrap(flowerr.CategoryInvalidPublicKey, err, "invalid mint")
		}
		copy(buf[41:73], mintKey[:])
	}

	binary.LittleEndian.PutUint64(buf[73:81], p.MaxAmount)
	binary.LittleEndian.PutUint64(buf[81:89], p.CurrentSlot)

	if len(buf) != Length {
		panic("session challenge must be exactly 89 bytes")
	}

	return buf, nil
}

// Hash returns the SHA-256 digest of a challenge. The digest, not the raw
// buffer, is what the authenticator signs over.
func Hash(challenge []byte) [sha256.Size]byte {
	return sha256.Sum256(challenge)
}

// HashBase64 returns the base64 digest passed as the WebAuthn challenge field.
func HashBase64(challenge []byte) string {
	digest := Hash(challenge)
	return codec.EncodeBase64(digest[:])
}
