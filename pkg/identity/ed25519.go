// Package identity verifies Ed25519 signatures over agent-identity
// messages and generic payloads.
//
// Two calling conventions exist because the agent-identity channel reuses
// Solana's base58 key format while the device channel is base64 throughout.
// Both verifiers fail closed: any decoding error, malformed key, or
// verification failure returns false. Nothing here throws; callers log the
// rejection if they care why.
package identity

import (
	"crypto/ed25519"
	"fmt"

	"github.com/getodyssey/odyssey-companion-go/pkg/codec"
)

// VerifySignature verifies a detached Ed25519 signature where message,
// signature and public key are all base64-encoded.
func VerifySignature(message, signature, pubkey string) bool {
	msg, err := codec.DecodeBase64(message)
	if err != nil {
		return false
	}

	sig, err := codec.DecodeBase64(signature)
	if err != nil {
		return false
	}

	pk, err := codec.DecodeBase64(pubkey)
	if err != nil {
		return false
	}

	return verify(pk, msg, sig)
}

// VerifyAgentSignature verifies a detached Ed25519 signature where the
// message is raw UTF-8 text, the signature is base64 and the public key is
// base58 (Solana convention).
func VerifyAgentSignature(message, signature, pubkey string) bool {
	sig, err := codec.DecodeBase64(signature)
	if err != nil {
		return false
	}

	pk, err := codec.DecodeBase58(pubkey)
	if err != nil {
		return false
	}

	return verify(pk, []byte(message), sig)
}

// AgentPairingMessage builds the canonical message an agent signs to prove
// its identity during pairing.
func AgentPairingMessage(code, agentID string, timestampMillis int64) string {
	return fmt.Sprintf("%s:%s:%d", code, agentID, timestampMillis)
}

func verify(pubkey, message, signature []byte) bool {
	// ed25519.Verify panics on a key of the wrong size, so the length
	// checks are part of failing closed.
	if len(pubkey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubkey), message, signature)
}
