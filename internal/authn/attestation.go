package authn

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/binary"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// COSE constants for an EC2 P-256 key (RFC 9053).
const (
	coseKeyTypeEC2 = 2
	coseAlgES256   = -7
	coseCurveP256  = 1
)

type attestationObject struct {
	Format   string                 `cbor:"fmt"`
	AttStmt  map[string]interface{} `cbor:"attStmt"`
	AuthData []byte                 `cbor:"authData"`
}

type coseKey struct {
	KeyType int    `cbor:"1,keyasint"`
	Alg     int    `cbor:"3,keyasint"`
	Curve   int    `cbor:"-1,keyasint"`
	X       []byte `cbor:"-2,keyasint"`
	Y       []byte `cbor:"-3,keyasint"`
}

// ParsedCredential is the verifier-relevant content of an attestation object.
type ParsedCredential struct {
	CredentialID []byte
	PublicKey    []byte // compressed secp256r1, 33 bytes
	RPIDHash     []byte
	AAGUID       []byte
	SignCount    uint32
}

// ParseAttestationObject decodes a WebAuthn attestation object and extracts
// the attested credential: credential ID, compressed P-256 public key and
// rpId hash. A structural CBOR decode, not a byte-pattern scan, so it
// survives legitimate encoder variation.
func ParseAttestationObject(raw []byte) (*ParsedCredential, error) {
	var att attestationObject
	if err := cbor.Unmarshal(raw, &att); err != nil {
		return nil, errors.Wrap(err, "failed to decode attestation object")
	}

	authData := att.AuthData
	if len(authData) < 37 {
		return nil, errors.New("authenticator data too short")
	}

	rpIDHash := authData[:32]
	flags := authData[32]
	signCount := binary.BigEndian.Uint32(authData[33:37])

	if flags&flagAttestedCredentialData == 0 {
		return nil, errors.New("attestation carries no attested credential data")
	}

	rest := authData[37:]
	if len(rest) < 18 {
		return nil, errors.New("attested credential data truncated")
	}

	aaguid := rest[:16]
	idLen := int(binary.BigEndian.Uint16(rest[16:18]))
	rest = rest[18:]
	if len(rest) < idLen {
		return nil, errors.New("credential id truncated")
	}

	credentialID := rest[:idLen]

	var key coseKey
	if err := cbor.Unmarshal(rest[idLen:], &key); err != nil {
		return nil, errors.Wrap(err, "failed to decode COSE key")
	}
	compressed, err := compressCOSEKey(&key)
	if err != nil {
		return nil, err
	}

	return &ParsedCredential{
		CredentialID: append([]byte(nil), credentialID...),
		PublicKey:    compressed,
		RPIDHash:     append([]byte(nil), rpIDHash...),
		AAGUID:       append([]byte(nil), aaguid...),
		SignCount:    signCount,
	}, nil
}

func compressCOSEKey(key *coseKey) ([]byte, error) {
	if key.KeyType != coseKeyTypeEC2 || key.Curve != coseCurveP256 {
		return nil, errors.Errorf("unsupported COSE key: kty=%d crv=%d", key.KeyType, key.Curve)
	}
	if len(key.X) != 32 || len(key.Y) != 32 {
		return nil, errors.New("malformed COSE key coordinates")
	}

	x := new(big.Int).SetBytes(key.X)
	y := new(big.Int).SetBytes(key.Y)
	if !elliptic.P256().IsOnCurve(x, y) {
		return nil, errors.New("COSE key not on P-256")
	}
	return elliptic.MarshalCompressed(elliptic.P256(), x, y), nil
}

func marshalCOSEKey(pub *ecdsa.PublicKey) ([]byte, error) {
	key := coseKey{
		KeyType: coseKeyTypeEC2,
		Alg:     coseAlgES256,
		Curve:   coseCurveP256,
		X:       leftPad32(pub.X.Bytes()),
		Y:       leftPad32(pub.Y.Bytes()),
	}
	encoded, err := cbor.Marshal(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode COSE key")
	}
	return encoded, nil
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}
