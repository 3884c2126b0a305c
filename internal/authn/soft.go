package authn

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/getodyssey/odyssey-companion-go/pkg/codec"
	"github.com/getodyssey/odyssey-companion-go/pkg/flowerr"
)

// Authenticator data flags.
const (
	flagUserPresent            = 0x01
	flagUserVerified           = 0x04
	flagAttestedCredentialData = 0x40
)

var zeroAAGUID [16]byte

type softCredential struct {
	id   string
	rpID string
	key  *ecdsa.PrivateKey
}

// SoftAuthenticator is a software passkey: P-256 keys held in memory,
// real authenticatorData/clientDataJSON/attestation construction. It backs
// development and tests; the linking flow treats it like any other
// Authenticator.
type SoftAuthenticator struct {
	mu          sync.Mutex
	credentials map[string]*softCredential
	signCount   uint32
}

func NewSoftAuthenticator() *SoftAuthenticator {
	return &SoftAuthenticator{credentials: make(map[string]*softCredential)}
}

func (a *SoftAuthenticator) IsSupported() bool {
	return true
}

func (a *SoftAuthenticator) Create(_ context.Context, req *CreateRequest) (*Credential, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, flowerr.Wrap(flowerr.CategoryPasskeyFailed, err, "failed to generate credential key")
	}

	credentialID := uuid.New()
	idBase64 := codec.EncodeBase64(credentialID[:])
	rpIDHash := sha256.Sum256([]byte(req.RelyingParty.ID))

	coseKey, err := marshalCOSEKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	authData := buildAuthData(rpIDHash[:], flagUserPresent|flagUserVerified|flagAttestedCredentialData, 0)
	authData = append(authData, zeroAAGUID[:]...)
	authData = binary.BigEndian.AppendUint16(authData, uint16(len(credentialID)))
	authData = append(authData, credentialID[:]...)
	authData = append(authData, coseKey...)

	attestation, err := cbor.Marshal(attestationObject{
		Format:   "none",
		AttStmt:  map[string]interface{}{},
		AuthData: authData,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode attestation object")
	}

	a.mu.Lock()
	a.credentials[idBase64] = &softCredential{id: idBase64, rpID: req.RelyingParty.ID, key: key}
	a.mu.Unlock()

	return &Credential{
		ID:                idBase64,
		PublicKey:         elliptic.MarshalCompressed(elliptic.P256(), key.PublicKey.X, key.PublicKey.Y),
		RPIDHash:          rpIDHash[:],
		AttestationObject: attestation,
	}, nil
}

func (a *SoftAuthenticator) Get(_ context.Context, req *GetRequest) (*Assertion, error) {
	cred, err := a.lookup(req)
	if err != nil {
		return nil, err
	}

	clientData, err := json.Marshal(map[string]interface{}{
		"type":      "webauthn.get",
		"challenge": codec.EncodeBase64URL(req.Challenge),
		"origin":    "https://" + req.RPID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode client data")
	}

	rpIDHash := sha256.Sum256([]byte(req.RPID))

	a.mu.Lock()
	a.signCount++
	count := a.signCount
	a.mu.Unlock()

	authData := buildAuthData(rpIDHash[:], flagUserPresent|flagUserVerified, count)

	clientDataHash := sha256.Sum256(clientData)
	digest := sha256.Sum256(append(append([]byte(nil), authData...), clientDataHash[:]...))

	signature, err := ecdsa.SignASN1(rand.Reader, cred.key, digest[:])
	if err != nil {
		return nil, flowerr.Wrap(flowerr.CategoryPasskeyFailed, err, "failed to sign assertion")
	}

	return &Assertion{
		CredentialID:      cred.id,
		Signature:         signature,
		AuthenticatorData: authData,
		ClientDataJSON:    clientData,
	}, nil
}

func (a *SoftAuthenticator) lookup(req *GetRequest) (*softCredential, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if req.CredentialID != "" {
		if cred, ok := a.credentials[req.CredentialID]; ok {
			return cred, nil
		}
		return nil, flowerr.New(flowerr.CategoryPasskeyFailed, "no credential with requested id")
	}

	// Discoverable-credential path: any credential scoped to the RP.
	for _, cred := range a.credentials {
		if cred.rpID == req.RPID {
			return cred, nil
		}
	}
	return nil, flowerr.New(flowerr.CategoryPasskeyFailed, "no credential for relying party")
}

func buildAuthData(rpIDHash []byte, flags byte, signCount uint32) []byte {
	data := make([]byte, 0, 37)
	data = append(data, rpIDHash...)
	data = append(data, flags)
	data = binary.BigEndian.AppendUint32(data, signCount)
	return data
}
