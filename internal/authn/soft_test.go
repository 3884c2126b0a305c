package authn

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getodyssey/odyssey-companion-go/pkg/codec"
)

const testRPID = "app.getodyssey.xyz"

func createTestCredential(t *testing.T, a *SoftAuthenticator) *Credential {
	t.Helper()
	credential, err := a.Create(context.Background(), &CreateRequest{
		RelyingParty: RelyingParty{ID: testRPID, Name: "Odyssey"},
		User:         User{ID: []byte("wallet-1"), Name: "device"},
		Challenge:    bytes.Repeat([]byte{0x01}, 32),
	})
	require.NoError(t, err)
	return credential
}

func TestSoftAuthenticatorCreate(t *testing.T) {
	a := NewSoftAuthenticator()
	credential := createTestCredential(t, a)

	assert.NotEmpty(t, credential.ID)
	assert.Len(t, credential.PublicKey, 33)
	assert.Contains(t, []byte{0x02, 0x03}, credential.PublicKey[0])

	rpIDHash := sha256.Sum256([]byte(testRPID))
	assert.Equal(t, rpIDHash[:], credential.RPIDHash)
	assert.NotEmpty(t, credential.AttestationObject)
}

func TestParseAttestationObjectMatchesCredential(t *testing.T) {
	a := NewSoftAuthenticator()
	credential := createTestCredential(t, a)

	parsed, err := ParseAttestationObject(credential.AttestationObject)
	require.NoError(t, err)

	assert.Equal(t, credential.PublicKey, parsed.PublicKey)
	assert.Equal(t, credential.RPIDHash, parsed.RPIDHash)
	assert.Equal(t, credential.ID, codec.EncodeBase64(parsed.CredentialID))
	assert.Equal(t, bytes.Repeat([]byte{0}, 16), parsed.AAGUID)
}

func TestParseAttestationObjectRejectsGarbage(t *testing.T) {
	_, err := ParseAttestationObject([]byte("not cbor at all"))
	assert.Error(t, err)
}

func TestSoftAuthenticatorAssertionVerifies(t *testing.T) {
	a := NewSoftAuthenticator()
	credential := createTestCredential(t, a)

	challenge := bytes.Repeat([]byte{0x5a}, 32)
	assertion, err := a.Get(context.Background(), &GetRequest{
		RPID:         testRPID,
		Challenge:    challenge,
		CredentialID: credential.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, credential.ID, assertion.CredentialID)

	// clientDataJSON carries the base64url challenge and the RP origin.
	var clientData struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
		Origin    string `json:"origin"`
	}
	require.NoError(t, json.Unmarshal(assertion.ClientDataJSON, &clientData))
	assert.Equal(t, "webauthn.get", clientData.Type)
	assert.Equal(t, codec.EncodeBase64URL(challenge), clientData.Challenge)
	assert.Equal(t, "https://"+testRPID, clientData.Origin)

	// The signature must verify against the credential's public key over
	// sha256(authData || sha256(clientDataJSON)), the WebAuthn signing base.
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), credential.PublicKey)
	require.NotNil(t, x)
	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}

	clientDataHash := sha256.Sum256(assertion.ClientDataJSON)
	digest := sha256.Sum256(append(append([]byte(nil), assertion.AuthenticatorData...), clientDataHash[:]...))
	assert.True(t, ecdsa.VerifyASN1(pub, digest[:], assertion.Signature))

	// authData starts with the rpId hash.
	rpIDHash := sha256.Sum256([]byte(testRPID))
	require.GreaterOrEqual(t, len(assertion.AuthenticatorData), 37)
	assert.Equal(t, rpIDHash[:], assertion.AuthenticatorData[:32])
}

func TestSoftAuthenticatorDiscoverableLookup(t *testing.T) {
	a := NewSoftAuthenticator()
	credential := createTestCredential(t, a)

	assertion, err := a.Get(context.Background(), &GetRequest{
		RPID:      testRPID,
		Challenge: bytes.Repeat([]byte{0x5a}, 32),
	})
	require.NoError(t, err)
	assert.Equal(t, credential.ID, assertion.CredentialID)
}

func TestSoftAuthenticatorUnknownCredential(t *testing.T) {
	a := NewSoftAuthenticator()
	createTestCredential(t, a)

	_, err := a.Get(context.Background(), &GetRequest{
		RPID:         testRPID,
		Challenge:    bytes.Repeat([]byte{0x5a}, 32),
		CredentialID: "bm8tc3VjaC1jcmVkZW50aWFs",
	})
	assert.Error(t, err)

	_, err = a.Get(context.Background(), &GetRequest{
		RPID:      "other.example.com",
		Challenge: bytes.Repeat([]byte{0x5a}, 32),
	})
	assert.Error(t, err)
}

func TestSoftAuthenticatorSignCountIncrements(t *testing.T) {
	a := NewSoftAuthenticator()
	credential := createTestCredential(t, a)

	first, err := a.Get(context.Background(), &GetRequest{RPID: testRPID, Challenge: []byte{1}, CredentialID: credential.ID})
	require.NoError(t, err)
	second, err := a.Get(context.Background(), &GetRequest{RPID: testRPID, Challenge: []byte{1}, CredentialID: credential.ID})
	require.NoError(t, err)

	countOf := func(authData []byte) uint32 {
		return uint32(authData[33])<<24 | uint32(authData[34])<<16 | uint32(authData[35])<<8 | uint32(authData[36])
	}
	assert.Equal(t, countOf(first.AuthenticatorData)+1, countOf(second.AuthenticatorData))
}

func TestUnavailableAuthenticator(t *testing.T) {
	a := Unavailable{}
	assert.False(t, a.IsSupported())

	_, err := a.Create(context.Background(), &CreateRequest{})
	assert.ErrorIs(t, err, ErrNotSupported)

	_, err = a.Get(context.Background(), &GetRequest{})
	assert.ErrorIs(t, err, ErrNotSupported)
}
