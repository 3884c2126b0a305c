// Package authn models the platform authenticator as a capability with two
// implementations: a real platform-backed one (absent on headless builds,
// represented by Unavailable) and a deterministic software double. Flows
// receive an Authenticator by injection and never feature-sniff.
package authn

import (
	"context"

	"github.com/getodyssey/odyssey-companion-go/pkg/flowerr"
)

// ErrNotSupported is returned by authenticators that cannot serve requests.
var ErrNotSupported = flowerr.New(flowerr.CategoryPasskeyFailed, "platform authenticator not available")

// RelyingParty identifies the domain a credential is scoped to.
type RelyingParty struct {
	ID   string
	Name string
}

// User is the account a credential is created for.
type User struct {
	ID          []byte
	Name        string
	DisplayName string
}

// CreateRequest asks the authenticator to mint a new credential.
type CreateRequest struct {
	RelyingParty RelyingParty
	User         User
	Challenge    []byte
}

// Credential is the result of a create operation. PublicKey and RPIDHash
// may be empty when the platform only returns the attestation object; use
// ParseAttestationObject to recover them.
type Credential struct {
	ID                string // base64
	PublicKey         []byte // compressed secp256r1, 33 bytes
	RPIDHash          []byte // 32 bytes
	AttestationObject []byte // CBOR
}

// GetRequest asks for an assertion over a challenge. CredentialID, when
// known, scopes the request to the stored credential.
type GetRequest struct {
	RPID         string
	Challenge    []byte
	CredentialID string // base64, optional
}

// Assertion is a signed WebAuthn assertion.
type Assertion struct {
	CredentialID      string
	Signature         []byte
	AuthenticatorData []byte
	ClientDataJSON    []byte
}

// Authenticator is the opaque passkey capability.
type Authenticator interface {
	IsSupported() bool
	Create(ctx context.Context, req *CreateRequest) (*Credential, error)
	Get(ctx context.Context, req *GetRequest) (*Assertion, error)
}

// Unavailable is the explicit no-capability implementation.
type Unavailable struct{}

func (Unavailable) IsSupported() bool {
	return false
}

func (Unavailable) Create(context.Context, *CreateRequest) (*Credential, error) {
	return nil, ErrNotSupported
}

func (Unavailable) Get(context.Context, *GetRequest) (*Assertion, error) {
	return nil, ErrNotSupported
}
