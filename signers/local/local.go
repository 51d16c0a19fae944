// Package local provisions session-scoped alternate signers: an in-process
// P-256 keypair or a platform passkey credential. Key material never leaves
// the handle; passkey-backed handles hold no key material at all and
// delegate to the platform authenticator.
package local

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/smartwallet-foundation/sessionkeys/go/webauthn"
)

// ErrAlreadyProvisioned indicates a signer already exists for this session.
// Clear the provisioner before creating another.
var ErrAlreadyProvisioned = errors.New("signer already provisioned for this session")

// Handle is the uniform signer capability: a public identity plus the
// ability to sign a digest. The private key, when present, is unexported
// and has no accessor; it cannot be serialized or exported through this
// handle. Handles live for one session — a re-provisioned handle is a new
// on-chain owner.
type Handle struct {
	key           *ecdsa.PrivateKey
	publicKey     []byte
	credentialID  string
	authenticator webauthn.Authenticator
}

// PublicKey returns the signer's 64-byte X||Y public key.
func (h *Handle) PublicKey() []byte {
	return append([]byte{}, h.publicKey...)
}

// CredentialID returns the passkey credential id, or "" for plain keys.
func (h *Handle) CredentialID() string {
	return h.credentialID
}

// Authenticator returns the platform authenticator for passkey-backed
// handles, or nil for plain keys.
func (h *Handle) Authenticator() webauthn.Authenticator {
	return h.authenticator
}

// SignDigest produces a DER-encoded P-256 signature over a 32-byte digest.
// Passkey-backed handles cannot sign digests directly; their signatures
// come from the authenticator ceremony.
func (h *Handle) SignDigest(_ context.Context, digest []byte) ([]byte, error) {
	if h.key == nil {
		return nil, fmt.Errorf("handle holds no key material; use the authenticator ceremony")
	}
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	return ecdsa.SignASN1(rand.Reader, h.key, digest)
}

// RegistrationOptions describe a passkey registration ceremony.
type RegistrationOptions struct {
	RelyingPartyID   string
	RelyingPartyName string
	UserID           []byte
	UserName         string
}

// Credential is the result of a passkey registration: the credential id
// and the extracted 64-byte X||Y public key.
type Credential struct {
	ID        string
	PublicKey []byte
}

// Registrar drives a passkey registration ceremony on the platform
// authenticator.
type Registrar interface {
	Register(ctx context.Context, options RegistrationOptions) (*Credential, error)
}

// Provisioner creates at most one outstanding signer per logical session.
type Provisioner struct {
	mu     sync.Mutex
	active *Handle
}

// NewProvisioner creates an empty provisioner.
func NewProvisioner() *Provisioner {
	return &Provisioner{}
}

// ProvisionKey generates a fresh P-256 keypair and returns its handle.
func (p *Provisioner) ProvisionKey() (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		return nil, ErrAlreadyProvisioned
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	p.active = &Handle{
		key:       key,
		publicKey: encodePublicKey(&key.PublicKey),
	}
	return p.active, nil
}

// ProvisionPasskey registers a new passkey credential through the given
// registrar and returns a handle that signs via the platform authenticator.
func (p *Provisioner) ProvisionPasskey(ctx context.Context, registrar Registrar, authenticator webauthn.Authenticator, relyingPartyID, relyingPartyName string) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		return nil, ErrAlreadyProvisioned
	}
	credential, err := registrar.Register(ctx, RegistrationOptions{
		RelyingPartyID:   relyingPartyID,
		RelyingPartyName: relyingPartyName,
		UserID:           []byte(uuid.NewString()),
		UserName:         relyingPartyName,
	})
	if err != nil {
		return nil, fmt.Errorf("register passkey: %w", err)
	}
	if len(credential.PublicKey) != 64 {
		return nil, fmt.Errorf("registrar returned %d-byte public key, want 64", len(credential.PublicKey))
	}
	p.active = &Handle{
		publicKey:     append([]byte{}, credential.PublicKey...),
		credentialID:  credential.ID,
		authenticator: authenticator,
	}
	return p.active, nil
}

// Active returns the session's handle, or nil.
func (p *Provisioner) Active() *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Clear destroys the session signer. A subsequent provision produces a new
// on-chain owner; persistence across sessions requires re-deploying or
// re-configuring the account.
func (p *Provisioner) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = nil
}

func encodePublicKey(pub *ecdsa.PublicKey) []byte {
	out := make([]byte, 64)
	pub.X.FillBytes(out[:32])
	pub.Y.FillBytes(out[32:])
	return out
}
