package webauthn

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DefaultOrigin is the origin embedded in software-built clientDataJSON.
const DefaultOrigin = "https://localhost"

// DefaultAuthenticatorData is the fixed 37-byte authenticator payload used
// for software-backed assertions: a relying-party id hash, flags 0x05
// (user present + user verified) and a zero signature counter.
var DefaultAuthenticatorData = hexutil.MustDecode("0x49960de5880e8c687434170f6476605b8fe4aeb9a28632c7995cf3ba831d97630500000000")

// DigestSigner produces a DER-encoded P-256 signature over a 32-byte digest.
type DigestSigner interface {
	SignDigest(ctx context.Context, digest []byte) ([]byte, error)
}

// SoftwareAuthenticator emulates a platform authenticator with a local
// P-256 key. It builds a deterministic clientDataJSON for the requested
// challenge and signs sha256(authenticatorData || sha256(clientDataJSON)),
// which is exactly what an on-chain WebAuthn verifier checks. There is no
// user-interaction step, so assertions never block.
type SoftwareAuthenticator struct {
	Signer DigestSigner

	// Origin overrides DefaultOrigin in the clientDataJSON.
	Origin string
	// AuthenticatorData overrides DefaultAuthenticatorData.
	AuthenticatorData []byte
}

// ClientData renders the clientDataJSON a software assertion embeds for a
// given challenge. Exposed so callers can size placeholder signatures to
// the exact final encoding.
func ClientData(challenge, origin string) string {
	if origin == "" {
		origin = DefaultOrigin
	}
	return fmt.Sprintf(`{"type":"webauthn.get","challenge":"%s","origin":"%s"}`, challenge, origin)
}

// PlatformClientData renders the clientDataJSON shape platform passkey
// authenticators produce. The extra crossOrigin field ABI-encodes a
// signature one word longer than the software shape, so placeholders for
// passkey signing must be sized with this template instead.
func PlatformClientData(challenge, origin string) string {
	return fmt.Sprintf(`{"type":"webauthn.get","challenge":"%s","origin":"%s","crossOrigin":false}`, challenge, origin)
}

// Assert implements Authenticator.
func (a *SoftwareAuthenticator) Assert(ctx context.Context, options AssertionOptions) (*AuthenticatorResponse, error) {
	if a.Signer == nil {
		return nil, fmt.Errorf("%w: no signer configured", ErrAssertionUnavailable)
	}
	authData := a.AuthenticatorData
	if authData == nil {
		authData = DefaultAuthenticatorData
	}
	clientDataJSON := ClientData(options.Challenge, a.Origin)

	clientDataHash := sha256.Sum256([]byte(clientDataJSON))
	message := make([]byte, 0, len(authData)+len(clientDataHash))
	message = append(message, authData...)
	message = append(message, clientDataHash[:]...)
	digest := sha256.Sum256(message)

	sig, err := a.Signer.SignDigest(ctx, digest[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssertionUnavailable, err)
	}
	return &AuthenticatorResponse{
		AuthenticatorData: authData,
		ClientDataJSON:    []byte(clientDataJSON),
		Signature:         sig,
	}, nil
}
