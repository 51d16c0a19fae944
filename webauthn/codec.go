// Package webauthn implements the signature envelope used by multi-owner
// smart accounts that verify WebAuthn assertions on-chain. It decodes raw
// P-256 signatures, normalizes them to canonical low-S form, and ABI-packs
// them together with the authenticator context into the WebAuthnAuth and
// SignatureWrapper layouts the on-chain verifier expects.
//
// The byte layout produced here is a fixed contract with the verifier.
// Field order and offsets are not negotiable; a mismatch fails signature
// verification on-chain with no actionable error.
package webauthn

import (
	"crypto/elliptic"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ErrInvalidSignatureEncoding indicates the signature bytes were neither
// valid DER nor a raw 64-byte r||s pair.
var ErrInvalidSignatureEncoding = errors.New("invalid signature encoding")

var (
	// p256Order is the order of the secp256r1 curve.
	p256Order = elliptic.P256().Params().N
	// p256HalfOrder is the threshold above which s is considered high.
	p256HalfOrder = new(big.Int).Rsh(p256Order, 1)
)

var (
	webAuthnAuthArgs     abi.Arguments
	signatureWrapperArgs abi.Arguments
)

func init() {
	authType, err := abi.NewType("tuple", "WebAuthnAuth", []abi.ArgumentMarshaling{
		{Name: "authenticatorData", Type: "bytes"},
		{Name: "clientDataJSON", Type: "bytes"},
		{Name: "challengeIndex", Type: "uint256"},
		{Name: "typeIndex", Type: "uint256"},
		{Name: "r", Type: "uint256"},
		{Name: "s", Type: "uint256"},
	})
	if err != nil {
		panic(fmt.Sprintf("webauthn: build WebAuthnAuth type: %v", err))
	}
	wrapperType, err := abi.NewType("tuple", "SignatureWrapper", []abi.ArgumentMarshaling{
		{Name: "ownerIndex", Type: "uint256"},
		{Name: "signatureData", Type: "bytes"},
	})
	if err != nil {
		panic(fmt.Sprintf("webauthn: build SignatureWrapper type: %v", err))
	}
	webAuthnAuthArgs = abi.Arguments{{Name: "auth", Type: authType}}
	signatureWrapperArgs = abi.Arguments{{Name: "wrapper", Type: wrapperType}}
}

// derSignature mirrors the ASN.1 SEQUENCE emitted by platform authenticators.
type derSignature struct {
	R, S *big.Int
}

// ParseSignature decodes a DER-encoded or raw 64-byte P-256 signature into
// its (r, s) components and normalizes s to the low half of the curve order.
//
// Platform authenticators emit either high-S or low-S signatures
// nondeterministically; many verifiers reject high-S as malleable, so the
// output is always canonical. The signature itself is never verified here.
func ParseSignature(sig []byte) (r, s *big.Int, err error) {
	var parsed derSignature
	rest, derErr := asn1.Unmarshal(sig, &parsed)
	if derErr == nil && len(rest) == 0 {
		r, s = parsed.R, parsed.S
	} else if len(sig) == 64 {
		r = new(big.Int).SetBytes(sig[:32])
		s = new(big.Int).SetBytes(sig[32:])
	} else {
		return nil, nil, ErrInvalidSignatureEncoding
	}
	if r.Sign() <= 0 || s.Sign() <= 0 || r.Cmp(p256Order) >= 0 || s.Cmp(p256Order) >= 0 {
		return nil, nil, ErrInvalidSignatureEncoding
	}
	return r, NormalizeS(s), nil
}

// NormalizeS returns the canonical low-S form of s. Normalizing an already
// low-S value is a no-op.
func NormalizeS(s *big.Int) *big.Int {
	if s.Cmp(p256HalfOrder) > 0 {
		return new(big.Int).Sub(p256Order, s)
	}
	return new(big.Int).Set(s)
}

// webAuthnAuth is the on-chain WebAuthnAuth struct. Field names must match
// the ABI component names above.
type webAuthnAuth struct {
	AuthenticatorData []byte
	ClientDataJSON    []byte
	ChallengeIndex    *big.Int
	TypeIndex         *big.Int
	R                 *big.Int
	S                 *big.Int
}

// signatureWrapper is the outer multi-owner envelope.
type signatureWrapper struct {
	OwnerIndex    *big.Int
	SignatureData []byte
}

// BuildWebAuthnAuth ABI-encodes an assertion into the WebAuthnAuth record.
func BuildWebAuthnAuth(a *Assertion) ([]byte, error) {
	if a.R == nil || a.S == nil {
		return nil, ErrInvalidSignatureEncoding
	}
	packed, err := webAuthnAuthArgs.Pack(webAuthnAuth{
		AuthenticatorData: a.AuthenticatorData,
		ClientDataJSON:    []byte(a.ClientDataJSON),
		ChallengeIndex:    big.NewInt(int64(a.ChallengeIndex)),
		TypeIndex:         big.NewInt(int64(a.TypeIndex)),
		R:                 a.R,
		S:                 NormalizeS(a.S),
	})
	if err != nil {
		return nil, fmt.Errorf("pack WebAuthnAuth: %w", err)
	}
	return packed, nil
}

// WrapSignature ABI-encodes signature data into the SignatureWrapper record
// for the owner at the given index. The index must reflect the account's
// owner list at verification time, not at signer creation time.
func WrapSignature(ownerIndex *big.Int, signatureData []byte) ([]byte, error) {
	packed, err := signatureWrapperArgs.Pack(signatureWrapper{
		OwnerIndex:    ownerIndex,
		SignatureData: signatureData,
	})
	if err != nil {
		return nil, fmt.Errorf("pack SignatureWrapper: %w", err)
	}
	return packed, nil
}

// BuildSignature packs a full assertion into the outer wrapper for the owner
// at ownerIndex. This is the submittable signature for WebAuthn owners.
func BuildSignature(ownerIndex *big.Int, a *Assertion) ([]byte, error) {
	auth, err := BuildWebAuthnAuth(a)
	if err != nil {
		return nil, err
	}
	return WrapSignature(ownerIndex, auth)
}
