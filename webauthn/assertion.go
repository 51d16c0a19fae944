package webauthn

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	// ErrAssertionDeclined indicates the user cancelled the ceremony or it
	// timed out waiting for user interaction. Retryable by re-invoking.
	ErrAssertionDeclined = errors.New("assertion declined")
	// ErrAssertionUnavailable indicates a platform or transport failure
	// before the user could complete the ceremony.
	ErrAssertionUnavailable = errors.New("assertion unavailable")
)

// Assertion is the decoded result of an authenticator ceremony, ready for
// the signature codec. ChallengeIndex and TypeIndex are byte offsets of the
// `"challenge":` and `"type":` keys within ClientDataJSON. They are part of
// the verified payload and are always computed from the exact string the
// authenticator returned, never assumed.
type Assertion struct {
	AuthenticatorData []byte
	ClientDataJSON    string
	ChallengeIndex    int
	TypeIndex         int
	R                 *big.Int
	S                 *big.Int
}

// AssertionOptions describes an authenticator assertion request.
type AssertionOptions struct {
	// Challenge is the base64url (no padding) encoding of the hash being
	// authorized. The authenticator embeds this exact string in its
	// clientDataJSON.
	Challenge        string
	RelyingPartyID   string
	AllowCredentials []string
	UserVerification string
}

// AuthenticatorResponse is the raw output of an assertion ceremony.
type AuthenticatorResponse struct {
	AuthenticatorData []byte
	ClientDataJSON    []byte
	Signature         []byte // DER or raw r||s
}

// Authenticator drives a local assertion ceremony. Platform implementations
// may block indefinitely on user interaction and must honor context
// cancellation.
type Authenticator interface {
	Assert(ctx context.Context, options AssertionOptions) (*AuthenticatorResponse, error)
}

// EncodeChallenge returns the base64url, no-padding encoding of a hash as
// required for the ceremony challenge.
func EncodeChallenge(hash []byte) string {
	return base64.RawURLEncoding.EncodeToString(hash)
}

// RequestAssertion runs an assertion ceremony over the given hash and
// decodes the result. allowCredentials restricts which credentials the
// authenticator may use; pass nil to let it choose.
//
// The clientDataJSON returned by the authenticator is passed through
// verbatim. Reconstructing or approximating it would break verification,
// since the key offsets below are checked against the signed bytes.
func RequestAssertion(ctx context.Context, authenticator Authenticator, hash []byte, allowCredentials []string) (*Assertion, error) {
	options := AssertionOptions{
		Challenge:        EncodeChallenge(hash),
		AllowCredentials: allowCredentials,
		UserVerification: "preferred",
	}
	resp, err := authenticator.Assert(ctx, options)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrAssertionDeclined, err)
		}
		if errors.Is(err, ErrAssertionDeclined) || errors.Is(err, ErrAssertionUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrAssertionUnavailable, err)
	}
	return AssertionFromResponse(resp)
}

// AssertionFromResponse decodes a raw authenticator response into an
// Assertion, locating the key offsets and normalizing the signature.
func AssertionFromResponse(resp *AuthenticatorResponse) (*Assertion, error) {
	clientDataJSON := string(resp.ClientDataJSON)
	challengeIndex := strings.Index(clientDataJSON, `"challenge":`)
	typeIndex := strings.Index(clientDataJSON, `"type":`)
	if challengeIndex < 0 || typeIndex < 0 {
		return nil, fmt.Errorf("%w: clientDataJSON missing challenge or type key", ErrAssertionUnavailable)
	}
	r, s, err := ParseSignature(resp.Signature)
	if err != nil {
		return nil, err
	}
	return &Assertion{
		AuthenticatorData: resp.AuthenticatorData,
		ClientDataJSON:    clientDataJSON,
		ChallengeIndex:    challengeIndex,
		TypeIndex:         typeIndex,
		R:                 r,
		S:                 s,
	}, nil
}
