package sessionkeys

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/smartwallet-foundation/sessionkeys/go/account"
	"github.com/smartwallet-foundation/sessionkeys/go/bundler"
	"github.com/smartwallet-foundation/sessionkeys/go/userop"
	"github.com/smartwallet-foundation/sessionkeys/go/webauthn"
)

// OperationState is the state of a submission attempt.
type OperationState string

const (
	StateBuilt     OperationState = "built"
	StateHashed    OperationState = "hashed"
	StateSigning   OperationState = "signing"
	StateSigned    OperationState = "signed"
	StateSubmitted OperationState = "submitted"
	StateConfirmed OperationState = "confirmed"
	StateFailed    OperationState = "failed"
	StateTimedOut  OperationState = "timed_out"
)

// SignerKind discriminates the closed set of signing strategies.
type SignerKind int

const (
	SignerKindLocalKey SignerKind = iota
	SignerKindPasskey
	SignerKindDelegated
	SignerKindProvider
)

// SignerCapability is a closed tagged variant selecting one signing
// strategy. Dispatch is by explicit kind, never by structural inspection of
// the underlying value.
type SignerCapability struct {
	kind SignerKind

	localKey         DigestSigner
	passkeyAuth      webauthn.Authenticator
	credentialID     string
	passkeyPublicKey []byte
	delegated        HashSigner
}

// LocalKeyCapability signs with a session-local P-256 key. The key's
// WebAuthn envelope is built deterministically in-process; no ceremony runs
// and nothing blocks on user interaction.
func LocalKeyCapability(signer DigestSigner) SignerCapability {
	return SignerCapability{kind: SignerKindLocalKey, localKey: signer}
}

// PasskeyCapability signs through a platform authenticator ceremony.
func PasskeyCapability(authenticator webauthn.Authenticator, credentialID string, publicKey []byte) SignerCapability {
	return SignerCapability{
		kind:             SignerKindPasskey,
		passkeyAuth:      authenticator,
		credentialID:     credentialID,
		passkeyPublicKey: publicKey,
	}
}

// DelegatedCapability forwards the hash to a remote signer endpoint that
// signs as its own owner record.
func DelegatedCapability(signer HashSigner) SignerCapability {
	return SignerCapability{kind: SignerKindDelegated, delegated: signer}
}

// ProviderCapability marks signing as handled by the connected wallet
// provider; this core cannot execute it.
func ProviderCapability() SignerCapability {
	return SignerCapability{kind: SignerKindProvider}
}

// Kind returns the capability's variant tag.
func (c SignerCapability) Kind() SignerKind {
	return c.kind
}

// Attempt tracks one submission attempt through the signing state machine.
// An attempt that fails is not reusable: gas and nonce fields may be stale,
// so re-signing requires rebuilding the operation.
type Attempt struct {
	State       OperationState
	Op          *userop.UserOperation
	Hash        common.Hash
	OperationID common.Hash

	// Context is the grant's opaque token, carried out-of-band alongside
	// the signature. It is not part of the signed hash: the counterpart
	// validates it against the permission record it already holds.
	Context hexutil.Bytes

	Err error
}

func (a *Attempt) fail(err error) error {
	a.State = StateFailed
	a.Err = err
	return err
}

// OperationSigner signs built user operations for one entry point and
// chain. It holds no per-attempt state; concurrent attempts for different
// accounts are independent.
type OperationSigner struct {
	entryPoint common.Address
	chainID    *big.Int
	reader     ChainReader
}

// NewOperationSigner creates an operation signer.
func NewOperationSigner(entryPoint common.Address, chainID *big.Int, reader ChainReader) *OperationSigner {
	return &OperationSigner{
		entryPoint: entryPoint,
		chainID:    chainID,
		reader:     reader,
	}
}

// NewAttempt starts the state machine for a built operation.
func (s *OperationSigner) NewAttempt(op *userop.UserOperation) *Attempt {
	return &Attempt{State: StateBuilt, Op: op}
}

// BuildAttempt assembles a fresh operation with the builder and starts its
// state machine. Estimation failures carry the estimation_failed code so
// callers can tell them from signing or submission failures.
func (s *OperationSigner) BuildAttempt(ctx context.Context, builder *userop.Builder, params userop.BuildParams) (*Attempt, error) {
	op, err := builder.Build(ctx, params)
	if err != nil {
		if errors.Is(err, userop.ErrEstimation) {
			return nil, NewProtocolError(ErrCodeEstimationFailed, err.Error(), nil)
		}
		return nil, err
	}
	return s.NewAttempt(op), nil
}

// Sign hashes the attempt's operation and produces its authorization
// signature using the given capability. A non-nil grant scopes the
// operation to that permission: its context is attached to the attempt and
// its expiry is checked first.
//
// The owner index is resolved immediately before signing, never cached:
// it must match the account's owner list at verification time.
func (s *OperationSigner) Sign(ctx context.Context, attempt *Attempt, capability SignerCapability, grant *GrantedPermission) error {
	if attempt.State != StateBuilt {
		return attempt.fail(fmt.Errorf("cannot sign attempt in state %q", attempt.State))
	}
	if err := ValidateUserOperation(attempt.Op); err != nil {
		return attempt.fail(err)
	}
	if grant != nil {
		if grant.Expired(time.Now()) {
			return attempt.fail(NewProtocolError(ErrCodeGrantExpired, "grant has expired", nil))
		}
		attempt.Context = grant.Context
	}

	hash, err := userop.ComputeHash(attempt.Op, s.entryPoint, s.chainID)
	if err != nil {
		return attempt.fail(err)
	}
	attempt.Hash = hash
	attempt.State = StateHashed

	attempt.State = StateSigning
	signature, err := s.sign(ctx, attempt.Op.Sender, hash, capability)
	if err != nil {
		return attempt.fail(signingError(err))
	}

	attempt.Op.Signature = signature
	attempt.State = StateSigned
	return nil
}

func (s *OperationSigner) sign(ctx context.Context, sender common.Address, hash common.Hash, capability SignerCapability) ([]byte, error) {
	switch capability.kind {
	case SignerKindLocalKey:
		return s.signLocalKey(ctx, sender, hash, capability.localKey)
	case SignerKindPasskey:
		return s.signPasskey(ctx, sender, hash, capability)
	case SignerKindDelegated:
		return s.signDelegated(ctx, sender, hash, capability.delegated)
	case SignerKindProvider:
		return nil, NewProtocolError(ErrCodeUnsupportedSigner, "provider signing is handled by the wallet transport", nil)
	default:
		return nil, NewProtocolError(ErrCodeUnsupportedSigner, fmt.Sprintf("unknown signer kind %d", capability.kind), nil)
	}
}

func (s *OperationSigner) signLocalKey(ctx context.Context, sender common.Address, hash common.Hash, signer DigestSigner) ([]byte, error) {
	owner, err := account.OwnerPublicKey(signer.PublicKey())
	if err != nil {
		return nil, err
	}
	ownerIndex, err := account.ResolveOwnerIndex(ctx, s.reader, sender, owner)
	if err != nil {
		return nil, err
	}
	authenticator := &webauthn.SoftwareAuthenticator{Signer: signer}
	assertion, err := webauthn.RequestAssertion(ctx, authenticator, hash[:], nil)
	if err != nil {
		return nil, err
	}
	return webauthn.BuildSignature(new(big.Int).SetUint64(ownerIndex), assertion)
}

func (s *OperationSigner) signPasskey(ctx context.Context, sender common.Address, hash common.Hash, capability SignerCapability) ([]byte, error) {
	owner, err := account.OwnerPublicKey(capability.passkeyPublicKey)
	if err != nil {
		return nil, err
	}
	ownerIndex, err := account.ResolveOwnerIndex(ctx, s.reader, sender, owner)
	if err != nil {
		return nil, err
	}
	var allow []string
	if capability.credentialID != "" {
		allow = []string{capability.credentialID}
	}
	assertion, err := webauthn.RequestAssertion(ctx, capability.passkeyAuth, hash[:], allow)
	if err != nil {
		return nil, err
	}
	return webauthn.BuildSignature(new(big.Int).SetUint64(ownerIndex), assertion)
}

func (s *OperationSigner) signDelegated(ctx context.Context, sender common.Address, hash common.Hash, signer HashSigner) ([]byte, error) {
	ownerIndex, err := account.ResolveOwnerIndex(ctx, s.reader, sender, account.OwnerAddress(signer.Address()))
	if err != nil {
		return nil, err
	}
	signature, err := signer.SignHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	// The remote endpoint signs as its own owner record; its signature is
	// used unchanged except for the outer wrapper.
	return webauthn.WrapSignature(new(big.Int).SetUint64(ownerIndex), signature)
}

// Submit sends a signed attempt to the bundler.
func (s *OperationSigner) Submit(ctx context.Context, submitter Submitter, attempt *Attempt) error {
	if attempt.State != StateSigned {
		return attempt.fail(fmt.Errorf("cannot submit attempt in state %q", attempt.State))
	}
	operationID, err := submitter.SendUserOperation(ctx, attempt.Op)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			attempt.State = StateTimedOut
			attempt.Err = err
			return NewProtocolError(ErrCodeTimedOut, err.Error(), nil)
		}
		return attempt.fail(NewProtocolError(ErrCodeSubmissionRejected, err.Error(), nil))
	}
	attempt.OperationID = operationID
	attempt.State = StateSubmitted
	return nil
}

// PollStatus performs a single status query for a submitted attempt and
// advances the state machine on a terminal result. Scheduling repeated
// polls is the caller's responsibility.
func (s *OperationSigner) PollStatus(ctx context.Context, submitter Submitter, attempt *Attempt) (bundler.PollResult, error) {
	if attempt.State != StateSubmitted {
		return bundler.PollResult{}, fmt.Errorf("cannot poll attempt in state %q", attempt.State)
	}
	result, err := submitter.Poll(ctx, attempt.OperationID)
	if err != nil {
		return bundler.PollResult{}, err
	}
	switch result.State {
	case bundler.StateConfirmed:
		attempt.State = StateConfirmed
	case bundler.StateFailed:
		attempt.State = StateFailed
		attempt.Err = NewProtocolError(ErrCodeOperationReverted, result.Reason, nil)
	}
	return result, nil
}

// Track polls at the given interval until the attempt reaches a terminal
// state or ctx is cancelled. Cancellation marks the attempt TimedOut —
// distinct from Failed — leaving resubmission with fresh gas and nonce
// values to the caller.
func (s *OperationSigner) Track(ctx context.Context, submitter Submitter, attempt *Attempt, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := s.PollStatus(ctx, submitter, attempt)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				attempt.State = StateTimedOut
				attempt.Err = err
				return NewProtocolError(ErrCodeTimedOut, err.Error(), nil)
			}
			return attempt.fail(err)
		}
		switch result.State {
		case bundler.StateConfirmed:
			return nil
		case bundler.StateFailed:
			return attempt.Err
		}

		select {
		case <-ctx.Done():
			attempt.State = StateTimedOut
			attempt.Err = ctx.Err()
			return NewProtocolError(ErrCodeTimedOut, "status tracking cancelled before a terminal state", nil)
		case <-ticker.C:
		}
	}
}
