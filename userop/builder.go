package userop

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/smartwallet-foundation/sessionkeys/go/webauthn"
)

// NonceSource reads the entry point's nonce for a sender and key.
type NonceSource interface {
	GetNonce(ctx context.Context, sender common.Address, key *big.Int) (*big.Int, error)
}

// FeeSource supplies current fee values. Treated as advisory input.
type FeeSource interface {
	GasPrice(ctx context.Context) (*big.Int, error)
	PriorityFee(ctx context.Context) (*big.Int, error)
}

// GasEstimator estimates gas limits for a partially built operation. The
// operation carries a placeholder signature of final length, so estimates
// account for real calldata size.
type GasEstimator interface {
	EstimateUserOperationGas(ctx context.Context, op *UserOperation, entryPoint common.Address) (*GasEstimate, error)
}

// Safety multipliers applied to estimator output. Verification gas is
// over-provisioned more than call gas: WebAuthn verification is costlier
// and less predictable than plain ECDSA, and an under-provisioned limit
// fails the whole operation at execution time.
const (
	feeMultiplier             = 2
	callGasMultiplier         = 5
	preVerificationMultiplier = 5
	verificationMultiplier    = 10
)

// ErrEstimation reports a gas-estimation failure. Fee and nonce fields may
// need to change before a retry, so the builder never retries itself.
var ErrEstimation = errors.New("gas estimation failed")

// Builder assembles user operations against a single entry point.
type Builder struct {
	entryPoint common.Address
	nonces     NonceSource
	fees       FeeSource
	estimator  GasEstimator
}

// NewBuilder creates a builder from its collaborators.
func NewBuilder(entryPoint common.Address, nonces NonceSource, fees FeeSource, estimator GasEstimator) *Builder {
	return &Builder{
		entryPoint: entryPoint,
		nonces:     nonces,
		fees:       fees,
		estimator:  estimator,
	}
}

// BuildParams are the inputs to Build.
type BuildParams struct {
	Sender common.Address
	Calls  []Call

	// InitCode deploys the account atomically with its first operation.
	// Leave empty for deployed accounts.
	InitCode []byte
	// PaymasterAndData is forwarded verbatim; empty means self-funded.
	PaymasterAndData []byte
	// NonceKey selects the entry point nonce lane. Zero is the default lane.
	NonceKey *big.Int
	// OwnerIndex is embedded in the placeholder signature so its encoded
	// length matches the final one.
	OwnerIndex *big.Int
	// DummyClientData renders the placeholder's clientDataJSON for a
	// challenge of real length. It must match the shape the signing
	// authenticator will produce or the length contract breaks; nil uses
	// the software-authenticator template.
	DummyClientData func(challenge string) string
}

// Build assembles a user operation with live nonce and fee values, a
// placeholder signature, and gas limits scaled from the estimator's output.
// The returned operation is ready for ComputeHash and signing.
func (b *Builder) Build(ctx context.Context, params BuildParams) (*UserOperation, error) {
	callData, err := EncodeExecuteBatch(params.Calls)
	if err != nil {
		return nil, fmt.Errorf("encode call batch: %w", err)
	}

	nonceKey := params.NonceKey
	if nonceKey == nil {
		nonceKey = new(big.Int)
	}
	nonce, err := b.nonces.GetNonce(ctx, params.Sender, nonceKey)
	if err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	gasPrice, err := b.fees.GasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("read gas price: %w", err)
	}
	priorityFee, err := b.fees.PriorityFee(ctx)
	if err != nil {
		return nil, fmt.Errorf("read priority fee: %w", err)
	}

	ownerIndex := params.OwnerIndex
	if ownerIndex == nil {
		ownerIndex = new(big.Int)
	}
	dummy, err := DummySignatureFor(ownerIndex, params.DummyClientData)
	if err != nil {
		return nil, err
	}

	op := &UserOperation{
		Sender:               params.Sender,
		Nonce:                (*hexutil.Big)(nonce),
		InitCode:             params.InitCode,
		CallData:             callData,
		MaxFeePerGas:         (*hexutil.Big)(gasPrice),
		MaxPriorityFeePerGas: (*hexutil.Big)(priorityFee),
		PaymasterAndData:     params.PaymasterAndData,
		Signature:            dummy,
	}

	estimate, err := b.estimator.EstimateUserOperationGas(ctx, op, b.entryPoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEstimation, err)
	}

	op.CallGasLimit = (*hexutil.Big)(scale(estimate.CallGasLimit, callGasMultiplier))
	op.VerificationGasLimit = (*hexutil.Big)(scale(estimate.VerificationGasLimit, verificationMultiplier))
	op.PreVerificationGas = (*hexutil.Big)(scale(estimate.PreVerificationGas, preVerificationMultiplier))
	op.MaxFeePerGas = (*hexutil.Big)(scale(gasPrice, feeMultiplier))
	op.MaxPriorityFeePerGas = (*hexutil.Big)(scale(priorityFee, feeMultiplier))

	return op, nil
}

// EntryPoint returns the entry point this builder targets.
func (b *Builder) EntryPoint() common.Address {
	return b.entryPoint
}

func scale(v *big.Int, multiplier int64) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(v, big.NewInt(multiplier))
}

// dummyChallenge stands in for a base64url-encoded 32-byte hash; real
// challenges encode to the same 43 characters.
var dummyChallenge = webauthn.EncodeChallenge(make([]byte, 32))

// DummySignature returns a placeholder sized for the software
// authenticator's clientDataJSON shape.
func DummySignature(ownerIndex *big.Int) ([]byte, error) {
	return DummySignatureFor(ownerIndex, nil)
}

// DummySignatureFor returns a structurally valid WebAuthn signature wrapper
// whose ABI-encoded length equals a real signature for the same owner index
// and clientDataJSON shape. Gas estimation depends on calldata size, so a
// placeholder of the wrong length skews estimates and starves execution.
// template receives a challenge of real length; nil means the software
// shape.
func DummySignatureFor(ownerIndex *big.Int, template func(challenge string) string) ([]byte, error) {
	clientDataJSON := webauthn.ClientData(dummyChallenge, "")
	if template != nil {
		clientDataJSON = template(dummyChallenge)
	}
	assertion := &webauthn.Assertion{
		AuthenticatorData: webauthn.DefaultAuthenticatorData,
		ClientDataJSON:    clientDataJSON,
		ChallengeIndex:    strings.Index(clientDataJSON, `"challenge":`),
		TypeIndex:         strings.Index(clientDataJSON, `"type":`),
		R:                 big.NewInt(1),
		S:                 big.NewInt(1),
	}
	sig, err := webauthn.BuildSignature(ownerIndex, assertion)
	if err != nil {
		return nil, fmt.Errorf("build placeholder signature: %w", err)
	}
	return sig, nil
}
