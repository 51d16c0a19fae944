// Package chain reads the on-chain state the signing flow depends on:
// entry-point nonces, smart-account owner enumeration, deployment status
// and fee values. All calls are bounded by the caller's context.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/smartwallet-foundation/sessionkeys/go/userop"
)

// Backend is the subset of ethclient.Client the reader needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

var (
	getNonceID      []byte
	getNonceArgs    abi.Arguments
	uint256Out      abi.Arguments
	bytesOut        abi.Arguments
	ownerCountID    []byte
	ownerAtIndexID  []byte
	ownerAtIndexIn  abi.Arguments
	getUserOpHashID []byte
	userOpArgs      abi.Arguments
)

func init() {
	addressType, _ := abi.NewType("address", "", nil)
	uint192Type, _ := abi.NewType("uint192", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)
	bytesType, _ := abi.NewType("bytes", "", nil)

	getNonceID = crypto.Keccak256([]byte("getNonce(address,uint192)"))[:4]
	getNonceArgs = abi.Arguments{
		{Name: "sender", Type: addressType},
		{Name: "key", Type: uint192Type},
	}
	uint256Out = abi.Arguments{{Name: "value", Type: uint256Type}}
	bytesOut = abi.Arguments{{Name: "value", Type: bytesType}}

	ownerCountID = crypto.Keccak256([]byte("ownerCount()"))[:4]
	ownerAtIndexID = crypto.Keccak256([]byte("ownerAtIndex(uint256)"))[:4]
	ownerAtIndexIn = abi.Arguments{{Name: "index", Type: uint256Type}}

	getUserOpHashID = crypto.Keccak256([]byte("getUserOpHash((address,uint256,bytes,bytes,uint256,uint256,uint256,uint256,uint256,bytes,bytes))"))[:4]
	userOpType, err := abi.NewType("tuple", "UserOperation", []abi.ArgumentMarshaling{
		{Name: "sender", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "initCode", Type: "bytes"},
		{Name: "callData", Type: "bytes"},
		{Name: "callGasLimit", Type: "uint256"},
		{Name: "verificationGasLimit", Type: "uint256"},
		{Name: "preVerificationGas", Type: "uint256"},
		{Name: "maxFeePerGas", Type: "uint256"},
		{Name: "maxPriorityFeePerGas", Type: "uint256"},
		{Name: "paymasterAndData", Type: "bytes"},
		{Name: "signature", Type: "bytes"},
	})
	if err != nil {
		panic(fmt.Sprintf("chain: build UserOperation type: %v", err))
	}
	userOpArgs = abi.Arguments{{Name: "userOp", Type: userOpType}}
}

// Reader reads entry-point and account state through an RPC backend.
type Reader struct {
	backend    Backend
	entryPoint common.Address
}

// NewReader creates a reader bound to one entry point.
func NewReader(backend Backend, entryPoint common.Address) *Reader {
	return &Reader{backend: backend, entryPoint: entryPoint}
}

func (r *Reader) callContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return r.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// GetNonce implements userop.NonceSource via the entry point's
// getNonce(sender, key).
func (r *Reader) GetNonce(ctx context.Context, sender common.Address, key *big.Int) (*big.Int, error) {
	if key == nil {
		key = new(big.Int)
	}
	input, err := getNonceArgs.Pack(sender, key)
	if err != nil {
		return nil, fmt.Errorf("pack getNonce: %w", err)
	}
	ret, err := r.callContract(ctx, r.entryPoint, append(append([]byte{}, getNonceID...), input...))
	if err != nil {
		return nil, fmt.Errorf("call getNonce: %w", err)
	}
	values, err := uint256Out.Unpack(ret)
	if err != nil {
		return nil, fmt.Errorf("unpack getNonce result: %w", err)
	}
	return values[0].(*big.Int), nil
}

// OwnerCount returns the number of owners registered on the account.
func (r *Reader) OwnerCount(ctx context.Context, account common.Address) (uint64, error) {
	ret, err := r.callContract(ctx, account, append([]byte{}, ownerCountID...))
	if err != nil {
		return 0, fmt.Errorf("call ownerCount: %w", err)
	}
	values, err := uint256Out.Unpack(ret)
	if err != nil {
		return 0, fmt.Errorf("unpack ownerCount result: %w", err)
	}
	return values[0].(*big.Int).Uint64(), nil
}

// OwnerAtIndex returns the raw owner bytes at the given index.
func (r *Reader) OwnerAtIndex(ctx context.Context, account common.Address, index uint64) ([]byte, error) {
	input, err := ownerAtIndexIn.Pack(new(big.Int).SetUint64(index))
	if err != nil {
		return nil, fmt.Errorf("pack ownerAtIndex: %w", err)
	}
	ret, err := r.callContract(ctx, account, append(append([]byte{}, ownerAtIndexID...), input...))
	if err != nil {
		return nil, fmt.Errorf("call ownerAtIndex: %w", err)
	}
	values, err := bytesOut.Unpack(ret)
	if err != nil {
		return nil, fmt.Errorf("unpack ownerAtIndex result: %w", err)
	}
	return values[0].([]byte), nil
}

// IsDeployed reports whether code exists at the account address.
func (r *Reader) IsDeployed(ctx context.Context, account common.Address) (bool, error) {
	code, err := r.backend.CodeAt(ctx, account, nil)
	if err != nil {
		return false, fmt.Errorf("read account code: %w", err)
	}
	return len(code) > 0, nil
}

// GasPrice implements userop.FeeSource.
func (r *Reader) GasPrice(ctx context.Context) (*big.Int, error) {
	return r.backend.SuggestGasPrice(ctx)
}

// PriorityFee implements userop.FeeSource.
func (r *Reader) PriorityFee(ctx context.Context) (*big.Int, error) {
	return r.backend.SuggestGasTipCap(ctx)
}

// packedUserOp mirrors the entry point's UserOperation tuple for ABI
// packing.
type packedUserOp struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

// GetUserOpHash asks the entry point for the operation's canonical hash.
// Used as a cross-check against userop.ComputeHash; the locally computed
// hash is authoritative for signing.
func (r *Reader) GetUserOpHash(ctx context.Context, op *userop.UserOperation) (common.Hash, error) {
	packed := packedUserOp{
		Sender:               op.Sender,
		Nonce:                bigOrZero(op.Nonce),
		InitCode:             op.InitCode,
		CallData:             op.CallData,
		CallGasLimit:         bigOrZero(op.CallGasLimit),
		VerificationGasLimit: bigOrZero(op.VerificationGasLimit),
		PreVerificationGas:   bigOrZero(op.PreVerificationGas),
		MaxFeePerGas:         bigOrZero(op.MaxFeePerGas),
		MaxPriorityFeePerGas: bigOrZero(op.MaxPriorityFeePerGas),
		PaymasterAndData:     op.PaymasterAndData,
		Signature:            op.Signature,
	}
	input, err := userOpArgs.Pack(packed)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack user operation: %w", err)
	}
	ret, err := r.callContract(ctx, r.entryPoint, append(append([]byte{}, getUserOpHashID...), input...))
	if err != nil {
		return common.Hash{}, fmt.Errorf("call getUserOpHash: %w", err)
	}
	if len(ret) < 32 {
		return common.Hash{}, fmt.Errorf("short getUserOpHash result: %d bytes", len(ret))
	}
	return common.BytesToHash(ret[:32]), nil
}

func bigOrZero(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return (*big.Int)(v)
}
