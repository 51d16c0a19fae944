package userop

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	packArgs abi.Arguments
	hashArgs abi.Arguments
)

func init() {
	addressType, _ := abi.NewType("address", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)
	bytes32Type, _ := abi.NewType("bytes32", "", nil)

	// Field order matches the entry point's hash computation exactly.
	// Omitting or reordering a field here is a replay defect.
	packArgs = abi.Arguments{
		{Name: "sender", Type: addressType},
		{Name: "nonce", Type: uint256Type},
		{Name: "hashInitCode", Type: bytes32Type},
		{Name: "hashCallData", Type: bytes32Type},
		{Name: "callGasLimit", Type: uint256Type},
		{Name: "verificationGasLimit", Type: uint256Type},
		{Name: "preVerificationGas", Type: uint256Type},
		{Name: "maxFeePerGas", Type: uint256Type},
		{Name: "maxPriorityFeePerGas", Type: uint256Type},
		{Name: "hashPaymasterAndData", Type: bytes32Type},
	}
	hashArgs = abi.Arguments{
		{Name: "userOpHash", Type: bytes32Type},
		{Name: "entryPoint", Type: addressType},
		{Name: "chainId", Type: uint256Type},
	}
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// packForHash ABI-encodes every operation field except the signature.
func packForHash(op *UserOperation) ([]byte, error) {
	return packArgs.Pack(
		op.Sender,
		bigOrZero((*big.Int)(op.Nonce)),
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		bigOrZero((*big.Int)(op.CallGasLimit)),
		bigOrZero((*big.Int)(op.VerificationGasLimit)),
		bigOrZero((*big.Int)(op.PreVerificationGas)),
		bigOrZero((*big.Int)(op.MaxFeePerGas)),
		bigOrZero((*big.Int)(op.MaxPriorityFeePerGas)),
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
}

// ComputeHash returns the canonical v0.6 user-operation hash:
// keccak256(abi.encode(keccak256(pack(op)), entryPoint, chainId)).
//
// The signature field is excluded. The entry point address and chain id
// provide replay-domain separation; the result matches the entry point's
// getUserOpHash for the same operation.
func ComputeHash(op *UserOperation, entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	if chainID == nil {
		return common.Hash{}, fmt.Errorf("chain id is required")
	}
	packed, err := packForHash(op)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack user operation: %w", err)
	}
	inner := crypto.Keccak256Hash(packed)
	outer, err := hashArgs.Pack(inner, entryPoint, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack hash envelope: %w", err)
	}
	return crypto.Keccak256Hash(outer), nil
}
