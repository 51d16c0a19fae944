// Package userop builds, encodes and hashes ERC-4337 v0.6 user operations
// for smart accounts that execute batched calls.
package userop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Call is a single (target, value, data) entry in a batched execution.
type Call struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// UserOperation is the ERC-4337 v0.6 operation structure. JSON encoding
// follows the bundler wire format (quantities and byte strings hex-encoded).
//
// Signature starts out as a structurally valid placeholder of the exact
// final byte length (gas estimation is sensitive to calldata size) and is
// replaced after hashing and signing.
type UserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

// GasEstimate carries the raw gas limits returned by a bundler's estimator.
// Estimates are advisory and untrusted; the builder scales them up before
// use.
type GasEstimate struct {
	CallGasLimit         *big.Int `json:"callGasLimit"`
	VerificationGasLimit *big.Int `json:"verificationGasLimit"`
	PreVerificationGas   *big.Int `json:"preVerificationGas"`
}
