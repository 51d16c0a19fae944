package userop

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	executeBatchSelector []byte
	executeBatchArgs     abi.Arguments
)

func init() {
	executeBatchSelector = crypto.Keccak256([]byte("executeBatch((address,uint256,bytes)[])"))[:4]

	callsType, err := abi.NewType("tuple[]", "Call[]", []abi.ArgumentMarshaling{
		{Name: "target", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "data", Type: "bytes"},
	})
	if err != nil {
		panic(fmt.Sprintf("userop: build Call[] type: %v", err))
	}
	executeBatchArgs = abi.Arguments{{Name: "calls", Type: callsType}}
}

// abiCall mirrors the Call tuple components for ABI packing.
type abiCall struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// EncodeExecuteBatch encodes calls into the account's
// executeBatch((address,uint256,bytes)[]) calldata.
func EncodeExecuteBatch(calls []Call) ([]byte, error) {
	if len(calls) == 0 {
		return nil, fmt.Errorf("at least one call is required")
	}
	packed := make([]abiCall, len(calls))
	for i, call := range calls {
		value := call.Value
		if value == nil {
			value = new(big.Int)
		}
		data := call.Data
		if data == nil {
			data = []byte{}
		}
		packed[i] = abiCall{Target: call.Target, Value: value, Data: data}
	}
	encoded, err := executeBatchArgs.Pack(packed)
	if err != nil {
		return nil, fmt.Errorf("pack executeBatch calls: %w", err)
	}
	return append(append([]byte{}, executeBatchSelector...), encoded...), nil
}
