// Package account models a multi-owner smart account: its ordered owner
// list, deployment salt, deterministic factory address derivation, and the
// owner-index resolution every signature must reference.
package account

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrNotDeployed indicates the account contract does not exist yet and
	// the first operation must carry its initialization payload.
	ErrNotDeployed = errors.New("account not deployed")
	// ErrDeploymentFailed indicates a deployment attempt was made and
	// reverted, which is distinct from never having been attempted.
	ErrDeploymentFailed = errors.New("account deployment failed")
)

// Account is a pure data value describing a (possibly undeployed) smart
// account. It holds no client and makes no network calls; stateless
// clients take it as a parameter per call.
type Account struct {
	// Owners is the ordered owner list. An owner's position is its
	// ownerIndex; order is significant and part of the on-chain state.
	Owners [][]byte
	// Nonce is the deployment salt disambiguating accounts with identical
	// owner lists.
	Nonce *big.Int
}

// OwnerAddress encodes a linked-account address as a 32-byte owner entry.
func OwnerAddress(addr common.Address) []byte {
	owner := make([]byte, 32)
	copy(owner[12:], addr.Bytes())
	return owner
}

// OwnerPublicKey validates and returns a 64-byte X||Y P-256 public key as
// an owner entry.
func OwnerPublicKey(pub []byte) ([]byte, error) {
	if len(pub) != 64 {
		return nil, fmt.Errorf("owner public key must be 64 bytes, got %d", len(pub))
	}
	return append([]byte{}, pub...), nil
}

// FactoryConfig identifies a deployed account factory. The proxy init code
// hash is a fixed, versioned constant of that deployment; address
// derivation must match it exactly and is never re-derived ad hoc.
type FactoryConfig struct {
	Factory           common.Address
	ProxyInitCodeHash common.Hash
}

// DefaultFactory is the v1 factory deployment.
var DefaultFactory = FactoryConfig{
	Factory:           common.HexToAddress("0x0BA5ED0c6AA8c49038F819E587E2633c4A9F428a"),
	ProxyInitCodeHash: common.HexToHash("0x3effbd4c0a1a35f7599cff5190c6b0b2dcbbbb2f9ae4f2e1b8e6f3aad4dbf4ad"),
}

var (
	saltArgs          abi.Arguments
	createAccountArgs abi.Arguments
	createAccountID   []byte
)

func init() {
	bytesArrayType, err := abi.NewType("bytes[]", "", nil)
	if err != nil {
		panic(fmt.Sprintf("account: build bytes[] type: %v", err))
	}
	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(fmt.Sprintf("account: build uint256 type: %v", err))
	}
	saltArgs = abi.Arguments{
		{Name: "owners", Type: bytesArrayType},
		{Name: "nonce", Type: uint256Type},
	}
	createAccountArgs = saltArgs
	createAccountID = crypto.Keccak256([]byte("createAccount(bytes[],uint256)"))[:4]
}

func ownerSalt(owners [][]byte, nonce *big.Int) ([32]byte, error) {
	var salt [32]byte
	if len(owners) == 0 {
		return salt, fmt.Errorf("at least one owner is required")
	}
	if nonce == nil {
		nonce = new(big.Int)
	}
	packed, err := saltArgs.Pack(owners, nonce)
	if err != nil {
		return salt, fmt.Errorf("pack owners and nonce: %w", err)
	}
	copy(salt[:], crypto.Keccak256(packed))
	return salt, nil
}

// DeriveAddress computes the account's counterfactual address: CREATE2 over
// the factory, a salt of keccak256(abi.encode(owners, nonce)), and the
// factory's proxy init code hash. Deterministic and network-free.
func DeriveAddress(owners [][]byte, nonce *big.Int, factory FactoryConfig) (common.Address, error) {
	salt, err := ownerSalt(owners, nonce)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.CreateAddress2(factory.Factory, salt, factory.ProxyInitCodeHash.Bytes()), nil
}

// Address derives the account's address under the given factory.
func (a Account) Address(factory FactoryConfig) (common.Address, error) {
	return DeriveAddress(a.Owners, a.Nonce, factory)
}

// InitializationPayload returns the factory call that deploys the account:
// the factory address and the createAccount(owners, nonce) calldata. Bundled
// with the first user operation it deploys the account atomically.
func (a Account) InitializationPayload(factory FactoryConfig) (common.Address, []byte, error) {
	if len(a.Owners) == 0 {
		return common.Address{}, nil, fmt.Errorf("at least one owner is required")
	}
	nonce := a.Nonce
	if nonce == nil {
		nonce = new(big.Int)
	}
	packed, err := createAccountArgs.Pack(a.Owners, nonce)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("pack createAccount calldata: %w", err)
	}
	return factory.Factory, append(append([]byte{}, createAccountID...), packed...), nil
}

// InitCode returns the v0.6 initCode form: factory address followed by the
// factory calldata.
func (a Account) InitCode(factory FactoryConfig) ([]byte, error) {
	addr, data, err := a.InitializationPayload(factory)
	if err != nil {
		return nil, err
	}
	return append(addr.Bytes(), data...), nil
}
