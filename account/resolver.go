package account

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ErrOwnerNotFound indicates the identity is not in the account's current
// owner list. A previously valid signer may hit this after an on-chain
// owner removal.
var ErrOwnerNotFound = errors.New("owner not found in account owner list")

// OwnerReader enumerates an account's on-chain owner list.
type OwnerReader interface {
	OwnerCount(ctx context.Context, account common.Address) (uint64, error)
	OwnerAtIndex(ctx context.Context, account common.Address, index uint64) ([]byte, error)
}

// ResolveOwnerIndex returns the current index of the given owner identity
// within the account's owner list. The index is live state: owners can be
// added or removed on-chain at any time, so callers must resolve
// immediately before signing and must not cache the result across calls
// that might change ownership.
func ResolveOwnerIndex(ctx context.Context, reader OwnerReader, account common.Address, owner []byte) (uint64, error) {
	count, err := reader.OwnerCount(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("read owner count: %w", err)
	}
	for i := uint64(0); i < count; i++ {
		candidate, err := reader.OwnerAtIndex(ctx, account, i)
		if err != nil {
			return 0, fmt.Errorf("read owner at index %d: %w", i, err)
		}
		if bytes.Equal(candidate, owner) {
			return i, nil
		}
	}
	return 0, ErrOwnerNotFound
}
