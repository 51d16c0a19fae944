package sessionkeys

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/smartwallet-foundation/sessionkeys/go/bundler"
	"github.com/smartwallet-foundation/sessionkeys/go/userop"
)

// GrantTransport performs the grant negotiation round-trip with the
// granting counterpart. The response is an array indexed by requested
// permission entry; this core uses index 0.
type GrantTransport interface {
	GrantPermissions(ctx context.Context, request PermissionGrant) ([]GrantedPermission, error)
}

// ContextStore persists the last-known grant context per owning account,
// used only to resume a session. Stored contexts are never authoritative
// and must be revalidated against expiry before use.
type ContextStore interface {
	Put(account common.Address, context []byte) error
	Get(account common.Address) ([]byte, bool, error)
	Delete(account common.Address) error
}

// ChainReader reads the on-chain account state the signing flow depends on.
// chain.Reader satisfies it.
type ChainReader interface {
	OwnerCount(ctx context.Context, account common.Address) (uint64, error)
	OwnerAtIndex(ctx context.Context, account common.Address, index uint64) ([]byte, error)
	IsDeployed(ctx context.Context, account common.Address) (bool, error)
}

// Submitter submits signed operations and reports their status.
// bundler.Client satisfies it.
type Submitter interface {
	SendUserOperation(ctx context.Context, op *userop.UserOperation) (common.Hash, error)
	Poll(ctx context.Context, opHash common.Hash) (bundler.PollResult, error)
}

// DigestSigner is a local raw-key capability: a public identity plus
// DER-signing over a 32-byte digest. local.Handle satisfies it.
type DigestSigner interface {
	PublicKey() []byte
	SignDigest(ctx context.Context, digest []byte) ([]byte, error)
}

// HashSigner is a delegated remote-account capability. remote.Client
// satisfies it.
type HashSigner interface {
	Address() common.Address
	SignHash(ctx context.Context, hash common.Hash) ([]byte, error)
}
