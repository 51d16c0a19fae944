package sessionkeys

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// GrantManager negotiates and stores session-permission grants, keyed by
// owning account. One active grant per account: a new grant replaces the
// previous one wholesale (last writer wins), and concurrent grants for the
// same account are serialized, never merged.
type GrantManager struct {
	mu        sync.RWMutex
	transport GrantTransport
	store     ContextStore
	grants    map[common.Address]*GrantedPermission
	now       func() time.Time
	validate  bool
}

// GrantOption configures the manager.
type GrantOption func(*GrantManager)

// WithContextStore persists grant contexts for session resumption.
func WithContextStore(store ContextStore) GrantOption {
	return func(m *GrantManager) {
		m.store = store
	}
}

// WithClock overrides the expiry clock, primarily for tests.
func WithClock(now func() time.Time) GrantOption {
	return func(m *GrantManager) {
		m.now = now
	}
}

// WithResponseValidation schema-checks grant responses before trusting
// them.
func WithResponseValidation() GrantOption {
	return func(m *GrantManager) {
		m.validate = true
	}
}

// NewGrantManager creates a grant manager using the given transport.
func NewGrantManager(transport GrantTransport, opts ...GrantOption) *GrantManager {
	m := &GrantManager{
		transport: transport,
		grants:    make(map[common.Address]*GrantedPermission),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Grant negotiates a permission with the counterpart and stores the result
// under the owning account, replacing any prior grant.
func (m *GrantManager) Grant(ctx context.Context, request PermissionGrant) (*GrantedPermission, error) {
	if err := ValidateGrantRequest(request); err != nil {
		return nil, err
	}

	granted, err := m.transport.GrantPermissions(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("negotiate grant: %w", err)
	}
	if len(granted) == 0 {
		return nil, NewProtocolError(ErrCodeInvalidGrant, "counterpart returned no granted permissions", nil)
	}

	grant := granted[0]
	if len(grant.Context) == 0 {
		return nil, NewProtocolError(ErrCodeInvalidGrant, "granted permission carries no context", nil)
	}
	// A grant without an expiry would never age out. Rejected regardless
	// of schema validation, matching the request-side check.
	if grant.Expiry <= 0 {
		return nil, NewProtocolError(ErrCodeInvalidGrant, "granted permission carries no expiry", nil)
	}
	if m.validate {
		if err := ValidateGrantResponse(&grant); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Stored and returned records are separate copies; a caller mutation
	// must not reach the stored grant.
	m.grants[request.Account] = grant.clone()
	if m.store != nil {
		if err := m.store.Put(request.Account, grant.Context); err != nil {
			return nil, fmt.Errorf("persist grant context: %w", err)
		}
	}
	return grant.clone(), nil
}

// Current returns the active grant for the account. Expiry is checked
// against the wall clock at call time; there is no implicit renewal.
func (m *GrantManager) Current(account common.Address) (*GrantedPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	grant, ok := m.grants[account]
	if !ok {
		return nil, NewProtocolError(ErrCodeNoActiveGrant, "no active grant for account", map[string]interface{}{
			"account": account.Hex(),
		})
	}
	if grant.Expired(m.now()) {
		return nil, NewProtocolError(ErrCodeGrantExpired, "grant has expired", map[string]interface{}{
			"account": account.Hex(),
			"expiry":  grant.Expiry,
		})
	}
	return grant.clone(), nil
}

// Revoke removes the local grant record. This is advisory: enforced
// revocation additionally requires a revocation instruction routed to the
// owning account on-chain, which the caller must include in a user
// operation itself.
func (m *GrantManager) Revoke(account common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.grants, account)
	if m.store != nil {
		if err := m.store.Delete(account); err != nil {
			return fmt.Errorf("remove persisted context: %w", err)
		}
	}
	return nil
}

// ResumeContext loads the last persisted context bytes for an account.
// Best-effort: the bytes identify a grant to the counterpart but say
// nothing about whether it is still valid.
func (m *GrantManager) ResumeContext(account common.Address) ([]byte, error) {
	if m.store == nil {
		return nil, NewProtocolError(ErrCodeNoActiveGrant, "no context store configured", nil)
	}
	contextBytes, ok, err := m.store.Get(account)
	if err != nil {
		return nil, fmt.Errorf("load persisted context: %w", err)
	}
	if !ok {
		return nil, NewProtocolError(ErrCodeNoActiveGrant, "no persisted context for account", map[string]interface{}{
			"account": account.Hex(),
		})
	}
	return contextBytes, nil
}
