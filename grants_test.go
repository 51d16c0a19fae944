package sessionkeys

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type transportFunc func(ctx context.Context, request PermissionGrant) ([]GrantedPermission, error)

func (f transportFunc) GrantPermissions(ctx context.Context, request PermissionGrant) ([]GrantedPermission, error) {
	return f(ctx, request)
}

var testAccountAddr = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

func validRequest(expiry int64) PermissionGrant {
	return PermissionGrant{
		Account: testAccountAddr,
		ChainID: (*hexutil.Big)(big.NewInt(8453)),
		Expiry:  expiry,
		Signer:  NewKeySigner(make([]byte, 64)),
		Permissions: []Permission{
			CallWithPermission(common.HexToAddress("0x1111111111111111111111111111111111111111"), nil),
		},
		Policies: []Policy{
			NativeTokenSpendLimitPolicy((*hexutil.Big)(big.NewInt(1e15))),
		},
	}
}

func grantingTransport(contexts ...[]byte) GrantTransport {
	calls := 0
	return transportFunc(func(_ context.Context, request PermissionGrant) ([]GrantedPermission, error) {
		grantContext := contexts[calls]
		if calls < len(contexts)-1 {
			calls++
		}
		return []GrantedPermission{{
			PermissionGrant: request,
			Context:         grantContext,
		}}, nil
	})
}

func TestGrantStoresFirstEntry(t *testing.T) {
	manager := NewGrantManager(grantingTransport([]byte{0x01, 0x02}))
	granted, err := manager.Grant(context.Background(), validRequest(time.Now().Unix()+3600))
	if err != nil {
		t.Fatalf("Failed to grant: %v", err)
	}
	if string(granted.Context) != string([]byte{0x01, 0x02}) {
		t.Errorf("Expected context bytes forwarded verbatim, got %x", granted.Context)
	}

	current, err := manager.Current(testAccountAddr)
	if err != nil {
		t.Fatalf("Failed to read current grant: %v", err)
	}
	if string(current.Context) != string(granted.Context) {
		t.Error("Current grant must match the granted one")
	}
}

func TestGrantLastWriterWins(t *testing.T) {
	manager := NewGrantManager(grantingTransport([]byte{0x01}, []byte{0x02}))

	if _, err := manager.Grant(context.Background(), validRequest(time.Now().Unix()+3600)); err != nil {
		t.Fatalf("Failed to grant: %v", err)
	}
	if _, err := manager.Grant(context.Background(), validRequest(time.Now().Unix()+7200)); err != nil {
		t.Fatalf("Failed to re-grant: %v", err)
	}

	current, err := manager.Current(testAccountAddr)
	if err != nil {
		t.Fatalf("Failed to read current grant: %v", err)
	}
	if string(current.Context) != string([]byte{0x02}) {
		t.Errorf("Expected the second grant to replace the first, got context %x", current.Context)
	}
}

func TestGrantExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	manager := NewGrantManager(grantingTransport([]byte{0x01}), WithClock(clock))

	if _, err := manager.Grant(context.Background(), validRequest(now.Unix()+86400)); err != nil {
		t.Fatalf("Failed to grant: %v", err)
	}
	if _, err := manager.Current(testAccountAddr); err != nil {
		t.Fatalf("Grant should be active before expiry: %v", err)
	}

	now = now.Add(86401 * time.Second)
	_, err := manager.Current(testAccountAddr)
	if !IsCode(err, ErrCodeGrantExpired) {
		t.Errorf("Expected grant_expired after expiry, got %v", err)
	}
}

func TestCurrentWithoutGrant(t *testing.T) {
	manager := NewGrantManager(grantingTransport([]byte{0x01}))
	_, err := manager.Current(testAccountAddr)
	if !IsCode(err, ErrCodeNoActiveGrant) {
		t.Errorf("Expected no_active_grant, got %v", err)
	}
}

func TestGrantRejectsEmptyResponse(t *testing.T) {
	manager := NewGrantManager(transportFunc(func(_ context.Context, _ PermissionGrant) ([]GrantedPermission, error) {
		return nil, nil
	}))
	_, err := manager.Grant(context.Background(), validRequest(time.Now().Unix()+3600))
	if !IsCode(err, ErrCodeInvalidGrant) {
		t.Errorf("Expected invalid_grant for empty response, got %v", err)
	}
}

func TestGrantRejectsMissingContext(t *testing.T) {
	manager := NewGrantManager(transportFunc(func(_ context.Context, request PermissionGrant) ([]GrantedPermission, error) {
		return []GrantedPermission{{PermissionGrant: request}}, nil
	}))
	_, err := manager.Grant(context.Background(), validRequest(time.Now().Unix()+3600))
	if !IsCode(err, ErrCodeInvalidGrant) {
		t.Errorf("Expected invalid_grant for missing context, got %v", err)
	}
}

func TestGrantRejectsMissingExpiry(t *testing.T) {
	manager := NewGrantManager(transportFunc(func(_ context.Context, request PermissionGrant) ([]GrantedPermission, error) {
		granted := GrantedPermission{PermissionGrant: request, Context: []byte{0x01}}
		granted.Expiry = 0
		return []GrantedPermission{granted}, nil
	}))
	_, err := manager.Grant(context.Background(), validRequest(time.Now().Unix()+3600))
	if !IsCode(err, ErrCodeInvalidGrant) {
		t.Errorf("Expected invalid_grant for missing expiry, got %v", err)
	}
}

func TestCurrentReturnsDetachedCopy(t *testing.T) {
	manager := NewGrantManager(grantingTransport([]byte{0x01, 0x02}))
	granted, err := manager.Grant(context.Background(), validRequest(time.Now().Unix()+3600))
	if err != nil {
		t.Fatalf("Failed to grant: %v", err)
	}

	granted.Context[0] = 0xff
	granted.Expiry = 0

	first, err := manager.Current(testAccountAddr)
	if err != nil {
		t.Fatalf("Failed to read current grant: %v", err)
	}
	if string(first.Context) != string([]byte{0x01, 0x02}) {
		t.Errorf("Stored grant must not alias the granted copy, got context %x", first.Context)
	}

	first.Context[1] = 0xff
	second, err := manager.Current(testAccountAddr)
	if err != nil {
		t.Fatalf("Failed to re-read current grant: %v", err)
	}
	if string(second.Context) != string([]byte{0x01, 0x02}) {
		t.Errorf("Stored grant must not alias a previous read, got context %x", second.Context)
	}
}

func TestGrantTransportFailure(t *testing.T) {
	transportErr := errors.New("connection refused")
	manager := NewGrantManager(transportFunc(func(_ context.Context, _ PermissionGrant) ([]GrantedPermission, error) {
		return nil, transportErr
	}))
	_, err := manager.Grant(context.Background(), validRequest(time.Now().Unix()+3600))
	if !errors.Is(err, transportErr) {
		t.Errorf("Expected wrapped transport error, got %v", err)
	}
}

func TestGrantValidatesRequest(t *testing.T) {
	manager := NewGrantManager(grantingTransport([]byte{0x01}))

	cases := map[string]func(r *PermissionGrant){
		"missing account":     func(r *PermissionGrant) { r.Account = common.Address{} },
		"missing chain id":    func(r *PermissionGrant) { r.ChainID = nil },
		"missing expiry":      func(r *PermissionGrant) { r.Expiry = 0 },
		"missing signer":      func(r *PermissionGrant) { r.Signer = SignerDescriptor{} },
		"short key":           func(r *PermissionGrant) { r.Signer = NewKeySigner(make([]byte, 33)) },
		"missing permissions": func(r *PermissionGrant) { r.Permissions = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			request := validRequest(time.Now().Unix() + 3600)
			mutate(&request)
			if _, err := manager.Grant(context.Background(), request); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestRevokeAndResume(t *testing.T) {
	store := NewMemoryContextStore()
	manager := NewGrantManager(grantingTransport([]byte{0x0a, 0x0b}), WithContextStore(store))

	if _, err := manager.Grant(context.Background(), validRequest(time.Now().Unix()+3600)); err != nil {
		t.Fatalf("Failed to grant: %v", err)
	}

	resumed, err := manager.ResumeContext(testAccountAddr)
	if err != nil {
		t.Fatalf("Failed to resume context: %v", err)
	}
	if string(resumed) != string([]byte{0x0a, 0x0b}) {
		t.Errorf("Expected persisted context bytes, got %x", resumed)
	}

	if err := manager.Revoke(testAccountAddr); err != nil {
		t.Fatalf("Failed to revoke: %v", err)
	}
	if _, err := manager.Current(testAccountAddr); !IsCode(err, ErrCodeNoActiveGrant) {
		t.Errorf("Expected no_active_grant after revoke, got %v", err)
	}
	if _, err := manager.ResumeContext(testAccountAddr); !IsCode(err, ErrCodeNoActiveGrant) {
		t.Errorf("Expected no persisted context after revoke, got %v", err)
	}
}

func TestGrantResponseValidation(t *testing.T) {
	manager := NewGrantManager(grantingTransport([]byte{0x01}), WithResponseValidation())
	if _, err := manager.Grant(context.Background(), validRequest(time.Now().Unix()+3600)); err != nil {
		t.Fatalf("Schema-valid response should be accepted: %v", err)
	}
}
