// Package sessionkeys manages delegated session permissions for smart
// accounts: negotiating and storing grants, and signing user operations
// with the alternate signer a grant authorizes (local P-256 key, platform
// passkey, or delegated remote account).
package sessionkeys

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SignerType identifies a SignerDescriptor variant.
type SignerType string

const (
	// SignerTypeKey is a raw P-256 public key owner.
	SignerTypeKey SignerType = "key"
	// SignerTypePasskey is a platform-authenticator credential.
	SignerTypePasskey SignerType = "passkey"
	// SignerTypeAccount is a separate managed account address.
	SignerTypeAccount SignerType = "account"
	// SignerTypeProvider delegates signing back to the connected wallet
	// provider.
	SignerTypeProvider SignerType = "provider"
)

// SignerDescriptor identifies who may exercise a permission. It is a tagged
// union over the signer variants and is immutable once a grant is issued.
type SignerDescriptor struct {
	Type SignerType

	// PublicKey is the 64-byte X||Y key for key and passkey signers.
	PublicKey hexutil.Bytes
	// CredentialID is set for passkey signers.
	CredentialID string
	// Address is set for account signers.
	Address common.Address
}

// NewKeySigner describes a raw public key signer.
func NewKeySigner(publicKey []byte) SignerDescriptor {
	return SignerDescriptor{Type: SignerTypeKey, PublicKey: publicKey}
}

// NewPasskeySigner describes a passkey-bound signer.
func NewPasskeySigner(publicKey []byte, credentialID string) SignerDescriptor {
	return SignerDescriptor{Type: SignerTypePasskey, PublicKey: publicKey, CredentialID: credentialID}
}

// NewAccountSigner describes a separate managed account signer.
func NewAccountSigner(address common.Address) SignerDescriptor {
	return SignerDescriptor{Type: SignerTypeAccount, Address: address}
}

// NewProviderSigner describes the connected wallet provider itself.
func NewProviderSigner() SignerDescriptor {
	return SignerDescriptor{Type: SignerTypeProvider}
}

type keySignerData struct {
	PublicKey hexutil.Bytes `json:"publicKey"`
}

type passkeySignerData struct {
	PublicKey    hexutil.Bytes `json:"publicKey"`
	CredentialID string        `json:"credentialId"`
}

type accountSignerData struct {
	Address common.Address `json:"address"`
}

type taggedSigner struct {
	Type SignerType      `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON encodes the descriptor in the counterpart's tagged
// {"type": ..., "data": {...}} shape.
func (d SignerDescriptor) MarshalJSON() ([]byte, error) {
	var data interface{}
	switch d.Type {
	case SignerTypeKey:
		data = keySignerData{PublicKey: d.PublicKey}
	case SignerTypePasskey:
		data = passkeySignerData{PublicKey: d.PublicKey, CredentialID: d.CredentialID}
	case SignerTypeAccount:
		data = accountSignerData{Address: d.Address}
	case SignerTypeProvider:
		data = nil
	default:
		return nil, fmt.Errorf("unknown signer type %q", d.Type)
	}
	tagged := taggedSigner{Type: d.Type}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		tagged.Data = raw
	}
	return json.Marshal(tagged)
}

// UnmarshalJSON decodes the tagged shape back into the union.
func (d *SignerDescriptor) UnmarshalJSON(input []byte) error {
	var tagged taggedSigner
	if err := json.Unmarshal(input, &tagged); err != nil {
		return err
	}
	out := SignerDescriptor{Type: tagged.Type}
	switch tagged.Type {
	case SignerTypeKey:
		var data keySignerData
		if err := json.Unmarshal(tagged.Data, &data); err != nil {
			return err
		}
		out.PublicKey = data.PublicKey
	case SignerTypePasskey:
		var data passkeySignerData
		if err := json.Unmarshal(tagged.Data, &data); err != nil {
			return err
		}
		out.PublicKey = data.PublicKey
		out.CredentialID = data.CredentialID
	case SignerTypeAccount:
		var data accountSignerData
		if err := json.Unmarshal(tagged.Data, &data); err != nil {
			return err
		}
		out.Address = data.Address
	case SignerTypeProvider:
	default:
		return fmt.Errorf("unknown signer type %q", tagged.Type)
	}
	*d = out
	return nil
}

// Policy type identifiers defined by the permission protocol. The set is
// open; unrecognized types round-trip untouched.
const (
	PolicyNativeTokenSpendLimit   = "native-token-spend-limit"
	PolicyRecurringAllowance      = "recurring-allowance"
	PolicyAllowedContractSelector = "allowed-contract-selector"
)

// Policy is an opaque constraint attached to a grant. The core stores and
// forwards policies; it never evaluates them — enforcement happens on-chain
// and at the granting counterpart.
type Policy struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// PermissionCallWithPermission is the standard batched-call permission type.
const PermissionCallWithPermission = "call-with-permission"

// Permission is an opaque permission entry, tagged the same way as Policy.
type Permission struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func mustPolicyData(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("sessionkeys: marshal policy data: %v", err))
	}
	return raw
}

// NativeTokenSpendLimitPolicy caps total native-token spend.
func NativeTokenSpendLimitPolicy(allowance *hexutil.Big) Policy {
	return Policy{
		Type: PolicyNativeTokenSpendLimit,
		Data: mustPolicyData(map[string]interface{}{"allowance": allowance}),
	}
}

// RecurringAllowancePolicy grants a repeating allowance per period.
func RecurringAllowancePolicy(allowance *hexutil.Big, periodStart int64, periodSeconds uint64) Policy {
	return Policy{
		Type: PolicyRecurringAllowance,
		Data: mustPolicyData(map[string]interface{}{
			"allowance":     allowance,
			"periodStart":   periodStart,
			"periodSeconds": periodSeconds,
		}),
	}
}

// AllowedContractSelectorPolicy restricts calls to one contract function.
func AllowedContractSelectorPolicy(contract common.Address, selector [4]byte) Policy {
	return Policy{
		Type: PolicyAllowedContractSelector,
		Data: mustPolicyData(map[string]interface{}{
			"contract": contract,
			"selector": hexutil.Bytes(selector[:]),
		}),
	}
}

// CallWithPermission permits batched calls to a single contract with
// contract-specific arguments.
func CallWithPermission(allowedContract common.Address, permissionArgs []byte) Permission {
	return Permission{
		Type: PermissionCallWithPermission,
		Data: mustPolicyData(map[string]interface{}{
			"allowedContract": allowedContract,
			"permissionArgs":  hexutil.Bytes(permissionArgs),
		}),
	}
}

// PermissionGrant is a grant negotiation request: the owning account, the
// target chain, the alternate signer, and the permissions and policies it
// is subject to. Immutable; re-granting supersedes rather than mutates.
type PermissionGrant struct {
	Account       common.Address   `json:"account"`
	ChainID       *hexutil.Big     `json:"chainId"`
	Expiry        int64            `json:"expiry"`
	Signer        SignerDescriptor `json:"signer"`
	Permissions   []Permission     `json:"permissions"`
	Policies      []Policy         `json:"policies"`
	RequiredFlags uint64           `json:"requiredFlags,omitempty"`
}

// AccountMeta carries the deployment payload for a not-yet-deployed account.
type AccountMeta struct {
	Factory     common.Address `json:"factory"`
	FactoryData hexutil.Bytes  `json:"factoryData"`
}

// SignerMeta carries optional counterpart-supplied signing helpers.
type SignerMeta struct {
	UserOpBuilder     *common.Address `json:"userOpBuilder,omitempty"`
	DelegationManager *common.Address `json:"delegationManager,omitempty"`
}

// GrantedPermission is a successfully negotiated grant. Context is the only
// field later operations need: an opaque token identifying the grant to the
// counterpart, forwarded verbatim and never parsed or reconstructed here.
type GrantedPermission struct {
	PermissionGrant
	Context     hexutil.Bytes `json:"context"`
	AccountMeta *AccountMeta  `json:"accountMeta,omitempty"`
	SignerMeta  *SignerMeta   `json:"signerMeta,omitempty"`
}

// Expired reports whether the grant's expiry has passed at the given time.
func (g *GrantedPermission) Expired(now time.Time) bool {
	return g.Expiry > 0 && now.Unix() >= g.Expiry
}

// clone copies a grant so stored records are never aliased by callers.
func (g *GrantedPermission) clone() *GrantedPermission {
	cp := *g
	cp.Context = append(hexutil.Bytes(nil), g.Context...)
	cp.Signer.PublicKey = append(hexutil.Bytes(nil), g.Signer.PublicKey...)
	cp.Permissions = append([]Permission(nil), g.Permissions...)
	cp.Policies = append([]Policy(nil), g.Policies...)
	if g.AccountMeta != nil {
		meta := *g.AccountMeta
		meta.FactoryData = append(hexutil.Bytes(nil), g.AccountMeta.FactoryData...)
		cp.AccountMeta = &meta
	}
	if g.SignerMeta != nil {
		meta := *g.SignerMeta
		cp.SignerMeta = &meta
	}
	return &cp
}
