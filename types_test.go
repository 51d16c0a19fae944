package sessionkeys

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

func TestSignerDescriptorJSONRoundTrip(t *testing.T) {
	publicKey := make([]byte, 64)
	publicKey[0] = 0x42

	descriptors := map[string]SignerDescriptor{
		"key":      NewKeySigner(publicKey),
		"passkey":  NewPasskeySigner(publicKey, "credential-1"),
		"account":  NewAccountSigner(common.HexToAddress("0x1111111111111111111111111111111111111111")),
		"provider": NewProviderSigner(),
	}
	for name, descriptor := range descriptors {
		t.Run(name, func(t *testing.T) {
			encoded, err := json.Marshal(descriptor)
			if err != nil {
				t.Fatalf("Failed to marshal: %v", err)
			}
			if !strings.Contains(string(encoded), `"type":"`+name+`"`) {
				t.Errorf("Expected type tag %q in %s", name, encoded)
			}
			var decoded SignerDescriptor
			if err := json.Unmarshal(encoded, &decoded); err != nil {
				t.Fatalf("Failed to unmarshal: %v", err)
			}
			if decoded.Type != descriptor.Type {
				t.Errorf("Expected type %q, got %q", descriptor.Type, decoded.Type)
			}
			if string(decoded.PublicKey) != string(descriptor.PublicKey) {
				t.Error("Public key did not round-trip")
			}
			if decoded.CredentialID != descriptor.CredentialID {
				t.Error("Credential id did not round-trip")
			}
			if decoded.Address != descriptor.Address {
				t.Error("Address did not round-trip")
			}
		})
	}
}

func TestSignerDescriptorRejectsUnknownType(t *testing.T) {
	var descriptor SignerDescriptor
	if err := json.Unmarshal([]byte(`{"type":"hardware"}`), &descriptor); err == nil {
		t.Error("Expected error for unknown signer type")
	}
}

func TestPolicyPayloadsStayOpaque(t *testing.T) {
	policy := Policy{Type: "custom-policy", Data: json.RawMessage(`{"anything":[1,2,3]}`)}
	encoded, err := json.Marshal(policy)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	var decoded Policy
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if decoded.Type != policy.Type || string(decoded.Data) != string(policy.Data) {
		t.Errorf("Unrecognized policy must round-trip untouched, got %+v", decoded)
	}
}

func TestPolicyConstructors(t *testing.T) {
	spend := NativeTokenSpendLimitPolicy((*hexutil.Big)(hexutil.MustDecodeBig("0xde0b6b3a7640000")))
	if spend.Type != PolicyNativeTokenSpendLimit {
		t.Errorf("Expected spend-limit type, got %q", spend.Type)
	}
	if !strings.Contains(string(spend.Data), "allowance") {
		t.Errorf("Expected allowance in payload, got %s", spend.Data)
	}

	recurring := RecurringAllowancePolicy((*hexutil.Big)(hexutil.MustDecodeBig("0x64")), 1_700_000_000, 86400)
	if !strings.Contains(string(recurring.Data), "periodSeconds") {
		t.Errorf("Expected periodSeconds in payload, got %s", recurring.Data)
	}

	selector := AllowedContractSelectorPolicy(common.HexToAddress("0x1111111111111111111111111111111111111111"), [4]byte{0xa9, 0x05, 0x9c, 0xbb})
	if !strings.Contains(string(selector.Data), "0xa9059cbb") {
		t.Errorf("Expected selector in payload, got %s", selector.Data)
	}
}

func TestGrantedPermissionExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	grant := &GrantedPermission{PermissionGrant: PermissionGrant{Expiry: now.Unix() + 1}}
	if grant.Expired(now) {
		t.Error("Grant should be active before expiry")
	}
	if !grant.Expired(now.Add(time.Second)) {
		t.Error("Grant should expire at the expiry timestamp")
	}

	open := &GrantedPermission{}
	if open.Expired(now) {
		t.Error("Zero expiry means no expiry")
	}
}

func TestValidateUserOperation(t *testing.T) {
	op := signedOperation(t)
	if err := ValidateUserOperation(op); err != nil {
		t.Fatalf("Complete operation should validate: %v", err)
	}

	cases := map[string]func(){
		"nil op":            func() { op = nil },
		"missing sender":    func() { op.Sender = common.Address{} },
		"missing nonce":     func() { op.Nonce = nil },
		"missing call data": func() { op.CallData = nil },
		"missing gas":       func() { op.CallGasLimit = nil },
		"missing fees":      func() { op.MaxFeePerGas = nil },
		"missing signature": func() { op.Signature = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			op = signedOperation(t)
			mutate()
			if err := ValidateUserOperation(op); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
