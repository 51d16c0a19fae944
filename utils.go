package sessionkeys

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/smartwallet-foundation/sessionkeys/go/userop"
)

// ValidateGrantRequest performs basic validation on a grant request before
// it is sent to the counterpart.
func ValidateGrantRequest(request PermissionGrant) error {
	if request.Account == (common.Address{}) {
		return fmt.Errorf("owning account is required")
	}
	if request.ChainID == nil || request.ChainID.ToInt().Sign() <= 0 {
		return fmt.Errorf("chain id is required")
	}
	if request.Expiry <= 0 {
		return fmt.Errorf("expiry is required")
	}
	if request.Signer.Type == "" {
		return fmt.Errorf("signer descriptor is required")
	}
	switch request.Signer.Type {
	case SignerTypeKey:
		if len(request.Signer.PublicKey) != 64 {
			return fmt.Errorf("key signer requires a 64-byte public key")
		}
	case SignerTypePasskey:
		if len(request.Signer.PublicKey) != 64 || request.Signer.CredentialID == "" {
			return fmt.Errorf("passkey signer requires a 64-byte public key and credential id")
		}
	case SignerTypeAccount:
		if request.Signer.Address == (common.Address{}) {
			return fmt.Errorf("account signer requires an address")
		}
	case SignerTypeProvider:
	default:
		return fmt.Errorf("unknown signer type %q", request.Signer.Type)
	}
	if len(request.Permissions) == 0 {
		return fmt.Errorf("at least one permission is required")
	}
	return nil
}

// ValidateUserOperation performs basic structural validation on a built
// operation before signing or submission.
func ValidateUserOperation(op *userop.UserOperation) error {
	if op == nil {
		return fmt.Errorf("user operation is required")
	}
	if op.Sender == (common.Address{}) {
		return fmt.Errorf("sender is required")
	}
	if op.Nonce == nil {
		return fmt.Errorf("nonce is required")
	}
	if len(op.CallData) == 0 {
		return fmt.Errorf("call data is required")
	}
	if op.CallGasLimit == nil || op.VerificationGasLimit == nil || op.PreVerificationGas == nil {
		return fmt.Errorf("gas limits are required")
	}
	if op.MaxFeePerGas == nil || op.MaxPriorityFeePerGas == nil {
		return fmt.Errorf("fee fields are required")
	}
	if len(op.Signature) == 0 {
		return fmt.Errorf("signature placeholder is required")
	}
	return nil
}
