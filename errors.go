package sessionkeys

import (
	"context"
	"errors"
	"fmt"

	"github.com/smartwallet-foundation/sessionkeys/go/account"
	"github.com/smartwallet-foundation/sessionkeys/go/webauthn"
)

// ProtocolError is a session-permission protocol error with a stable code.
type ProtocolError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeInvalidSignatureEncoding = "invalid_signature_encoding"
	ErrCodeAssertionDeclined        = "assertion_declined"
	ErrCodeAssertionUnavailable     = "assertion_unavailable"
	ErrCodeSignerAlreadyProvisioned = "signer_already_provisioned"
	ErrCodeGrantExpired             = "grant_expired"
	ErrCodeNoActiveGrant            = "no_active_grant"
	ErrCodeOwnerIndexStale          = "owner_index_stale"
	ErrCodeOwnerNotFound            = "owner_not_found"
	ErrCodeNotDeployed              = "not_deployed"
	ErrCodeDeploymentFailed         = "deployment_failed"
	ErrCodeEstimationFailed         = "estimation_failed"
	ErrCodeSubmissionRejected       = "submission_rejected"
	ErrCodeOperationReverted        = "operation_reverted"
	ErrCodeTimedOut                 = "timed_out"
	ErrCodeUnsupportedSigner        = "unsupported_signer"
	ErrCodeInvalidGrant             = "invalid_grant"
)

// NewProtocolError creates a new protocol error.
func NewProtocolError(code, message string, details map[string]interface{}) *ProtocolError {
	return &ProtocolError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ErrorCode extracts the protocol error code from err, or "" if err carries
// none.
func ErrorCode(err error) string {
	var protocolErr *ProtocolError
	if errors.As(err, &protocolErr) {
		return protocolErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given protocol error code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// signingError maps leaf-package sentinels onto protocol codes so callers
// see one taxonomy regardless of which component failed.
func signingError(err error) error {
	var protocolErr *ProtocolError
	if errors.As(err, &protocolErr) {
		return err
	}
	code := ""
	switch {
	case errors.Is(err, webauthn.ErrInvalidSignatureEncoding):
		code = ErrCodeInvalidSignatureEncoding
	case errors.Is(err, webauthn.ErrAssertionDeclined):
		code = ErrCodeAssertionDeclined
	case errors.Is(err, webauthn.ErrAssertionUnavailable):
		code = ErrCodeAssertionUnavailable
	case errors.Is(err, account.ErrOwnerNotFound):
		code = ErrCodeOwnerNotFound
	case errors.Is(err, account.ErrNotDeployed):
		code = ErrCodeNotDeployed
	case errors.Is(err, account.ErrDeploymentFailed):
		code = ErrCodeDeploymentFailed
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeTimedOut
	default:
		return err
	}
	return NewProtocolError(code, err.Error(), nil)
}
