package local

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"errors"
	"math/big"
	"testing"
)

type registrarFunc func(ctx context.Context, options RegistrationOptions) (*Credential, error)

func (f registrarFunc) Register(ctx context.Context, options RegistrationOptions) (*Credential, error) {
	return f(ctx, options)
}

func TestProvisionKey(t *testing.T) {
	provisioner := NewProvisioner()
	handle, err := provisioner.ProvisionKey()
	if err != nil {
		t.Fatalf("Failed to provision key: %v", err)
	}
	if len(handle.PublicKey()) != 64 {
		t.Errorf("Expected 64-byte public key, got %d", len(handle.PublicKey()))
	}
	if handle.CredentialID() != "" {
		t.Errorf("Expected no credential id for a plain key, got %q", handle.CredentialID())
	}
	if handle.Authenticator() != nil {
		t.Error("Expected no authenticator for a plain key")
	}
	if provisioner.Active() != handle {
		t.Error("Expected the provisioned handle to be active")
	}
}

func TestProvisionKeySignaturesVerify(t *testing.T) {
	provisioner := NewProvisioner()
	handle, err := provisioner.ProvisionKey()
	if err != nil {
		t.Fatalf("Failed to provision key: %v", err)
	}

	digest := sha256.Sum256([]byte("payload"))
	sig, err := handle.SignDigest(context.Background(), digest[:])
	if err != nil {
		t.Fatalf("Failed to sign digest: %v", err)
	}

	pub := handle.PublicKey()
	publicKey := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(pub[:32]),
		Y:     new(big.Int).SetBytes(pub[32:]),
	}
	if !ecdsa.VerifyASN1(publicKey, digest[:], sig) {
		t.Error("Signature does not verify against the handle's public key")
	}
}

func TestProvisionKeyRejectsBadDigest(t *testing.T) {
	provisioner := NewProvisioner()
	handle, err := provisioner.ProvisionKey()
	if err != nil {
		t.Fatalf("Failed to provision key: %v", err)
	}
	if _, err := handle.SignDigest(context.Background(), []byte("short")); err == nil {
		t.Error("Expected error for non-32-byte digest")
	}
}

func TestSingleSignerPerSession(t *testing.T) {
	provisioner := NewProvisioner()
	if _, err := provisioner.ProvisionKey(); err != nil {
		t.Fatalf("Failed to provision key: %v", err)
	}
	if _, err := provisioner.ProvisionKey(); !errors.Is(err, ErrAlreadyProvisioned) {
		t.Errorf("Expected ErrAlreadyProvisioned, got %v", err)
	}
	registrar := registrarFunc(func(_ context.Context, _ RegistrationOptions) (*Credential, error) {
		t.Fatal("Registrar must not be invoked while a signer is active")
		return nil, nil
	})
	if _, err := provisioner.ProvisionPasskey(context.Background(), registrar, nil, "example.com", "Example"); !errors.Is(err, ErrAlreadyProvisioned) {
		t.Errorf("Expected ErrAlreadyProvisioned, got %v", err)
	}

	// Clearing ends the session; the next provision is a distinct signer.
	first := provisioner.Active().PublicKey()
	provisioner.Clear()
	if provisioner.Active() != nil {
		t.Fatal("Expected no active signer after clear")
	}
	second, err := provisioner.ProvisionKey()
	if err != nil {
		t.Fatalf("Failed to provision after clear: %v", err)
	}
	if string(first) == string(second.PublicKey()) {
		t.Error("Re-provisioned signer must be a new keypair")
	}
}

func TestProvisionPasskey(t *testing.T) {
	var captured RegistrationOptions
	pub := make([]byte, 64)
	pub[0] = 0x42
	registrar := registrarFunc(func(_ context.Context, options RegistrationOptions) (*Credential, error) {
		captured = options
		return &Credential{ID: "credential-1", PublicKey: pub}, nil
	})

	provisioner := NewProvisioner()
	handle, err := provisioner.ProvisionPasskey(context.Background(), registrar, nil, "example.com", "Example")
	if err != nil {
		t.Fatalf("Failed to provision passkey: %v", err)
	}
	if captured.RelyingPartyID != "example.com" {
		t.Errorf("Expected relying party id forwarded, got %q", captured.RelyingPartyID)
	}
	if len(captured.UserID) == 0 {
		t.Error("Expected a generated user id")
	}
	if handle.CredentialID() != "credential-1" {
		t.Errorf("Expected credential id, got %q", handle.CredentialID())
	}
	if string(handle.PublicKey()) != string(pub) {
		t.Error("Expected the registrar's public key on the handle")
	}
	if _, err := handle.SignDigest(context.Background(), make([]byte, 32)); err == nil {
		t.Error("Passkey handle must not sign digests directly")
	}
}

func TestProvisionPasskeyRejectsBadPublicKey(t *testing.T) {
	registrar := registrarFunc(func(_ context.Context, _ RegistrationOptions) (*Credential, error) {
		return &Credential{ID: "credential-1", PublicKey: make([]byte, 33)}, nil
	})
	provisioner := NewProvisioner()
	if _, err := provisioner.ProvisionPasskey(context.Background(), registrar, nil, "example.com", "Example"); err == nil {
		t.Error("Expected error for non-64-byte public key")
	}
	if provisioner.Active() != nil {
		t.Error("Failed registration must not leave an active signer")
	}
}
