// Package models defines the identity registry's domain types: DID documents,
// their key material, and self-authenticated update patches.
package models

import (
	"time"

	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Verification method purposes.
const (
	PurposeAuthentication = "authentication"
	PurposeKeyAgreement   = "keyAgreement"
)

// VerificationMethod is a public key bound to a DID document.
type VerificationMethod struct {
	ID        string    `json:"id"` // <did>#keys-N
	Type      string    `json:"type"`
	Purpose   string    `json:"purpose"`
	PublicKey []byte    `json:"publicKey"`
	Created   time.Time `json:"created"`
}

// ServiceEndpoint advertises a service reachable for this identity.
type ServiceEndpoint struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Endpoint string `json:"endpoint"`
}

// Document is the resolvable DID document. The registry stores public
// material only; private keys are returned once at creation and never kept.
type Document struct {
	ID                  id.DID               `json:"id"`
	RoleHint            string               `json:"roleHint,omitempty"`
	VerificationMethods []VerificationMethod `json:"verificationMethods"`
	Services            []ServiceEndpoint    `json:"services"`
	Created             time.Time            `json:"created"`
	Updated             time.Time            `json:"updated"`
}

// AuthenticationKey returns the public key registered for authentication.
func (d *Document) AuthenticationKey() ([]byte, string, error) {
	for _, vm := range d.VerificationMethods {
		if vm.Purpose == PurposeAuthentication {
			return vm.PublicKey, vm.ID, nil
		}
	}
	return nil, "", dErrors.New(dErrors.CodeInvariantViolation, "document has no authentication key")
}

// KeyAgreementKey returns the public key registered for key agreement.
func (d *Document) KeyAgreementKey() ([]byte, string, error) {
	for _, vm := range d.VerificationMethods {
		if vm.Purpose == PurposeKeyAgreement {
			return vm.PublicKey, vm.ID, nil
		}
	}
	return nil, "", dErrors.New(dErrors.CodeInvariantViolation, "document has no key agreement key")
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (d *Document) Clone() *Document {
	cp := *d
	cp.VerificationMethods = append([]VerificationMethod{}, d.VerificationMethods...)
	cp.Services = append([]ServiceEndpoint{}, d.Services...)
	return &cp
}

// KeyMaterial carries the private halves generated at creation. Handed to the
// caller exactly once.
type KeyMaterial struct {
	Authentication []byte
	KeyAgreement   []byte
}

// Patch describes a self-authenticated document update. Zero fields are
// left unchanged.
type Patch struct {
	AddServices      []ServiceEndpoint
	RemoveServiceIDs []string
	// NewAuthenticationKey rotates the authentication key to this public key.
	NewAuthenticationKey []byte
	// NewKeyAgreementKey rotates the key agreement key to this public key.
	NewKeyAgreementKey []byte
}

// IsEmpty reports whether the patch would change nothing.
func (p Patch) IsEmpty() bool {
	return len(p.AddServices) == 0 &&
		len(p.RemoveServiceIDs) == 0 &&
		len(p.NewAuthenticationKey) == 0 &&
		len(p.NewKeyAgreementKey) == 0
}

// Challenge is a single-use nonce issued for update authentication.
type Challenge struct {
	DID       id.DID
	Nonce     []byte
	ExpiresAt time.Time
}
