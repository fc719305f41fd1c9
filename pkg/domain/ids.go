// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "custodia/pkg/domain-errors"
)

// DIDPrefix is the method prefix for identifiers minted by this registry.
const DIDPrefix = "did:custodia:"

// DID is a decentralized identifier resolving to a document of keys and
// service endpoints. Stored and compared as its full string form.
type DID string

// NewDID mints a fresh DID under the custodia method.
func NewDID() DID {
	return DID(DIDPrefix + uuid.NewString())
}

// ParseDID validates the string form of a DID at trust boundaries.
func ParseDID(s string) (DID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "DID cannot be empty")
	}
	if !strings.HasPrefix(s, "did:") {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid DID format")
	}
	return DID(s), nil
}

func (d DID) String() string { return string(d) }
func (d DID) IsNil() bool    { return d == "" }

// SubjectKey partitions ledger chains. For patient records it is the patient
// DID; for pharmaceutical custody it is the drug batch id. Chains under
// different subject keys are fully independent.
type SubjectKey string

func (k SubjectKey) String() string { return string(k) }
func (k SubjectKey) IsNil() bool    { return k == "" }

// Distinct ID types - compiler prevents passing a ConsentID where a TokenID
// is expected.
type (
	CredentialID uuid.UUID
	RecordID     uuid.UUID
	ConsentID    uuid.UUID
	TokenID      uuid.UUID
)

// New* mint fresh identifiers.

func NewCredentialID() CredentialID { return CredentialID(uuid.New()) }
func NewRecordID() RecordID         { return RecordID(uuid.New()) }
func NewConsentID() ConsentID       { return ConsentID(uuid.New()) }
func NewTokenID() TokenID           { return TokenID(uuid.New()) }

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseCredentialID(s string) (CredentialID, error) {
	id, err := parseUUID(s, "credential ID")
	return CredentialID(id), err
}

func ParseRecordID(s string) (RecordID, error) {
	id, err := parseUUID(s, "record ID")
	return RecordID(id), err
}

func ParseConsentID(s string) (ConsentID, error) {
	id, err := parseUUID(s, "consent ID")
	return ConsentID(id), err
}

func ParseTokenID(s string) (TokenID, error) {
	id, err := parseUUID(s, "token ID")
	return TokenID(id), err
}

// String methods - for logging and serialization.

func (id CredentialID) String() string { return uuid.UUID(id).String() }
func (id RecordID) String() string     { return uuid.UUID(id).String() }
func (id ConsentID) String() string    { return uuid.UUID(id).String() }
func (id TokenID) String() string      { return uuid.UUID(id).String() }

// IsNil checks - used for service-layer validation.

func (id CredentialID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id RecordID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ConsentID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id TokenID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

// Text marshaling - defined types do not inherit uuid.UUID's methods, and
// exposed documents must round-trip through JSON without information loss.

func (id CredentialID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id RecordID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id ConsentID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id TokenID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }

func (id *CredentialID) UnmarshalText(text []byte) error {
	parsed, err := ParseCredentialID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *RecordID) UnmarshalText(text []byte) error {
	parsed, err := ParseRecordID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *ConsentID) UnmarshalText(text []byte) error {
	parsed, err := ParseConsentID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *TokenID) UnmarshalText(text []byte) error {
	parsed, err := ParseTokenID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// parseUUID is the shared validation logic. Nil UUIDs are allowed here; use
// IsNil() at the service layer for business validation so store lookups can
// return proper "not found" errors.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	return id, nil
}
