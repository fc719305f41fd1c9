// Package models defines verifiable credentials and presentations together
// with their canonical signing forms.
package models

import (
	"encoding/json"
	"time"

	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Claims is the assertion set carried by a credential. Serialized with
// encoding/json, which orders map keys deterministically.
type Claims map[string]any

// Credential is a signed claim set about a subject. Immutable once issued
// except for the revocation flag, which is terminal.
type Credential struct {
	ID        id.CredentialID `json:"id"`
	Type      string          `json:"type"`
	Issuer    id.DID          `json:"issuer"`
	Subject   id.DID          `json:"subject"`
	Claims    Claims          `json:"claims"`
	IssuedAt  time.Time       `json:"issuedAt"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
	Proof     *id.Proof       `json:"proof,omitempty"`
	Revoked   bool            `json:"revoked"`
	RevokedAt *time.Time      `json:"revokedAt,omitempty"`
}

// canonicalCredential is the deterministic signing form: fixed field order,
// proof and revocation state excluded.
type canonicalCredential struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Issuer    string     `json:"issuer"`
	Subject   string     `json:"subject"`
	Claims    Claims     `json:"claims"`
	IssuedAt  time.Time  `json:"issuedAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// CanonicalBytes returns the byte form the issuer signs and verifiers check.
func (c *Credential) CanonicalBytes() ([]byte, error) {
	doc := canonicalCredential{
		ID:        c.ID.String(),
		Type:      c.Type,
		Issuer:    c.Issuer.String(),
		Subject:   c.Subject.String(),
		Claims:    c.Claims,
		IssuedAt:  c.IssuedAt.UTC(),
		ExpiresAt: c.ExpiresAt,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to canonicalize credential")
	}
	return data, nil
}

// VerifyResult reports each sub-check independently for diagnostics.
// Valid = ProofValid && NotExpired && NotRevoked.
type VerifyResult struct {
	Valid      bool `json:"valid"`
	ProofValid bool `json:"proofValid"`
	NotExpired bool `json:"notExpired"`
	NotRevoked bool `json:"notRevoked"`
}

// Presentation is a holder-assembled bundle of credentials plus a holder
// proof binding challenge and domain to defeat replay.
type Presentation struct {
	ID            id.CredentialID   `json:"id"`
	Holder        id.DID            `json:"holder"`
	CredentialIDs []id.CredentialID `json:"credentialIds"`
	Challenge     string            `json:"challenge,omitempty"`
	Domain        string            `json:"domain,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	Proof         *id.Proof         `json:"proof,omitempty"`
}

type canonicalPresentation struct {
	ID            string    `json:"id"`
	Holder        string    `json:"holder"`
	CredentialIDs []string  `json:"credentialIds"`
	Challenge     string    `json:"challenge,omitempty"`
	Domain        string    `json:"domain,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CanonicalBytes returns the byte form bound by the holder proof.
func (p *Presentation) CanonicalBytes() ([]byte, error) {
	ids := make([]string, len(p.CredentialIDs))
	for i, cid := range p.CredentialIDs {
		ids[i] = cid.String()
	}
	doc := canonicalPresentation{
		ID:            p.ID.String(),
		Holder:        p.Holder.String(),
		CredentialIDs: ids,
		Challenge:     p.Challenge,
		Domain:        p.Domain,
		CreatedAt:     p.CreatedAt.UTC(),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to canonicalize presentation")
	}
	return data, nil
}

// PresentationResult reports holder-proof and per-credential outcomes.
type PresentationResult struct {
	Valid               bool                             `json:"valid"`
	HolderProofValid    bool                             `json:"holderProofValid"`
	AllCredentialsValid bool                             `json:"allCredentialsValid"`
	Credentials         map[id.CredentialID]VerifyResult `json:"credentials"`
}
