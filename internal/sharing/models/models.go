// Package models defines the sharing token: a time-boxed bearer capability
// granting access to specific records independent of consent evaluation.
package models

import (
	"time"

	id "custodia/pkg/domain"
)

// Token grants its grantee access to a fixed record set until expiry. A
// single-use token is consumed atomically on first successful redemption.
type Token struct {
	ID        id.TokenID    `json:"id"`
	Grantor   id.DID        `json:"grantor"`
	Grantee   id.DID        `json:"grantee"`
	RecordIDs []id.RecordID `json:"recordIds"`
	IssuedAt  time.Time     `json:"issuedAt"`
	ExpiresAt time.Time     `json:"expiresAt"`
	SingleUse bool          `json:"singleUse"`
	Used      bool          `json:"used"`
	UsedAt    *time.Time    `json:"usedAt,omitempty"`
	// EphemeralKey is an HKDF-derived sealing key scoped to this token.
	// Handed to the grantee on redemption so sealed payloads shared through
	// the token never expose the subject's long-lived key.
	EphemeralKey []byte `json:"-"`
}

// Expired reports whether the token is past its validity window.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (t *Token) Clone() *Token {
	cp := *t
	cp.RecordIDs = append([]id.RecordID{}, t.RecordIDs...)
	cp.EphemeralKey = append([]byte{}, t.EphemeralKey...)
	if t.UsedAt != nil {
		usedAt := *t.UsedAt
		cp.UsedAt = &usedAt
	}
	return &cp
}
