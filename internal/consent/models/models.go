// Package models defines consent rules gating ledger reads.
package models

import (
	"time"

	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// RecordTypeWildcard matches any requested record type.
const RecordTypeWildcard = "*"

// TimeWindow restricts a rule to a daily hour range [StartHour, EndHour).
type TimeWindow struct {
	StartHour int `json:"startHour"`
	EndHour   int `json:"endHour"`
}

// Contains reports whether t falls inside the window. Windows wrapping past
// midnight (e.g. 22–6) are supported.
func (w TimeWindow) Contains(t time.Time) bool {
	h := t.Hour()
	if w.StartHour <= w.EndHour {
		return h >= w.StartHour && h < w.EndHour
	}
	return h >= w.StartHour || h < w.EndHour
}

// Rule captures a subject's grant of read access to a grantee. Mutable only
// via revocation and usage-counter increments; there are no in-place edits.
type Rule struct {
	ID          id.ConsentID `json:"id"`
	Grantor     string       `json:"grantor"` // subject key owning the data
	Grantee     id.DID       `json:"grantee"`
	Purpose     string       `json:"purpose"`
	RecordTypes []string     `json:"recordTypes"`
	GrantedAt   time.Time    `json:"grantedAt"`
	ExpiresAt   *time.Time   `json:"expiresAt,omitempty"`
	UsageCap    int          `json:"usageCap,omitempty"` // 0 = unlimited
	UsageCount  int          `json:"usageCount"`
	Window      *TimeWindow  `json:"window,omitempty"`
	RevokedAt   *time.Time   `json:"revokedAt,omitempty"`
}

// NewRule creates a Rule with domain invariant checks.
func NewRule(consentID id.ConsentID, grantor string, grantee id.DID, purpose string, recordTypes []string, grantedAt time.Time) (*Rule, error) {
	if consentID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "consent ID required")
	}
	if grantor == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "grantor required")
	}
	if grantee.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "grantee required")
	}
	if purpose == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "purpose required")
	}
	if len(recordTypes) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "at least one record type required")
	}
	return &Rule{
		ID:          consentID,
		Grantor:     grantor,
		Grantee:     grantee,
		Purpose:     purpose,
		RecordTypes: recordTypes,
		GrantedAt:   grantedAt,
	}, nil
}

// IsActive reports whether the rule is unrevoked and unexpired at now.
func (r Rule) IsActive(now time.Time) bool {
	if r.RevokedAt != nil {
		return false
	}
	if r.ExpiresAt != nil && !now.Before(*r.ExpiresAt) {
		return false
	}
	return true
}

// Covers reports whether every requested type is allowed by the rule.
// The wildcard matches anything.
func (r Rule) Covers(requested []string) bool {
	allowed := make(map[string]bool, len(r.RecordTypes))
	for _, t := range r.RecordTypes {
		if t == RecordTypeWildcard {
			return true
		}
		allowed[t] = true
	}
	for _, t := range requested {
		if !allowed[t] {
			return false
		}
	}
	return len(requested) > 0
}

// Authorizes evaluates the full rule predicate for a request at now:
// active, purpose match, requested types covered, usage under cap, and
// inside the daily window if one is set.
func (r Rule) Authorizes(grantee id.DID, purpose string, recordTypes []string, now time.Time) bool {
	if !r.IsActive(now) {
		return false
	}
	if r.Grantee != grantee || r.Purpose != purpose {
		return false
	}
	if !r.Covers(recordTypes) {
		return false
	}
	if r.UsageCap > 0 && r.UsageCount >= r.UsageCap {
		return false
	}
	if r.Window != nil && !r.Window.Contains(now) {
		return false
	}
	return true
}
