package audit

import "time"

// Actions recorded in the audit trail.
const (
	ActionRecordRead     = "record_read"
	ActionRecordAppended = "record_appended"
	ActionTokenRedeemed  = "token_redeemed"
	ActionAccessDenied   = "access_denied"

	ActionCredentialIssued  = "credential_issued"
	ActionCredentialRevoked = "credential_revoked"
	ActionConsentGranted    = "consent_granted"
	ActionConsentRevoked    = "consent_revoked"
)

// Decisions attached to audit events.
const (
	DecisionAllowed = "allowed"
	DecisionDenied  = "denied"
)

// Event is emitted from domain logic to capture access history. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp    time.Time
	Subject      string // subject key or entity owner the event concerns
	RecordID     string // ledger record touched, if any
	Accessor     string // DID of the acting party
	AccessorRole string
	Action       string
	Purpose      string
	GrantRef     string // consent or token id that authorized the access
	Decision     string
	Reason       string
}

// Filter narrows audit queries. Zero values match everything.
type Filter struct {
	From     time.Time
	To       time.Time
	Accessor string
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(e Event) bool {
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	if f.Accessor != "" && e.Accessor != f.Accessor {
		return false
	}
	return true
}
