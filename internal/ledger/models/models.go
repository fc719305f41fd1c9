// Package models defines the append-only hash-chained ledger record and its
// canonical hashing form. The same record shape backs patient health records
// and pharmaceutical chain-of-custody events; only the subject key vocabulary
// differs.
package models

import (
	"sort"
	"strconv"
	"strings"
	"time"

	id "custodia/pkg/domain"
)

// Custody event types for pharmaceutical chain-of-custody chains.
const (
	EventManufactured = "manufactured"
	EventPackaged     = "packaged"
	EventShipped      = "shipped"
	EventReceived     = "received"
	EventDispensed    = "dispensed"
	EventAdministered = "administered"

	// EventColdChainBreak is appended to the parallel alerts chain when a
	// custody append reports an out-of-range temperature.
	EventColdChainBreak = "cold_chain_break"
)

// MetadataTemperature is the metadata key inspected by the cold-chain check.
const MetadataTemperature = "temperature"

// AlertSubject returns the parallel alerts chain for a custody subject.
func AlertSubject(subject id.SubjectKey) id.SubjectKey {
	return id.SubjectKey("alerts:" + subject.String())
}

// AccessEntry is appended to a record on each successful read.
type AccessEntry struct {
	Accessor   id.DID    `json:"accessor"`
	Role       string    `json:"role,omitempty"`
	AccessedAt time.Time `json:"accessedAt"`
	Purpose    string    `json:"purpose"`
	GrantRef   string    `json:"grantRef,omitempty"` // consent or token id
}

// Record is one link in a subject's chain. Append-only: never updated or
// deleted. Hash covers the canonical fields including PreviousHash, so any
// retroactive edit breaks verification.
type Record struct {
	ID           id.RecordID       `json:"id"`
	Subject      id.SubjectKey     `json:"subject"`
	Type         string            `json:"type"`
	Payload      []byte            `json:"payload"` // plaintext, or ciphertext when sealed
	Sealed       bool              `json:"sealed"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Actor        id.DID            `json:"actor"`
	Hash         string            `json:"hash"`
	PreviousHash string            `json:"previousHash,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	AccessLog    []AccessEntry     `json:"accessLog,omitempty"`
}

// CanonicalString is the exact byte form fed to the hash function:
// id, subject, type, payload-or-ciphertext, sorted metadata, previous hash,
// and timestamp. Access entries and the hash itself are excluded.
func (r *Record) CanonicalString() string {
	keys := make([]string, 0, len(r.Metadata))
	for k := range r.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(r.ID.String())
	b.WriteByte('|')
	b.WriteString(r.Subject.String())
	b.WriteByte('|')
	b.WriteString(r.Type)
	b.WriteByte('|')
	b.Write(r.Payload)
	b.WriteByte('|')
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(r.Metadata[k])
		b.WriteByte(';')
	}
	b.WriteByte('|')
	b.WriteString(r.PreviousHash)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(r.Timestamp.UTC().UnixNano(), 10))
	return b.String()
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Payload = append([]byte{}, r.Payload...)
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.AccessLog = append([]AccessEntry{}, r.AccessLog...)
	return &cp
}

// IntegrityReport is the result of walking one subject's chain.
// Reported, never auto-repaired.
type IntegrityReport struct {
	Subject     id.SubjectKey `json:"subject"`
	Valid       bool          `json:"valid"`
	BrokenLinks int           `json:"brokenLinkCount"`
	Total       int           `json:"total"`
}

// Filters narrow a ledger read. Zero values match everything.
type Filters struct {
	Types []string
	From  time.Time
	To    time.Time
}

// Matches reports whether the record passes the filters.
func (f Filters) Matches(r *Record) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if r.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Timestamp.After(f.To) {
		return false
	}
	return true
}
