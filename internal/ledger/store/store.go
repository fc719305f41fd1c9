package store

import (
	"context"

	"custodia/internal/ledger/models"
	id "custodia/pkg/domain"
)

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks Store

// Error Contract:
// - FindByID returns a CodeNotFound domain error when the record is absent
// - Insert never overwrites: records are append-only and immutable

// Store is the persistence collaborator for ledger chains: an append-only,
// ordered store keyed by subject. Only access-log entries are appended to a
// stored record after insert; canonical fields are never touched.
type Store interface {
	Insert(ctx context.Context, record *models.Record) error
	ListBySubject(ctx context.Context, subject id.SubjectKey) ([]*models.Record, error)
	// Head returns the latest record for a subject, or nil for a new chain.
	Head(ctx context.Context, subject id.SubjectKey) (*models.Record, error)
	FindByID(ctx context.Context, recordID id.RecordID) (*models.Record, error)
	AppendAccessEntry(ctx context.Context, recordID id.RecordID, entry models.AccessEntry) error
}
