package store

import (
	"context"

	"custodia/internal/identity/models"
	id "custodia/pkg/domain"
)

// Error Contract:
// - Find methods return a CodeNotFound domain error when the entity is absent
// - Mutations return nil on success or wrapped errors on failure

// Store persists DID documents.
type Store interface {
	Save(ctx context.Context, doc *models.Document) error
	FindByDID(ctx context.Context, did id.DID) (*models.Document, error)
	Update(ctx context.Context, doc *models.Document) error
}

// ChallengeStore persists single-use update challenges. Take removes the
// challenge so it can be consumed at most once.
type ChallengeStore interface {
	Put(ctx context.Context, challenge models.Challenge) error
	Take(ctx context.Context, did id.DID) (models.Challenge, error)
}
