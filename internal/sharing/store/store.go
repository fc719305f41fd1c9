package store

import (
	"context"
	"time"

	"custodia/internal/sharing/models"
	id "custodia/pkg/domain"
)

// Error Contract:
// - FindByID returns a CodeNotFound domain error when the token is absent
// - MarkUsed returns a CodeTokenUsed domain error when the token was already
//   consumed; under concurrent redemption exactly one caller succeeds

// Store persists sharing tokens. MarkUsed is the atomic compare-and-set
// backing single-use semantics.
type Store interface {
	Save(ctx context.Context, token *models.Token) error
	FindByID(ctx context.Context, tokenID id.TokenID) (*models.Token, error)
	MarkUsed(ctx context.Context, tokenID id.TokenID, at time.Time) error
}
