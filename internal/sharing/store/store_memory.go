package store

import (
	"context"
	"sync"
	"time"

	"custodia/internal/sharing/models"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// InMemoryStore keeps tokens in a map. The used-flag transition happens under
// the store mutex, so concurrent redemptions observe a single winner.
type InMemoryStore struct {
	mu     sync.RWMutex
	tokens map[id.TokenID]*models.Token
}

// New constructs an empty in-memory token store.
func New() *InMemoryStore {
	return &InMemoryStore{tokens: make(map[id.TokenID]*models.Token)}
}

func (s *InMemoryStore) Save(_ context.Context, token *models.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token.ID]; exists {
		return dErrors.New(dErrors.CodeConflict, "token already exists")
	}
	s.tokens[token.ID] = token.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, tokenID id.TokenID) (*models.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[tokenID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "token not found")
	}
	return token.Clone(), nil
}

func (s *InMemoryStore) MarkUsed(_ context.Context, tokenID id.TokenID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenID]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "token not found")
	}
	if token.Used {
		return dErrors.New(dErrors.CodeTokenUsed, "token already redeemed")
	}
	token.Used = true
	usedAt := at
	token.UsedAt = &usedAt
	return nil
}
