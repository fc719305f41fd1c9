package store

import (
	"context"
	"sync"
	"time"

	"custodia/internal/identity/models"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requesttime"
)

// InMemoryChallengeStore holds pending update challenges. One outstanding
// challenge per DID; issuing a new one replaces the old.
type InMemoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[id.DID]models.Challenge
}

func NewChallengeStore() *InMemoryChallengeStore {
	return &InMemoryChallengeStore{challenges: make(map[id.DID]models.Challenge)}
}

func (s *InMemoryChallengeStore) Put(_ context.Context, challenge models.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[challenge.DID] = challenge
	return nil
}

// Take removes and returns the pending challenge. Expired challenges are
// treated as absent.
func (s *InMemoryChallengeStore) Take(ctx context.Context, did id.DID) (models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok := s.challenges[did]
	if !ok {
		return models.Challenge{}, dErrors.New(dErrors.CodeNotFound, "no pending challenge")
	}
	delete(s.challenges, did)
	if now := requesttime.Now(ctx); now.After(challenge.ExpiresAt) {
		return models.Challenge{}, dErrors.New(dErrors.CodeExpired, "challenge expired")
	}
	return challenge, nil
}

// Prune drops expired challenges. Callers may run it periodically.
func (s *InMemoryChallengeStore) Prune(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for did, c := range s.challenges {
		if now.After(c.ExpiresAt) {
			delete(s.challenges, did)
		}
	}
}
