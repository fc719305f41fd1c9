package store

import (
	"context"
	"sync"
	"time"

	"custodia/internal/credential/models"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Error Contract:
// - FindByID returns a CodeNotFound domain error when the credential is absent
// - MarkRevoked returns CodeAlreadyRevoked when revocation was already applied

// Store persists credentials. Credentials are immutable after issuance
// except for the terminal revoked flag.
type Store interface {
	Save(ctx context.Context, credential *models.Credential) error
	FindByID(ctx context.Context, credentialID id.CredentialID) (*models.Credential, error)
	MarkRevoked(ctx context.Context, credentialID id.CredentialID, revokedAt time.Time) error
}

// InMemoryStore keeps credentials in memory.
type InMemoryStore struct {
	mu          sync.RWMutex
	credentials map[id.CredentialID]*models.Credential
}

// New constructs an empty in-memory credential store.
func New() *InMemoryStore {
	return &InMemoryStore{credentials: make(map[id.CredentialID]*models.Credential)}
}

func (s *InMemoryStore) Save(_ context.Context, credential *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.credentials[credential.ID]; exists {
		return dErrors.New(dErrors.CodeConflict, "credential already exists")
	}
	cp := *credential
	s.credentials[credential.ID] = &cp
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, credentialID id.CredentialID) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	credential, ok := s.credentials[credentialID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "credential not found")
	}
	cp := *credential
	return &cp, nil
}

// MarkRevoked flips the terminal revoked flag. The transition happens at most
// once; concurrent revocations observe CodeAlreadyRevoked.
func (s *InMemoryStore) MarkRevoked(_ context.Context, credentialID id.CredentialID, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	credential, ok := s.credentials[credentialID]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "credential not found")
	}
	if credential.Revoked {
		return dErrors.New(dErrors.CodeAlreadyRevoked, "credential already revoked")
	}
	credential.Revoked = true
	credential.RevokedAt = &revokedAt
	return nil
}
