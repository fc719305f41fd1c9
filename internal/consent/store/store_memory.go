package store

import (
	"context"
	"sync"
	"time"

	"custodia/internal/consent/models"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// Error Contract:
// - FindByID returns a CodeNotFound domain error when the rule is absent
// - ConsumeUsage returns CodeAccessDenied when the usage cap is exhausted
// - Revoke returns CodeAlreadyRevoked when the rule was already revoked

// Store persists consent rules keyed by grantor.
type Store interface {
	Save(ctx context.Context, rule *models.Rule) error
	FindByID(ctx context.Context, consentID id.ConsentID) (*models.Rule, error)
	ListByGrantor(ctx context.Context, grantor string) ([]*models.Rule, error)
	// ConsumeUsage checks the rule's cap and increments its counter as one
	// atomic step, serialized per consent id.
	ConsumeUsage(ctx context.Context, consentID id.ConsentID) error
	Revoke(ctx context.Context, consentID id.ConsentID, revokedAt time.Time) error
}

// InMemoryStore stores consent rules in memory.
type InMemoryStore struct {
	mu        sync.RWMutex
	rules     map[id.ConsentID]*models.Rule
	byGrantor map[string][]id.ConsentID
}

// New constructs an empty in-memory consent store.
func New() *InMemoryStore {
	return &InMemoryStore{
		rules:     make(map[id.ConsentID]*models.Rule),
		byGrantor: make(map[string][]id.ConsentID),
	}
}

func (s *InMemoryStore) Save(_ context.Context, rule *models.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[rule.ID]; exists {
		return dErrors.New(dErrors.CodeConflict, "consent rule already exists")
	}
	cp := *rule
	s.rules[rule.ID] = &cp
	s.byGrantor[rule.Grantor] = append(s.byGrantor[rule.Grantor], rule.ID)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, consentID id.ConsentID) (*models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[consentID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "consent rule not found")
	}
	cp := *rule
	return &cp, nil
}

func (s *InMemoryStore) ListByGrantor(_ context.Context, grantor string) ([]*models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byGrantor[grantor]
	rules := make([]*models.Rule, 0, len(ids))
	for _, cid := range ids {
		cp := *s.rules[cid]
		rules = append(rules, &cp)
	}
	return rules, nil
}

func (s *InMemoryStore) ConsumeUsage(_ context.Context, consentID id.ConsentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[consentID]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "consent rule not found")
	}
	if rule.UsageCap > 0 && rule.UsageCount >= rule.UsageCap {
		return dErrors.New(dErrors.CodeAccessDenied, "consent usage cap exhausted")
	}
	rule.UsageCount++
	return nil
}

func (s *InMemoryStore) Revoke(_ context.Context, consentID id.ConsentID, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[consentID]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "consent rule not found")
	}
	if rule.RevokedAt != nil {
		return dErrors.New(dErrors.CodeAlreadyRevoked, "consent rule already revoked")
	}
	rule.RevokedAt = &revokedAt
	return nil
}
