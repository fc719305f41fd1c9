package store

import (
	"context"
	"sync"

	"custodia/internal/ledger/models"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

// InMemoryStore keeps chains as subject-indexed ordered sequences.
type InMemoryStore struct {
	mu     sync.RWMutex
	chains map[id.SubjectKey][]*models.Record
	byID   map[id.RecordID]*models.Record
}

// New constructs an empty in-memory ledger store.
func New() *InMemoryStore {
	return &InMemoryStore{
		chains: make(map[id.SubjectKey][]*models.Record),
		byID:   make(map[id.RecordID]*models.Record),
	}
}

func (s *InMemoryStore) Insert(_ context.Context, record *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[record.ID]; exists {
		return dErrors.New(dErrors.CodeConflict, "record already exists")
	}
	cp := record.Clone()
	s.chains[record.Subject] = append(s.chains[record.Subject], cp)
	s.byID[record.ID] = cp
	return nil
}

func (s *InMemoryStore) ListBySubject(_ context.Context, subject id.SubjectKey) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[subject]
	records := make([]*models.Record, 0, len(chain))
	for _, r := range chain {
		records = append(records, r.Clone())
	}
	return records, nil
}

func (s *InMemoryStore) Head(_ context.Context, subject id.SubjectKey) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[subject]
	if len(chain) == 0 {
		return nil, nil
	}
	return chain[len(chain)-1].Clone(), nil
}

func (s *InMemoryStore) FindByID(_ context.Context, recordID id.RecordID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.byID[recordID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "record not found")
	}
	return record.Clone(), nil
}

func (s *InMemoryStore) AppendAccessEntry(_ context.Context, recordID id.RecordID, entry models.AccessEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[recordID]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "record not found")
	}
	record.AccessLog = append(record.AccessLog, entry)
	return nil
}

// Tamper overwrites a stored record's payload in place without recomputing
// its hash. Test hook for integrity verification; never part of the Store
// interface.
func (s *InMemoryStore) Tamper(recordID id.RecordID, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.byID[recordID]
	if !ok {
		return false
	}
	record.Payload = payload
	return true
}
