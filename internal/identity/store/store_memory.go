package store

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"custodia/internal/identity/models"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

const resolveCacheSize = 1024

// InMemoryStore keeps DID documents in memory with an LRU read cache in
// front. Resolution is read-heavy; the cache is invalidated on update.
type InMemoryStore struct {
	mu    sync.RWMutex
	docs  map[id.DID]*models.Document
	cache *lru.Cache[id.DID, *models.Document]
}

// New constructs an empty in-memory identity store.
func New() *InMemoryStore {
	cache, _ := lru.New[id.DID, *models.Document](resolveCacheSize)
	return &InMemoryStore{
		docs:  make(map[id.DID]*models.Document),
		cache: cache,
	}
}

func (s *InMemoryStore) Save(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[doc.ID]; exists {
		return dErrors.New(dErrors.CodeConflict, "identity already exists")
	}
	s.docs[doc.ID] = doc.Clone()
	return nil
}

func (s *InMemoryStore) FindByDID(_ context.Context, did id.DID) (*models.Document, error) {
	if doc, ok := s.cache.Get(did); ok {
		return doc.Clone(), nil
	}

	// The cache fill stays inside the lock: filling after release could
	// re-add a document a concurrent Update has already replaced, and the
	// stale key material would then be served until the next invalidation.
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[did]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "identity not found")
	}
	s.cache.Add(did, doc.Clone())
	return doc.Clone(), nil
}

func (s *InMemoryStore) Update(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; !ok {
		return dErrors.New(dErrors.CodeNotFound, "identity not found")
	}
	s.docs[doc.ID] = doc.Clone()
	s.cache.Remove(doc.ID)
	return nil
}
