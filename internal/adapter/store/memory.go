package store

import (
	"fmt"
	"sync"

	"github.com/fairyhunter13/chat-relay/internal/domain"
)

// MemoryStore keeps the state document in process memory only; state is lost
// on restart.
type MemoryStore struct {
	mu  sync.Mutex
	doc *domain.StateDocument
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Name identifies the backend.
func (s *MemoryStore) Name() string { return domain.StoreBackendMemory }

// Load returns the stored document, or ErrNotFound before the first save.
func (s *MemoryStore) Load(_ domain.Context) (domain.StateDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return domain.StateDocument{}, fmt.Errorf("op=store.memory.load: %w", domain.ErrNotFound)
	}
	return s.doc.Clone(), nil
}

// Save replaces the stored document.
func (s *MemoryStore) Save(_ domain.Context, doc domain.StateDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cloned := doc.Clone()
	s.doc = &cloned
	return nil
}
