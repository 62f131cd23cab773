package docstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string][]Document)}
}

func (s *MemoryStore) FetchAll(_ context.Context, collection string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.collections[collection]
	out := make([]Document, len(docs))
	for i, d := range docs {
		d.Fields = copyFields(d.Fields)
		out[i] = d
	}
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, collection string, fields map[string]any) (string, error) {
	doc := Document{
		ID:         uuid.NewString(),
		Collection: collection,
		Fields:     copyFields(fields),
		CreatedAt:  time.Now(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = append(s.collections[collection], doc)
	return doc.ID, nil
}

func (s *MemoryStore) QueryWhere(_ context.Context, collection, field, value string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for _, d := range s.collections[collection] {
		v, ok := d.Fields[field]
		if !ok || fmt.Sprint(v) != value {
			continue
		}
		d.Fields = copyFields(d.Fields)
		out = append(out, d)
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collections[collection]
	for i, d := range docs {
		if d.ID == id {
			s.collections[collection] = append(docs[:i:i], docs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("delete %s/%s: %w", collection, id, ErrNotFound)
}

// Len reports the number of documents in a collection.
func (s *MemoryStore) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}
