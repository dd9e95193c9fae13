package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps documents in process memory
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*Document
	now         func() time.Time
}

// NewMemoryStore creates an empty in-memory document store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]*Document),
		now:         time.Now,
	}
}

// Get returns a copy of the stored document
func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDocument(doc), nil
}

// Set replaces the document
func (s *MemoryStore) Set(ctx context.Context, collection, id string, data json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !json.Valid(data) {
		return fmt.Errorf("%w: %s/%s", ErrInvalidDocument, collection, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(collection, id, data)
	return nil
}

// Merge overlays top-level fields onto the stored document
func (s *MemoryStore) Merge(ctx context.Context, collection, id string, data json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var base json.RawMessage
	if doc, ok := s.collections[collection][id]; ok {
		base = doc.Data
	}
	merged, err := MergeFields(base, data)
	if err != nil {
		return err
	}
	s.put(collection, id, merged)
	return nil
}

// Query returns documents matching every filter, ordered by id
func (s *MemoryStore) Query(ctx context.Context, collection string, filters ...Filter) ([]*Document, error) {
	docs, err := s.List(ctx, collection)
	if err != nil {
		return nil, err
	}

	result := make([]*Document, 0, len(docs))
	for _, doc := range docs {
		ok, err := Matches(doc.Data, filters)
		if err != nil {
			continue
		}
		if ok {
			result = append(result, doc)
		}
	}
	return result, nil
}

// List returns every document in the collection ordered by id.
// A collection that was never written to is empty.
func (s *MemoryStore) List(ctx context.Context, collection string) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]*Document, 0, len(s.collections[collection]))
	for _, doc := range s.collections[collection] {
		docs = append(docs, cloneDocument(doc))
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s *MemoryStore) put(collection, id string, data json.RawMessage) {
	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]*Document)
		s.collections[collection] = docs
	}
	docs[id] = &Document{
		Collection: collection,
		ID:         id,
		Data:       append(json.RawMessage(nil), data...),
		UpdatedAt:  s.now().UTC(),
	}
}

func cloneDocument(doc *Document) *Document {
	c := *doc
	c.Data = append(json.RawMessage(nil), doc.Data...)
	return &c
}
