// Package ingest defines the contract between connectors and the content
// indexing subsystem. The indexing side lives outside this module; only
// the call signature is fixed here.
package ingest

import "sync"

// Sink receives synchronized text content for indexing
type Sink interface {
	Ingest(collectionName, itemID, content string) error
}

// MemorySink collects ingested items in memory. Used in tests and as a
// stand-in when no indexing backend is wired up.
type MemorySink struct {
	mu    sync.Mutex
	items map[string]map[string]string
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{items: make(map[string]map[string]string)}
}

func (s *MemorySink) Ingest(collectionName, itemID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	collection, ok := s.items[collectionName]
	if !ok {
		collection = make(map[string]string)
		s.items[collectionName] = collection
	}
	collection[itemID] = content
	return nil
}

// Get returns the content stored for an item, if any
func (s *MemorySink) Get(collectionName, itemID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	collection, ok := s.items[collectionName]
	if !ok {
		return "", false
	}
	content, ok := collection[itemID]
	return content, ok
}

// Count returns the number of items in a collection
func (s *MemorySink) Count(collectionName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items[collectionName])
}
