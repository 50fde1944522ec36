package checkpoint

import "sync"

// MemoryStore keeps encoded checkpoints in memory. It does not survive restarts and is meant for
// tests and for embedding callers that persist the documents themselves.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryStore ...
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string][]byte{}}
}

// Get ...
func (s *MemoryStore) Get(key string) (Checkpoint, bool, error) {
	s.mu.RLock()
	data, ok := s.docs[key]
	s.mu.RUnlock()
	if !ok {
		return Checkpoint{}, false, nil
	}

	cp, err := Unmarshal(data)
	if err != nil {
		return Checkpoint{}, false, err
	}
	return cp, true, nil
}

// Put ...
func (s *MemoryStore) Put(key string, cp Checkpoint) error {
	data, err := Marshal(cp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = data
	return nil
}

// Delete ...
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, key)
	return nil
}
