package checkpoint

import (
	"fmt"
	"sync"
)

// SyncStore wraps a Store with per-key locking, so that concurrent writers of the same key
// end in a single consistent last-writer-wins state.
type SyncStore struct {
	store Store
	locks sync.Map // map[string]*sync.RWMutex
}

// NewSyncStore ...
func NewSyncStore(store Store) (*SyncStore, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &SyncStore{store: store}, nil
}

// getLock returns a per-key RWMutex, creating one if it doesn't exist.
func (s *SyncStore) getLock(key string) *sync.RWMutex {
	lock, _ := s.locks.LoadOrStore(key, &sync.RWMutex{})
	return lock.(*sync.RWMutex)
}

// Get reads a checkpoint with read locking.
func (s *SyncStore) Get(key string) (Checkpoint, bool, error) {
	lock := s.getLock(key)
	lock.RLock()
	defer lock.RUnlock()

	return s.store.Get(key)
}

// Put writes a checkpoint with write locking.
func (s *SyncStore) Put(key string, cp Checkpoint) error {
	lock := s.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	return s.store.Put(key, cp)
}

// Delete removes a checkpoint with write locking.
func (s *SyncStore) Delete(key string) error {
	lock := s.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	return s.store.Delete(key)
}
