package snapshot

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store. Engines sharing one instance share a storage scope.
type MemoryStore struct {
	mu       sync.Mutex
	snapshot Snapshot
	present  bool
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.present {
		return Snapshot{}, false, nil
	}
	copied := s.snapshot
	copied.Playlist = s.snapshot.Playlist.Clone()
	return copied, true, nil
}

func (s *MemoryStore) Save(_ context.Context, snapshot Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot
	s.snapshot.Playlist = snapshot.Playlist.Clone()
	s.present = true
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = Snapshot{}
	s.present = false
	return nil
}
