package storage

import (
	"encoding/json"
	"sync"

	"ewp-backend/models"
)

// MemoryStore holds the serialized blob in memory, so loads always return a
// fresh copy exactly as a durable store would.
type MemoryStore struct {
	mu   sync.RWMutex
	data []byte
	// FailSaves makes Save return an error, for exercising rollback paths.
	FailSaves error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (*models.ElectionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return nil, ErrNoState
	}
	return decodeState(s.data)
}

func (s *MemoryStore) Save(state *models.ElectionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaves != nil {
		return s.FailSaves
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.data = data
	return nil
}

func (s *MemoryStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}

func (s *MemoryStore) Close() error { return nil }
