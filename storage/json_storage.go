package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/xerrors"

	"ewp-backend/models"
)

// JSONStore keeps the state in a single JSON file, replaced atomically on
// every save.
type JSONStore struct {
	path string
	mu   sync.RWMutex
}

func NewJSONStore(path string) (*JSONStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, xerrors.Errorf("failed to create directory: %v", err)
	}
	return &JSONStore{path: path}, nil
}

func (s *JSONStore) Load() (*models.ElectionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoState
		}
		return nil, xerrors.Errorf("failed to read state: %v", err)
	}
	return decodeState(data)
}

func (s *JSONStore) Save(state *models.ElectionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return xerrors.Errorf("failed to marshal state: %v", err)
	}
	return writeAtomic(s.path, data)
}

func (s *JSONStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("failed to remove state: %v", err)
	}
	return nil
}

func (s *JSONStore) Close() error { return nil }

// writeAtomic writes to a temporary file first and renames it into place.
func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return xerrors.Errorf("failed to write state file: %v", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return xerrors.Errorf("failed to save state file: %v", err)
	}
	return nil
}
