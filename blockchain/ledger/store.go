package ledger

import (
	"sync"

	"golang.org/x/xerrors"

	"ewp-backend/models"
)

// ErrNotFound is returned for unknown indices or tx ids.
var ErrNotFound = xerrors.New("ledger entry not found")

// Store persists a node's hash chain. Append is only ever called by the
// node's single writer.
type Store interface {
	Append(entry *models.LedgerEntry) error
	Head() (*models.LedgerEntry, error)
	Get(index uint64) (*models.LedgerEntry, error)
	FindTx(txID string) (*models.LedgerEntry, error)
	Range(from uint64, limit int) ([]*models.LedgerEntry, error)
	Height() (uint64, error)
	TypeCounts() (map[models.EventType]int, error)
	Close() error
}

// MemoryStore keeps the chain in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*models.LedgerEntry
	byTx    map[string]uint64
	counts  map[models.EventType]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byTx:   make(map[string]uint64),
		counts: make(map[models.EventType]int),
	}
}

func (s *MemoryStore) Append(entry *models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.Index != uint64(len(s.entries))+1 {
		return xerrors.Errorf("append index %d at height %d", entry.Index, len(s.entries))
	}
	s.entries = append(s.entries, entry)
	s.byTx[entry.Event.TxID] = entry.Index
	s.counts[entry.Event.Type]++
	return nil
}

func (s *MemoryStore) Head() (*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, nil
	}
	return s.entries[len(s.entries)-1], nil
}

func (s *MemoryStore) Get(index uint64) (*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index == 0 || index > uint64(len(s.entries)) {
		return nil, ErrNotFound
	}
	return s.entries[index-1], nil
}

func (s *MemoryStore) FindTx(txID string) (*models.LedgerEntry, error) {
	s.mu.RLock()
	idx, ok := s.byTx[txID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Get(idx)
}

func (s *MemoryStore) Range(from uint64, limit int) ([]*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if from == 0 {
		from = 1
	}
	var out []*models.LedgerEntry
	for i := from; i <= uint64(len(s.entries)) && len(out) < limit; i++ {
		out = append(out, s.entries[i-1])
	}
	return out, nil
}

func (s *MemoryStore) Height() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.entries)), nil
}

func (s *MemoryStore) TypeCounts() (map[models.EventType]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.EventType]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
