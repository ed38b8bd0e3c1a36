// Package storage persists the election state blob. The blob schema is the
// contract; the stores here differ only in where the bytes go.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"ewp-backend/models"
)

// ErrNoState is returned by Load when nothing has been saved yet.
var ErrNoState = xerrors.New("no election state saved")

// ElectionStore is the handle every engine operation reads and writes
// state through.
type ElectionStore interface {
	Load() (*models.ElectionState, error)
	Save(state *models.ElectionState) error
	Reset() error
	Close() error
}

// Open picks a store implementation by kind: "json", "snapshot", "bolt" or
// "memory".
func Open(kind, path string) (ElectionStore, error) {
	switch kind {
	case "", "json":
		return NewJSONStore(path)
	case "snapshot":
		return NewSnapshotStore(path, DefaultSnapshotsKept)
	case "bolt":
		return NewBoltStore(path)
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, xerrors.Errorf("unknown store kind %q", kind)
}

func decodeState(data []byte) (*models.ElectionState, error) {
	var state models.ElectionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, xerrors.Errorf("failed to decode state: %v", err)
	}
	if state.Version > models.StateVersion {
		return nil, xerrors.Errorf("state version %d is newer than supported %d", state.Version, models.StateVersion)
	}
	state.EnsureMaps()
	return &state, nil
}

// DefaultSnapshotsKept is how many rotated snapshots survive cleanup.
const DefaultSnapshotsKept = 5

const snapshotLayout = "20060102150405.000000"

// SnapshotStore writes every save to a new timestamped file and keeps the
// most recent few, so earlier states stay inspectable.
type SnapshotStore struct {
	dataDir string
	keep    int
	mutex   sync.RWMutex
}

type snapshotFile struct {
	path      string
	timestamp time.Time
}

type snapshotFiles []snapshotFile

func (f snapshotFiles) Len() int           { return len(f) }
func (f snapshotFiles) Less(i, j int) bool { return f[i].timestamp.Before(f[j].timestamp) }
func (f snapshotFiles) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }

func NewSnapshotStore(dataDir string, keep int) (*SnapshotStore, error) {
	absPath, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, xerrors.Errorf("failed to get absolute path: %v", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, xerrors.Errorf("failed to create data directory: %v", err)
	}
	if keep <= 0 {
		keep = DefaultSnapshotsKept
	}
	return &SnapshotStore{dataDir: absPath, keep: keep}, nil
}

func (s *SnapshotStore) listSnapshots() (snapshotFiles, error) {
	files, err := filepath.Glob(filepath.Join(s.dataDir, "election_state_*.json"))
	if err != nil {
		return nil, xerrors.Errorf("failed to list files: %v", err)
	}
	var out snapshotFiles
	for _, file := range files {
		base := filepath.Base(file)
		parts := strings.Split(base, "_")
		if len(parts) < 3 {
			continue
		}
		ts, err := time.Parse(snapshotLayout, strings.TrimSuffix(parts[2], ".json"))
		if err != nil {
			log.Warnf("Invalid timestamp in filename %s: %v", base, err)
			continue
		}
		out = append(out, snapshotFile{path: file, timestamp: ts})
	}
	sort.Sort(out)
	return out, nil
}

// Load reads the newest snapshot.
func (s *SnapshotStore) Load() (*models.ElectionState, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	files, err := s.listSnapshots()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNoState
	}
	latest := files[len(files)-1].path
	data, err := os.ReadFile(latest)
	if err != nil {
		return nil, xerrors.Errorf("failed to read %s: %v", latest, err)
	}
	return decodeState(data)
}

// Save writes a new snapshot and prunes old ones.
func (s *SnapshotStore) Save(state *models.ElectionState) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return xerrors.Errorf("failed to encode state: %v", err)
	}
	name := fmt.Sprintf("election_state_%s.json", time.Now().UTC().Format(snapshotLayout))
	path := filepath.Join(s.dataDir, name)
	if err := writeAtomic(path, data); err != nil {
		return err
	}
	if err := s.cleanupOldFiles(); err != nil {
		log.Warnf("Failed to cleanup old snapshots: %v", err)
	}
	return nil
}

func (s *SnapshotStore) cleanupOldFiles() error {
	files, err := s.listSnapshots()
	if err != nil {
		return err
	}
	for i := 0; i < len(files)-s.keep; i++ {
		if err := os.Remove(files[i].path); err != nil {
			log.Warnf("Failed to remove old snapshot %s: %v", files[i].path, err)
		} else {
			log.Debugf("Removed old snapshot: %s", files[i].path)
		}
	}
	return nil
}

// Reset removes every snapshot.
func (s *SnapshotStore) Reset() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	files, err := s.listSnapshots()
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (s *SnapshotStore) Close() error { return nil }
