package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	bbolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"

	"ewp-backend/models"
)

var (
	stateBucket = []byte("election")
	stateKey    = []byte("state")
)

// BoltStore keeps the state blob in a bbolt database.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, xerrors.Errorf("failed to create directory: %v", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, xerrors.Errorf("failed to open state db: %v", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load() (*models.ElectionState, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(stateBucket).Get(stateKey)
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNoState
	}
	return decodeState(data)
}

func (s *BoltStore) Save(state *models.ElectionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return xerrors.Errorf("failed to marshal state: %v", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(stateBucket).Put(stateKey, data)
	})
}

func (s *BoltStore) Reset() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(stateBucket).Delete(stateKey)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
