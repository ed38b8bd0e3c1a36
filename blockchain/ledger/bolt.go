package ledger

import (
	"encoding/binary"
	"encoding/json"
	"time"

	bbolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"

	"ewp-backend/models"
)

var (
	entriesBucket = []byte("entries")
	txBucket      = []byte("txids")
	countsBucket  = []byte("type_counts")
)

// BoltStore persists the chain in a bbolt file. Entries are keyed by their
// big-endian index so a cursor walks them in chain order.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (or creates) the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, xerrors.Errorf("open ledger db: %v", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{entriesBucket, txBucket, countsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, xerrors.Errorf("create buckets: %v", err)
	}
	return &BoltStore{db: db}, nil
}

func indexKey(i uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, i)
	return k
}

// Append writes the entry, its tx index and the type counter in one
// transaction.
func (s *BoltStore) Append(entry *models.LedgerEntry) error {
	buf, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		if k, _ := b.Cursor().Last(); k != nil {
			if binary.BigEndian.Uint64(k)+1 != entry.Index {
				return xerrors.Errorf("append index %d after %d", entry.Index, binary.BigEndian.Uint64(k))
			}
		} else if entry.Index != 1 {
			return xerrors.Errorf("append index %d to empty ledger", entry.Index)
		}
		if err := b.Put(indexKey(entry.Index), buf); err != nil {
			return err
		}
		if err := tx.Bucket(txBucket).Put([]byte(entry.Event.TxID), indexKey(entry.Index)); err != nil {
			return err
		}
		cb := tx.Bucket(countsBucket)
		n := uint64(0)
		if v := cb.Get([]byte(entry.Event.Type)); v != nil {
			n = binary.BigEndian.Uint64(v)
		}
		return cb.Put([]byte(entry.Event.Type), indexKey(n+1))
	})
}

func decodeEntry(buf []byte) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	if err := json.Unmarshal(buf, &e); err != nil {
		return nil, xerrors.Errorf("decode entry: %v", err)
	}
	return &e, nil
}

func (s *BoltStore) Head() (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket(entriesBucket).Cursor().Last()
		if v == nil {
			return nil
		}
		var err error
		entry, err = decodeEntry(v)
		return err
	})
	return entry, err
}

func (s *BoltStore) Get(index uint64) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(entriesBucket).Get(indexKey(index))
		if v == nil {
			return ErrNotFound
		}
		var err error
		entry, err = decodeEntry(v)
		return err
	})
	return entry, err
}

func (s *BoltStore) FindTx(txID string) (*models.LedgerEntry, error) {
	var index uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(txBucket).Get([]byte(txID))
		if v == nil {
			return ErrNotFound
		}
		index = binary.BigEndian.Uint64(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(index)
}

func (s *BoltStore) Range(from uint64, limit int) ([]*models.LedgerEntry, error) {
	if from == 0 {
		from = 1
	}
	var out []*models.LedgerEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(entriesBucket).Cursor()
		for k, v := c.Seek(indexKey(from)); k != nil && len(out) < limit; k, v = c.Next() {
			e, err := decodeEntry(v)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) Height() (uint64, error) {
	var h uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		if k, _ := tx.Bucket(entriesBucket).Cursor().Last(); k != nil {
			h = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return h, err
}

func (s *BoltStore) TypeCounts() (map[models.EventType]int, error) {
	out := make(map[models.EventType]int)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(countsBucket).ForEach(func(k, v []byte) error {
			out[models.EventType(k)] = int(binary.BigEndian.Uint64(v))
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
