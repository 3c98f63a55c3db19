// Package journal - spool.go implements a bbolt-backed local buffer for
// trade rows that failed to write to Postgres. A brief database outage
// degrades to "written to disk, replayed later" instead of "lost": the
// journal's policy of never failing the caller on a persistence error
// still holds, and the row survives on local disk until DrainSpool
// replays it.
package journal

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("pending_trade_rows")

// BoltSpool is a Spool backed by a bbolt file.
type BoltSpool struct {
	db      *bolt.DB
	counter uint64
}

// OpenBoltSpool opens (creating if needed) a bbolt database at path.
func OpenBoltSpool(path string) (*BoltSpool, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("journal: open spool %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: init spool bucket: %w", err)
	}
	return &BoltSpool{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *BoltSpool) Close() error {
	return s.db.Close()
}

// Save appends row to the spool.
func (s *BoltSpool) Save(row Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("journal: marshal spool row: %w", err)
	}
	seq := atomic.AddUint64(&s.counter, 1)
	key := []byte(fmt.Sprintf("%020d", seq))
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, data)
	})
}

// Drain returns every spooled row and removes them from the bucket.
func (s *BoltSpool) Drain() ([]Row, error) {
	var rows []Row
	var keys [][]byte

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.ForEach(func(k, v []byte) error {
			var r Row
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("journal: unmarshal spool row %s: %w", k, err)
			}
			rows = append(rows, r)
			keys = append(keys, append([]byte(nil), k...))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if len(keys) == 0 {
		return rows, nil
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return rows, err
}
