package tiering

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/driftworks/drivetierd/pkg/errors"
	"github.com/driftworks/drivetierd/pkg/retry"
	"github.com/driftworks/drivetierd/pkg/utils"
)

var metadataBucket = []byte("file_metadata")

// Store is the durable key→FileRecord mapping described in spec.md §4.1. It
// is backed by a single bbolt file and is safe for concurrent use by every
// worker in the engine; no caller needs its own locking around Store calls.
type Store struct {
	db     *bbolt.DB
	path   string
	logger *utils.StructuredLogger
	flush  *retry.Retryer

	mu        sync.Mutex // guards putErrors
	rebuilt   bool
	putErrors int64
}

// OpenStore opens (creating if absent) the bbolt-backed Metadata Store at
// path. Corruption on open is the caller's responsibility to handle via a
// full Reconciler pass per spec.md §7; OpenStore itself only reports the
// error.
func OpenStore(path string, logger *utils.StructuredLogger) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreCorrupt, "open metadata store", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metadataBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(errors.ErrCodeStoreCorrupt, "create metadata bucket", err)
	}

	return &Store{
		db:     db,
		path:   path,
		logger: logger.WithComponent("store"),
		flush:  retry.New(retry.Config{MaxAttempts: 2, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}),
	}, nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the record for path, and whether it was present.
func (s *Store) Get(path string) (FileRecord, bool) {
	var rec FileRecord
	var found bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(metadataBucket)
		v := b.Get([]byte(path))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		s.logger.Error("store get failed", map[string]interface{}{"path": path, "error": err.Error()})
		return FileRecord{}, false
	}
	return rec, found
}

// Put upserts a record. Per spec.md §4.1, any I/O error is logged and the
// write is dropped — the next Scan pass re-derives state from disk.
func (s *Store) Put(path string, rec FileRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error("store marshal failed", map[string]interface{}{"path": path, "error": err.Error()})
		return
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metadataBucket).Put([]byte(path), data)
	})
	if err != nil {
		s.mu.Lock()
		s.putErrors++
		s.mu.Unlock()
		s.logger.Error("store put failed, dropping mutation", map[string]interface{}{"path": path, "error": err.Error()})
	}
}

// MoveKey atomically renames a record from oldPath to newPath, applying
// mutate to the record first. The insert of the new key and the delete of
// the old one happen in one bbolt transaction, so a concurrent Iter sees
// either the old key or the new one, never both and never neither.
func (s *Store) MoveKey(oldPath, newPath string, mutate func(FileRecord) FileRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(metadataBucket)
		v := b.Get([]byte(oldPath))
		if v == nil {
			return errors.New(errors.ErrCodeStoreIO, fmt.Sprintf("move: source key %q not found", oldPath))
		}
		var rec FileRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return errors.Wrap(errors.ErrCodeStoreIO, "move: decode source record", err)
		}
		rec = mutate(rec)
		data, err := json.Marshal(rec)
		if err != nil {
			return errors.Wrap(errors.ErrCodeStoreIO, "move: encode target record", err)
		}
		if err := b.Put([]byte(newPath), data); err != nil {
			return err
		}
		return b.Delete([]byte(oldPath))
	})
}

// Delete removes a record.
func (s *Store) Delete(path string) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metadataBucket).Delete([]byte(path))
	})
	if err != nil {
		s.logger.Error("store delete failed", map[string]interface{}{"path": path, "error": err.Error()})
	}
}

// Record pairs a key with its value for Iter.
type Record struct {
	Path string
	FileRecord
}

// Iter calls fn for every (path, record) pair in the store, within a single
// bbolt read transaction. bbolt's MVCC read transactions give exactly the
// snapshot-consistent, no-torn-record guarantee spec.md §4.1 requires of
// iter() without any extra bookkeeping. A record that fails to decode is
// logged and skipped; iteration continues with the next key.
func (s *Store) Iter(fn func(Record)) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(metadataBucket)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec FileRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				s.logger.Error("store iter: skipping undecodable record", map[string]interface{}{"path": string(k), "error": err.Error()})
				continue
			}
			fn(Record{Path: string(k), FileRecord: rec})
		}
		return nil
	})
}

// Flush forces durability. bbolt commits on every Update transaction, so
// Flush here means fsync-ing the file, with one ambient retry for a
// transient I/O error before giving up for this pass (spec.md §4.1: "flush()
// — forces durability").
func (s *Store) Flush() error {
	return s.flush.Do(func() error {
		if err := s.db.Sync(); err != nil {
			return errors.Wrap(errors.ErrCodeStoreIO, "flush metadata store", err)
		}
		return nil
	})
}

// PutErrors returns the number of Put failures observed since open, for
// health reporting.
func (s *Store) PutErrors() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putErrors
}
