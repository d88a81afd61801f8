package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"shx-go/internal/model"
)

const badgerKeyPrefix = "fp/"

// BadgerCache keeps fingerprint digests in a BadgerDB directory.
type BadgerCache struct {
	db *badger.DB
}

// NewBadgerCache opens the cache at dir. An empty dir keeps everything in
// memory.
func NewBadgerCache(dir string) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithCompression(options.None)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", dir, err)
	}
	return &BadgerCache{db: db}, nil
}

// badgerRecord is the stored value; the key carries DigestRecord.Key.
type badgerRecord struct {
	Size      int64  `json:"size"`
	ModTimeNS int64  `json:"mtime_ns"`
	Partial   uint64 `json:"partial"`
	Full      string `json:"full,omitempty"`
	HashedAt  int64  `json:"hashed_at"`
}

// Lookup returns the cached digests for key.
func (c *BadgerCache) Lookup(key string) (model.DigestRecord, bool, error) {
	var rec badgerRecord
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.DigestRecord{}, false, nil
	}
	if err != nil {
		return model.DigestRecord{}, false, fmt.Errorf("failed to look up fingerprint %s: %w", key, err)
	}
	return model.DigestRecord{
		Key:       key,
		Size:      rec.Size,
		ModTimeNS: rec.ModTimeNS,
		Partial:   rec.Partial,
		Full:      rec.Full,
		HashedAt:  time.Unix(0, rec.HashedAt).UTC(),
	}, true, nil
}

// Store inserts or replaces the digests for rec.Key.
func (c *BadgerCache) Store(rec model.DigestRecord) error {
	val, err := json.Marshal(badgerRecord{
		Size:      rec.Size,
		ModTimeNS: rec.ModTimeNS,
		Partial:   rec.Partial,
		Full:      rec.Full,
		HashedAt:  rec.HashedAt.UnixNano(),
	})
	if err != nil {
		return err
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+rec.Key), val)
	})
	if err != nil {
		return fmt.Errorf("failed to store fingerprint %s: %w", rec.Key, err)
	}
	return nil
}

// Close flushes and closes the database.
func (c *BadgerCache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}
