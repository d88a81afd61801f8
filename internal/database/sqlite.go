package database

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"shx-go/internal/database/migrations"
	"shx-go/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	lookupFingerprint = `SELECT file_key, size, mtime_ns, partial, full, hashed_at
FROM fingerprints WHERE file_key = ?`

	upsertFingerprint = `INSERT INTO fingerprints (file_key, size, mtime_ns, partial, full, hashed_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (file_key) DO UPDATE SET
    size = excluded.size,
    mtime_ns = excluded.mtime_ns,
    partial = excluded.partial,
    full = excluded.full,
    hashed_at = excluded.hashed_at`

	deleteStaleFingerprints = `DELETE FROM fingerprints WHERE hashed_at < ?`

	countFingerprints = `SELECT COUNT(*) FROM fingerprints`
)

// SQLiteCache keeps fingerprint digests in a SQLite database.
type SQLiteCache struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteCache opens (creating if needed) the cache at path and migrates
// it to the current schema. path may be ":memory:".
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate digest cache %s: %w", path, err)
	}
	if err := migrations.CheckDBMigrationStatus(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("digest cache %s: %w", path, err)
	}
	return &SQLiteCache{db: db}, nil
}

// OpenConnection opens a SQLite database with the PRAGMAs the cache relies
// on. A single connection is used so ":memory:" databases stay shared.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return db, nil
}

// Lookup returns the cached digests for key.
func (c *SQLiteCache) Lookup(key string) (model.DigestRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		rec      model.DigestRecord
		partial  int64
		hashedAt int64
	)
	err := c.db.QueryRow(lookupFingerprint, key).Scan(&rec.Key, &rec.Size, &rec.ModTimeNS, &partial, &rec.Full, &hashedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DigestRecord{}, false, nil
	}
	if err != nil {
		return model.DigestRecord{}, false, fmt.Errorf("failed to look up fingerprint %s: %w", key, err)
	}
	// SQLite integers are signed; the bits round-trip unchanged.
	rec.Partial = uint64(partial)
	rec.HashedAt = time.Unix(0, hashedAt).UTC()
	return rec, true, nil
}

// Store inserts or replaces the digests for rec.Key.
func (c *SQLiteCache) Store(rec model.DigestRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(upsertFingerprint,
		rec.Key, rec.Size, rec.ModTimeNS, int64(rec.Partial), rec.Full, rec.HashedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to store fingerprint %s: %w", rec.Key, err)
	}
	return nil
}

// Prune drops digests hashed before cutoff and returns how many were removed.
func (c *SQLiteCache) Prune(cutoff time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec(deleteStaleFingerprints, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune fingerprints: %w", err)
	}
	return res.RowsAffected()
}

// Len returns the number of cached records.
func (c *SQLiteCache) Len() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	if err := c.db.QueryRow(countFingerprints).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count fingerprints: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
