package shx

import (
	"time"

	"shx-go/internal/fingerprint"
)

// CacheRetention is how long a digest stays cached without being rehashed
// before `store prune` drops it.
const CacheRetention = 90 * 24 * time.Hour

// DigestCache is a closable fingerprint cache backend.
type DigestCache interface {
	fingerprint.Cache
	Close() error
}

// PrunableCache is a DigestCache that can drop stale digests.
type PrunableCache interface {
	Prune(cutoff time.Time) (int64, error)
}
