package shx

import (
	"context"
	"errors"
	"io"
)

// ErrSnapshotNotFound is returned by GetSnapshot when a vault holds nothing
// for the store id.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Vault stores the latest snapshot of each metadata store document, keyed by
// the store id recorded inside the document.
type Vault interface {
	// Name identifies the vault in logs.
	Name() string

	// PutSnapshot stores a snapshot. size is the number of bytes that will be
	// read from r. generation is kept alongside for staleness checks.
	PutSnapshot(ctx context.Context, storeID string, r io.Reader, size int64, generation int64) error

	// GetSnapshot writes the latest snapshot for storeID to w.
	GetSnapshot(ctx context.Context, storeID string, w io.Writer) error

	// GetSnapshotGeneration returns the stored generation, or 0 if none exists.
	GetSnapshotGeneration(ctx context.Context, storeID string) (int64, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}
