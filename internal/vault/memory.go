package vault

import (
	"context"
	"fmt"
	"io"
	"sync"

	"shx-go/internal/shx"
)

type memorySnapshot struct {
	data       []byte
	generation int64
}

// MemoryVault keeps snapshots in memory. Useful for tests and dry runs.
// Safe for concurrent use.
type MemoryVault struct {
	name      string
	mu        sync.RWMutex
	snapshots map[string]memorySnapshot
	puts      int
}

var _ shx.Vault = (*MemoryVault)(nil)

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:      name,
		snapshots: make(map[string]memorySnapshot),
	}
}

func (m *MemoryVault) PutSnapshot(ctx context.Context, storeID string, r io.Reader, size int64, generation int64) error {
	if err := checkStoreID(storeID); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[storeID] = memorySnapshot{data: data, generation: generation}
	m.puts++
	return nil
}

func (m *MemoryVault) GetSnapshot(ctx context.Context, storeID string, w io.Writer) error {
	m.mu.RLock()
	snap, ok := m.snapshots[storeID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", shx.ErrSnapshotNotFound, storeID)
	}
	if _, err := w.Write(snap.data); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (m *MemoryVault) GetSnapshotGeneration(ctx context.Context, storeID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshots[storeID].generation, nil
}

func (m *MemoryVault) ValidateSetup(ctx context.Context) error {
	return nil
}

// Puts returns how many snapshots were stored.
func (m *MemoryVault) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

func (m *MemoryVault) Name() string { return m.name }
