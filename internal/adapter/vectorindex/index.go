// Package vectorindex holds chunk vectors in memory for exhaustive scoring
// and mirrors them to disk.
package vectorindex

import (
	"fmt"
	"sort"
	"sync"

	"localrag/internal/domain"
	"localrag/internal/port"
)

// MemoryIndex is a chunk id -> vector map guarded by a RWMutex. Writers hold
// the write lock; Iter and Save snapshot under the read lock. commitMu orders
// Commit against View and is always taken before mu.
type MemoryIndex struct {
	commitMu  sync.RWMutex
	mu        sync.RWMutex
	saveMu    sync.Mutex
	dimension int
	vectors   map[int64][]float32
	mirror    port.VectorMirror
}

var _ port.VectorIndex = (*MemoryIndex)(nil)

func NewMemoryIndex(dimension int, mirror port.VectorMirror) *MemoryIndex {
	return &MemoryIndex{
		dimension: dimension,
		vectors:   make(map[int64][]float32),
		mirror:    mirror,
	}
}

func (x *MemoryIndex) Dimension() int {
	return x.dimension
}

func (x *MemoryIndex) Put(chunkID int64, vector []float32) error {
	if len(vector) != x.dimension {
		return fmt.Errorf("%w: vector for chunk %d has dimension %d, expected %d",
			domain.ErrEmbedding, chunkID, len(vector), x.dimension)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors[chunkID] = vector
	return nil
}

func (x *MemoryIndex) Remove(chunkIDs ...int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range chunkIDs {
		delete(x.vectors, id)
	}
}

func (x *MemoryIndex) Swap(remove []int64, put map[int64][]float32) error {
	for id, vec := range put {
		if len(vec) != x.dimension {
			return fmt.Errorf("%w: vector for chunk %d has dimension %d, expected %d",
				domain.ErrEmbedding, id, len(vec), x.dimension)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range remove {
		delete(x.vectors, id)
	}
	for id, vec := range put {
		x.vectors[id] = vec
	}
	return nil
}

func (x *MemoryIndex) Commit(write func() ([]int64, map[int64][]float32, error)) error {
	x.commitMu.Lock()
	defer x.commitMu.Unlock()

	remove, put, err := write()
	if err != nil {
		return err
	}
	return x.Swap(remove, put)
}

func (x *MemoryIndex) View(fn func()) {
	x.commitMu.RLock()
	defer x.commitMu.RUnlock()
	fn()
}

func (x *MemoryIndex) Iter(fn func(chunkID int64, vector []float32) bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for id, vec := range x.vectors {
		if !fn(id, vec) {
			return
		}
	}
}

func (x *MemoryIndex) Get(chunkID int64) ([]float32, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	vec, ok := x.vectors[chunkID]
	return vec, ok
}

// Keys returns the chunk ids in ascending order.
func (x *MemoryIndex) Keys() []int64 {
	x.mu.RLock()
	keys := make([]int64, 0, len(x.vectors))
	for id := range x.vectors {
		keys = append(keys, id)
	}
	x.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (x *MemoryIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Save writes a snapshot of the map to the mirror. Concurrent saves are
// serialized so an older snapshot never overwrites a newer one.
func (x *MemoryIndex) Save() error {
	x.saveMu.Lock()
	defer x.saveMu.Unlock()

	x.mu.RLock()
	snapshot := make(map[int64][]float32, len(x.vectors))
	for id, vec := range x.vectors {
		snapshot[id] = vec
	}
	x.mu.RUnlock()

	if err := x.mirror.Save(snapshot); err != nil {
		return fmt.Errorf("%w: saving vector index: %w", domain.ErrDurability, err)
	}
	return nil
}

// Load replaces the in-memory map with the mirror's contents. Entries whose
// dimension does not match are rejected as a whole.
func (x *MemoryIndex) Load() error {
	loaded, err := x.mirror.Load()
	if err != nil {
		return fmt.Errorf("%w: loading vector index: %w", domain.ErrInconsistency, err)
	}
	for id, vec := range loaded {
		if len(vec) != x.dimension {
			return fmt.Errorf("%w: stored vector for chunk %d has dimension %d, expected %d",
				domain.ErrInconsistency, id, len(vec), x.dimension)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors = loaded
	return nil
}

func (x *MemoryIndex) Close() error {
	return x.mirror.Close()
}
