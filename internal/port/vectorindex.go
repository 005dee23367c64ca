package port

// VectorIndex is the in-memory chunk id -> vector map used by search.
type VectorIndex interface {
	// Put inserts or replaces the vector of a chunk.
	Put(chunkID int64, vector []float32) error

	// Remove deletes the given chunks. Unknown ids are ignored.
	Remove(chunkIDs ...int64)

	// Swap removes and inserts under one write lock so readers see either
	// the state before or after, never a mix. Nothing changes when a vector
	// has the wrong dimension.
	Swap(remove []int64, put map[int64][]float32) error

	// Commit runs write, typically a store transaction, and applies the
	// returned changes with Swap. Readers inside View never observe the gap
	// between the two. Nothing is applied when write fails.
	Commit(write func() (remove []int64, put map[int64][]float32, err error)) error

	// View runs fn while no Commit is in progress.
	View(fn func())

	// Iter calls fn for every entry while holding a read lock.
	// Returning false stops the iteration. fn must not mutate the index.
	Iter(fn func(chunkID int64, vector []float32) bool)

	Get(chunkID int64) ([]float32, bool)

	Keys() []int64

	Len() int

	// Save flushes the current map to the durable mirror.
	Save() error

	// Load replaces the in-memory map with the mirror's contents.
	Load() error

	Close() error
}

// VectorMirror is the durable serialization behind a VectorIndex.
type VectorMirror interface {
	Load() (map[int64][]float32, error)
	Save(vectors map[int64][]float32) error
	Close() error
}
