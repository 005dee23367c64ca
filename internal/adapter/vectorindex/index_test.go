package vectorindex

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localrag/internal/domain"
	"localrag/internal/port"
)

func mirrors(t *testing.T, dim int) map[string]func() port.VectorMirror {
	dir := t.TempDir()
	return map[string]func() port.VectorMirror{
		"blob": func() port.VectorMirror {
			return NewBlobMirror(filepath.Join(dir, "embeddings.bin"), dim)
		},
		"bolt": func() port.VectorMirror {
			m, err := OpenBoltMirror(filepath.Join(dir, "embeddings.bolt"), dim)
			require.NoError(t, err)
			return m
		},
	}
}

func TestMemoryIndex_PutRemoveIter(t *testing.T) {
	x := NewMemoryIndex(3, NewBlobMirror(filepath.Join(t.TempDir(), "e.bin"), 3))

	require.NoError(t, x.Put(2, []float32{1, 0, 0}))
	require.NoError(t, x.Put(1, []float32{0, 1, 0}))
	require.NoError(t, x.Put(3, []float32{0, 0, 1}))

	err := x.Put(4, []float32{1})
	assert.ErrorIs(t, err, domain.ErrEmbedding)

	assert.Equal(t, 3, x.Len())
	assert.Equal(t, []int64{1, 2, 3}, x.Keys())

	x.Remove(2, 99)
	_, ok := x.Get(2)
	assert.False(t, ok)

	seen := map[int64]bool{}
	x.Iter(func(id int64, _ []float32) bool {
		seen[id] = true
		return true
	})
	assert.Equal(t, map[int64]bool{1: true, 3: true}, seen)

	count := 0
	x.Iter(func(int64, []float32) bool {
		count++
		return false
	})
	assert.Equal(t, 1, count)
}

func TestMirrors_SaveLoadRoundTrip(t *testing.T) {
	for name, open := range mirrors(t, 2) {
		t.Run(name, func(t *testing.T) {
			x := NewMemoryIndex(2, open())
			require.NoError(t, x.Put(10, []float32{0.5, -1.25}))
			require.NoError(t, x.Put(11, []float32{3, 4}))
			require.NoError(t, x.Save())

			x.Remove(11)
			require.NoError(t, x.Save())
			require.NoError(t, x.Close())

			y := NewMemoryIndex(2, open())
			defer y.Close()
			require.NoError(t, y.Load())

			assert.Equal(t, 1, y.Len())
			vec, ok := y.Get(10)
			require.True(t, ok)
			assert.Equal(t, []float32{0.5, -1.25}, vec)
		})
	}
}

func TestMirrors_MissingFileLoadsEmpty(t *testing.T) {
	for name, open := range mirrors(t, 4) {
		t.Run(name, func(t *testing.T) {
			x := NewMemoryIndex(4, open())
			defer x.Close()
			require.NoError(t, x.Load())
			assert.Zero(t, x.Len())
		})
	}
}

func TestBlobMirror_RejectsCorruptAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "embeddings.bin")

	require.NoError(t, NewBlobMirror(path, 2).Save(map[int64][]float32{1: {1, 2}}))

	// Different dimension.
	_, err := NewBlobMirror(path, 3).Load()
	assert.Error(t, err)

	// Truncated body.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-3], 0644))
	x := NewMemoryIndex(2, NewBlobMirror(path, 2))
	assert.ErrorIs(t, x.Load(), domain.ErrInconsistency)

	// Not a blob at all.
	require.NoError(t, os.WriteFile(path, []byte("pickle protocol 4"), 0644))
	_, err = NewBlobMirror(path, 2).Load()
	assert.Error(t, err)
}

func TestBlobMirror_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	m := NewBlobMirror(filepath.Join(dir, "embeddings.bin"), 1)
	require.NoError(t, m.Save(map[int64][]float32{1: {1}}))
	require.NoError(t, m.Save(map[int64][]float32{1: {2}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "embeddings.bin", entries[0].Name())
}

func TestMemoryIndex_ConcurrentPutAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "e.bin")
	x := NewMemoryIndex(1, NewBlobMirror(path, 1))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := int64(i*100 + j)
				assert.NoError(t, x.Put(id, []float32{float32(id)}))
				if j%10 == 0 {
					assert.NoError(t, x.Save())
				}
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, x.Save())

	y := NewMemoryIndex(1, NewBlobMirror(path, 1))
	require.NoError(t, y.Load())
	assert.Equal(t, 400, y.Len())
}

func TestMemoryIndex_SwapAppliesAllOrNothing(t *testing.T) {
	x := NewMemoryIndex(2, NewBlobMirror(filepath.Join(t.TempDir(), "e.bin"), 2))
	require.NoError(t, x.Put(1, []float32{1, 0}))
	require.NoError(t, x.Put(2, []float32{0, 1}))

	err := x.Swap([]int64{1, 2}, map[int64][]float32{3: {1, 1}, 4: {1}})
	assert.ErrorIs(t, err, domain.ErrEmbedding)
	assert.Equal(t, []int64{1, 2}, x.Keys())

	require.NoError(t, x.Swap([]int64{1, 2}, map[int64][]float32{3: {1, 1}, 4: {2, 2}}))
	assert.Equal(t, []int64{3, 4}, x.Keys())
}

func TestMemoryIndex_CommitSkipsSwapOnWriteFailure(t *testing.T) {
	x := NewMemoryIndex(1, NewBlobMirror(filepath.Join(t.TempDir(), "e.bin"), 1))
	require.NoError(t, x.Put(1, []float32{1}))

	errLocked := errors.New("locked")
	err := x.Commit(func() ([]int64, map[int64][]float32, error) {
		return []int64{1}, map[int64][]float32{2: {2}}, errLocked
	})
	assert.ErrorIs(t, err, errLocked)
	assert.Equal(t, []int64{1}, x.Keys())
}

// A reader inside View must see the same ids as the backing rows that the
// commit step writes, never the rows of one revision with the vectors of the
// other.
func TestMemoryIndex_ViewNeverSeesHalfCommittedReplacement(t *testing.T) {
	x := NewMemoryIndex(1, NewBlobMirror(filepath.Join(t.TempDir(), "e.bin"), 1))

	var (
		rowsMu sync.Mutex
		rows   = map[int64]bool{1: true, 2: true}
	)
	require.NoError(t, x.Put(1, []float32{1}))
	require.NoError(t, x.Put(2, []float32{2}))

	revisions := [][]int64{{1, 2}, {3, 4}}
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 1; i <= 200; i++ {
			oldIDs, newIDs := revisions[(i-1)%2], revisions[i%2]
			err := x.Commit(func() ([]int64, map[int64][]float32, error) {
				rowsMu.Lock()
				rows = map[int64]bool{newIDs[0]: true, newIDs[1]: true}
				rowsMu.Unlock()
				return oldIDs, map[int64][]float32{newIDs[0]: {1}, newIDs[1]: {2}}, nil
			})
			assert.NoError(t, err)
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				x.View(func() {
					rowsMu.Lock()
					defer rowsMu.Unlock()
					x.Iter(func(id int64, _ []float32) bool {
						assert.True(t, rows[id], "index holds %d which has no row", id)
						return true
					})
					assert.Len(t, rows, x.Len())
				})
			}
		}()
	}
	wg.Wait()
}
