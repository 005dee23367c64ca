// Package doccache keeps the path -> document summary projection in memory
// and mirrors it to a JSON file.
package doccache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"localrag/internal/adapter/fs"
	"localrag/internal/domain"
	"localrag/internal/port"
)

// JSONCache is safe for concurrent use.
type JSONCache struct {
	mu      sync.RWMutex
	saveMu  sync.Mutex
	path    string
	entries map[string]domain.DocumentSummary
}

var _ port.DocumentCache = (*JSONCache)(nil)

func NewJSONCache(path string) *JSONCache {
	return &JSONCache{
		path:    path,
		entries: make(map[string]domain.DocumentSummary),
	}
}

func (c *JSONCache) Put(filePath string, summary domain.DocumentSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[filePath] = summary
}

func (c *JSONCache) Remove(filePath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, filePath)
}

func (c *JSONCache) Get(filePath string) (domain.DocumentSummary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entries[filePath]
	return s, ok
}

// All returns a copy of every entry.
func (c *JSONCache) All() map[string]domain.DocumentSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]domain.DocumentSummary, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

func (c *JSONCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *JSONCache) Replace(records []domain.DocumentRecord) {
	entries := make(map[string]domain.DocumentSummary, len(records))
	for _, r := range records {
		entries[r.FilePath] = r.DocumentSummary
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
}

func (c *JSONCache) Save() error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	snapshot := c.All()
	err := fs.WriteFileAtomic(c.path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snapshot)
	})
	if err != nil {
		return fmt.Errorf("%w: saving document cache: %w", domain.ErrDurability, err)
	}
	return nil
}

// Load replaces the entries with the file's contents. A missing file loads
// as empty.
func (c *JSONCache) Load() error {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		c.Replace(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: reading document cache: %w", domain.ErrInconsistency, err)
	}

	entries := make(map[string]domain.DocumentSummary)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("%w: parsing document cache: %w", domain.ErrInconsistency, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
	return nil
}
