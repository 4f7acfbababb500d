package task

import (
	"github.com/dgraph-io/ristretto/v2"
)

// SnapshotCache is an in-process L1 cache of terminal task snapshots.
// Terminal tasks never change, so entries are never invalidated except on delete.
// A nil *SnapshotCache is valid and caches nothing.
type SnapshotCache struct {
	c *ristretto.Cache[string, *Task]
}

// NewSnapshotCache creates a ristretto-backed cache holding up to
// maxCostBytes of estimated task size.
func NewSnapshotCache(maxCostBytes int64) (*SnapshotCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, *Task]{
		NumCounters: maxCostBytes / 1024 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &SnapshotCache{c: c}, nil
}

// Get returns a copy of the cached snapshot for id.
func (c *SnapshotCache) Get(id string) (*Task, bool) {
	if c == nil {
		return nil, false
	}
	t, ok := c.c.Get(id)
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Put stores t if it is terminal.
func (c *SnapshotCache) Put(t *Task) {
	if c == nil || !t.IsTerminal() {
		return
	}
	c.c.Set(t.ID, t.Clone(), estimateSize(t))
}

// Del evicts id.
func (c *SnapshotCache) Del(id string) {
	if c == nil {
		return
	}
	c.c.Del(id)
}

// Wait blocks until buffered writes are applied.
func (c *SnapshotCache) Wait() {
	if c == nil {
		return
	}
	c.c.Wait()
}

// Close shuts down the cache and releases resources.
func (c *SnapshotCache) Close() {
	if c == nil {
		return
	}
	c.c.Close()
}

func estimateSize(t *Task) int64 {
	n := 256 + len(t.ID) + len(t.ModelID) + len(t.Prompt) + len(t.ErrorMessage) + len(t.ProviderTaskID)
	for _, img := range t.InputImages {
		n += len(img)
	}
	n += 64 * len(t.Parameters)
	for _, r := range t.Results {
		n += 64 + len(r.Type) + len(r.URL) + 64*len(r.Metadata)
	}
	return int64(n)
}
