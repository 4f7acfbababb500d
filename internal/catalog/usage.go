package catalog

import (
	"context"
	"sort"
)

// IncrementUsage bumps the usage counter of modelID.
func (c *Catalog) IncrementUsage(_ context.Context, modelID string) error {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	c.usage[modelID]++
	return nil
}

// Usage returns the usage count of modelID.
func (c *Catalog) Usage(modelID string) int64 {
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	return c.usage[modelID]
}

func sortModels(models []Model) {
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
}
