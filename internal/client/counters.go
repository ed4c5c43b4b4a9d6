package client

import "sync"

// Counters exposes loading progress to external observers (a GUI, typically).
// Each counter is mutated only under its own lock so concurrent request
// completions never lose updates.
type Counters struct {
	entitiesMu      sync.Mutex
	entitiesLoading int

	thumbsMu          sync.Mutex
	thumbnailsLoading int

	orphanMu       sync.Mutex
	orphanedLoaded int
	orphanedTotal  int
}

// AddEntitiesLoading adjusts the in-flight list-call counter.
func (c *Counters) AddEntitiesLoading(delta int) {
	c.entitiesMu.Lock()
	c.entitiesLoading += delta
	c.entitiesMu.Unlock()
}

// EntitiesLoading reports how many list calls are in flight.
func (c *Counters) EntitiesLoading() int {
	c.entitiesMu.Lock()
	defer c.entitiesMu.Unlock()
	return c.entitiesLoading
}

// AddThumbnailsLoading adjusts the in-flight thumbnail counter.
func (c *Counters) AddThumbnailsLoading(delta int) {
	c.thumbsMu.Lock()
	c.thumbnailsLoading += delta
	c.thumbsMu.Unlock()
}

// ThumbnailsLoading reports how many thumbnail fetches are in flight.
func (c *Counters) ThumbnailsLoading() int {
	c.thumbsMu.Lock()
	defer c.thumbsMu.Unlock()
	return c.thumbnailsLoading
}

// SetOrphanedTotal resets the orphaned-images batch progress.
func (c *Counters) SetOrphanedTotal(total int) {
	c.orphanMu.Lock()
	c.orphanedLoaded = 0
	c.orphanedTotal = total
	c.orphanMu.Unlock()
}

// AddOrphanedLoaded advances the orphaned-images progress, clamped to the
// total.
func (c *Counters) AddOrphanedLoaded(delta int) {
	c.orphanMu.Lock()
	c.orphanedLoaded += delta
	if c.orphanedLoaded > c.orphanedTotal {
		c.orphanedLoaded = c.orphanedTotal
	}
	c.orphanMu.Unlock()
}

// Orphaned reports the orphaned-images batch progress.
func (c *Counters) Orphaned() (loaded, total int) {
	c.orphanMu.Lock()
	defer c.orphanMu.Unlock()
	return c.orphanedLoaded, c.orphanedTotal
}
