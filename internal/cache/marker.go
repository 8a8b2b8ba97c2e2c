package cache

import "sync"

// MarkerCache maps AR runtime marker references to the POI they trigger.
// It is a lookup table only; it never owns POI state.
type MarkerCache struct {
	mu      sync.RWMutex
	markers map[string]string
}

// NewMarkerCache creates a new MarkerCache
func NewMarkerCache() *MarkerCache {
	return &MarkerCache{
		markers: make(map[string]string),
	}
}

// Lookup returns the POI id bound to a marker reference
func (c *MarkerCache) Lookup(markerRef string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.markers[markerRef]
	return id, ok
}

// Bind associates a marker reference with a POI id, replacing any previous binding
func (c *MarkerCache) Bind(markerRef, poiID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers[markerRef] = poiID
}

// Unbind removes a marker reference
func (c *MarkerCache) Unbind(markerRef string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markers, markerRef)
}

// Len returns the number of bound markers
func (c *MarkerCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.markers)
}

// Reset clears all bindings
func (c *MarkerCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers = make(map[string]string)
}
