package metrics

import (
	"context"
	"maps"
	"sync"
)

// Snapshot is a copy of every counter total.
type Snapshot struct {
	Visits          map[string]int64 `json:"visits" yaml:"visits"`
	AttractionViews map[string]int64 `json:"attractionViews" yaml:"attractionViews"`
	VideoPlays      map[string]int64 `json:"videoPlays" yaml:"videoPlays"`
}

// Get returns the total for key in counter k.
func (s Snapshot) Get(k Kind, key string) int64 {
	switch k {
	case Visits:
		return s.Visits[key]
	case AttractionViews:
		return s.AttractionViews[key]
	case VideoPlays:
		return s.VideoPlays[key]
	}
	return 0
}

// Counter keeps totals in memory. It is both a Sink and a Recorder.
type Counter struct {
	mu     sync.Mutex
	totals map[Kind]map[string]int64
}

// NewCounter creates an empty counter set.
func NewCounter() *Counter {
	return &Counter{totals: make(map[Kind]map[string]int64)}
}

func (c *Counter) Record(_ context.Context, e Event) error {
	c.add(e.Kind, e.Key, 1)
	return nil
}

func (c *Counter) RecordVisit(pageKey string)     { c.add(Visits, pageKey, 1) }
func (c *Counter) RecordAttractionView(id string) { c.add(AttractionViews, id, 1) }
func (c *Counter) RecordVideoPlay(id string)      { c.add(VideoPlays, id, 1) }

// Seed sets totals for counter k, e.g. from persisted storage.
func (c *Counter) Seed(k Kind, totals map[string]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := make(map[string]int64, len(totals))
	maps.Copy(m, totals)
	c.totals[k] = m
}

func (c *Counter) add(k Kind, key string, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.totals[k]
	if !ok {
		m = make(map[string]int64)
		c.totals[k] = m
	}
	m[key] += delta
}

// Snapshot copies the current totals.
func (c *Counter) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := func(k Kind) map[string]int64 {
		out := make(map[string]int64, len(c.totals[k]))
		maps.Copy(out, c.totals[k])
		return out
	}
	return Snapshot{
		Visits:          cp(Visits),
		AttractionViews: cp(AttractionViews),
		VideoPlays:      cp(VideoPlays),
	}
}
