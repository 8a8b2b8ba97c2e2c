package loop

import (
	"container/heap"
	"time"
)

// Manual is a Scheduler driven by a virtual clock. Callbacks run
// synchronously inside Advance, in due-time order, ties broken by
// scheduling order. It is not safe for concurrent use.
type Manual struct {
	now    time.Time
	seq    uint64
	timers timerHeap
}

// NewManual returns a Manual whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the virtual time.
func (m *Manual) Now() time.Time {
	return m.now
}

// AfterFunc schedules fn at Now()+d. Negative delays are treated as zero.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	m.seq++
	t := &manualTimer{owner: m, when: m.now.Add(d), seq: m.seq, fn: fn, index: -1}
	heap.Push(&m.timers, t)
	return t
}

// Post schedules fn to run at the current virtual time.
func (m *Manual) Post(fn func()) {
	m.AfterFunc(0, fn)
}

// Advance moves the clock forward by d, firing every timer due on the way,
// including timers scheduled by callbacks that fall inside the window.
func (m *Manual) Advance(d time.Duration) {
	target := m.now.Add(d)
	for len(m.timers) > 0 {
		next := m.timers[0]
		if next.when.After(target) {
			break
		}
		heap.Pop(&m.timers)
		if next.when.After(m.now) {
			m.now = next.when
		}
		next.fired = true
		next.fn()
	}
	m.now = target
}

// Flush fires everything due at the current time.
func (m *Manual) Flush() {
	m.Advance(0)
}

// Pending returns the number of scheduled, unfired timers.
func (m *Manual) Pending() int {
	return len(m.timers)
}

type manualTimer struct {
	owner *Manual
	when  time.Time
	seq   uint64
	fn    func()
	index int
	fired bool
}

func (t *manualTimer) Stop() bool {
	if t.fired || t.index < 0 {
		return false
	}
	heap.Remove(&t.owner.timers, t.index)
	return true
}

type timerHeap []*manualTimer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*manualTimer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
