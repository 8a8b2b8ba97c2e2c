package loop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestManual_FiresInDueOrder(t *testing.T) {
	m := NewManual(epoch)

	var got []string
	m.AfterFunc(300*time.Millisecond, func() { got = append(got, "c") })
	m.AfterFunc(100*time.Millisecond, func() { got = append(got, "a") })
	m.AfterFunc(100*time.Millisecond, func() { got = append(got, "b") })

	m.Advance(99 * time.Millisecond)
	assert.Empty(t, got)

	m.Advance(time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, got)

	m.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, epoch.Add(1100*time.Millisecond), m.Now())
}

func TestManual_ClockReadsDueTimeInsideCallback(t *testing.T) {
	m := NewManual(epoch)

	var at time.Time
	m.AfterFunc(160*time.Millisecond, func() { at = m.Now() })
	m.Advance(time.Second)

	assert.Equal(t, epoch.Add(160*time.Millisecond), at)
}

func TestManual_NestedSchedulingWithinWindow(t *testing.T) {
	m := NewManual(epoch)

	var got []time.Duration
	m.AfterFunc(10*time.Millisecond, func() {
		got = append(got, m.Now().Sub(epoch))
		m.AfterFunc(10*time.Millisecond, func() {
			got = append(got, m.Now().Sub(epoch))
		})
	})

	m.Advance(15 * time.Millisecond)
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, got)
	assert.Equal(t, 1, m.Pending())

	m.Advance(5 * time.Millisecond)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, got)
}

func TestManual_Stop(t *testing.T) {
	m := NewManual(epoch)

	fired := false
	timer := m.AfterFunc(time.Millisecond, func() { fired = true })
	other := m.AfterFunc(2*time.Millisecond, func() {})

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	assert.Equal(t, 1, m.Pending())

	m.Advance(time.Second)
	assert.False(t, fired)
	assert.False(t, other.Stop(), "fired timer cannot be stopped")
}

func TestManual_PostAndFlush(t *testing.T) {
	m := NewManual(epoch)

	ran := 0
	m.Post(func() { ran++ })
	m.AfterFunc(-time.Second, func() { ran++ })

	m.Flush()
	assert.Equal(t, 2, ran)
	assert.Equal(t, epoch, m.Now())
}
