package clock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualClock(t *testing.T) {
	start := time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)
	m := NewManual(start)

	assert.Equal(t, start, m.Now())
	m.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), m.Now())
	m.Set(start)
	assert.Equal(t, start, m.Now())
}

func TestScheduleAt(t *testing.T) {
	t.Run("fires a past instant immediately", func(t *testing.T) {
		timers := NewTimers(System())
		defer timers.Stop()

		fired := make(chan struct{})
		timers.ScheduleAt(time.Now().Add(-time.Second), func() { close(fired) })

		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatal("callback did not fire")
		}
	})

	t.Run("cancel prevents firing", func(t *testing.T) {
		timers := NewTimers(System())
		defer timers.Stop()

		var fired atomic.Bool
		cancel := timers.ScheduleAt(time.Now().Add(50*time.Millisecond), func() { fired.Store(true) })
		cancel()

		time.Sleep(100 * time.Millisecond)
		assert.False(t, fired.Load())
	})

	t.Run("Stop cancels pending callbacks", func(t *testing.T) {
		timers := NewTimers(System())

		var fired atomic.Bool
		timers.ScheduleAt(time.Now().Add(50*time.Millisecond), func() { fired.Store(true) })
		timers.Stop()

		time.Sleep(100 * time.Millisecond)
		assert.False(t, fired.Load())
	})
}

func TestNextDaily(t *testing.T) {
	utc := time.UTC

	t.Run("same day when time is still ahead", func(t *testing.T) {
		now := time.Date(2025, 11, 1, 8, 0, 0, 0, utc)
		next, ok := NextDaily(now, 9, 0, utc)
		require.True(t, ok)
		assert.Equal(t, time.Date(2025, 11, 1, 9, 0, 0, 0, utc), next)
	})

	t.Run("next day when time has passed", func(t *testing.T) {
		now := time.Date(2025, 11, 1, 9, 0, 0, 0, utc)
		next, ok := NextDaily(now, 9, 0, utc)
		require.True(t, ok)
		assert.Equal(t, time.Date(2025, 11, 2, 9, 0, 0, 0, utc), next)
	})

	t.Run("skips the spring-forward gap", func(t *testing.T) {
		chicago, err := time.LoadLocation("America/Chicago")
		require.NoError(t, err)

		// 2025-03-09: 02:00-03:00 CST does not exist
		now := time.Date(2025, 3, 8, 12, 0, 0, 0, chicago)
		next, ok := NextDaily(now, 2, 30, chicago)
		require.True(t, ok)

		local := next.In(chicago)
		assert.Equal(t, 10, local.Day(), "gap day should be skipped")
		assert.Equal(t, 2, local.Hour())
		assert.Equal(t, 30, local.Minute())
	})

	t.Run("picks the earlier instant in the fall-back overlap", func(t *testing.T) {
		chicago, err := time.LoadLocation("America/Chicago")
		require.NoError(t, err)

		// 2025-11-02: 01:00-02:00 CDT repeats as 01:00-02:00 CST
		now := time.Date(2025, 11, 1, 12, 0, 0, 0, chicago)
		next, ok := NextDaily(now, 1, 30, chicago)
		require.True(t, ok)

		local := next.In(chicago)
		assert.Equal(t, 2, local.Day())
		assert.Equal(t, 1, local.Hour())
		assert.Equal(t, 30, local.Minute())

		// the earlier occurrence is still on CDT (UTC-5)
		_, offset := local.Zone()
		assert.Equal(t, -5*3600, offset)
	})
}

func TestScheduleDaily(t *testing.T) {
	t.Run("cancel stops the schedule", func(t *testing.T) {
		timers := NewTimers(System())
		defer timers.Stop()

		cancel := timers.ScheduleDaily(23, 59, time.UTC, func() {})
		cancel()
		cancel() // idempotent
	})
}
