package clock

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// CancelFunc cancels a scheduled callback. Safe to call more than once.
type CancelFunc func()

// Timers is the engine's scheduled-callback registry. One-shot callbacks run
// via ScheduleAt; cron-style daily callbacks via ScheduleDaily. Stop cancels
// everything still pending.
type Timers struct {
	clock Clock

	mu     sync.Mutex
	nextID int
	oneOff map[int]*time.Timer
	done   chan struct{}
	closed bool
}

func NewTimers(clock Clock) *Timers {
	return &Timers{
		clock:  clock,
		oneOff: make(map[int]*time.Timer),
		done:   make(chan struct{}),
	}
}

// ScheduleAt runs fn once at the given instant. Instants in the past fire
// immediately.
func (t *Timers) ScheduleAt(at time.Time, fn func()) CancelFunc {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return func() {}
	}

	id := t.nextID
	t.nextID++

	d := at.Sub(t.clock.Now())
	if d < 0 {
		d = 0
	}

	timer := time.AfterFunc(d, func() {
		t.mu.Lock()
		delete(t.oneOff, id)
		t.mu.Unlock()
		fn()
	})
	t.oneOff[id] = timer

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if tm, ok := t.oneOff[id]; ok {
			tm.Stop()
			delete(t.oneOff, id)
		}
	}
}

// ScheduleDaily runs fn every day at the given wall time in loc. Days where
// the wall time does not exist (spring-forward gap) are skipped; an ambiguous
// wall time resolves to the earlier instant.
func (t *Timers) ScheduleDaily(hour, minute int, loc *time.Location, fn func()) CancelFunc {
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			next, ok := NextDaily(t.clock.Now(), hour, minute, loc)
			if !ok {
				log.Error().Int("hour", hour).Int("minute", minute).
					Msg("no daily occurrence resolvable, stopping schedule")
				return
			}
			timer := time.NewTimer(next.Sub(t.clock.Now()))
			select {
			case <-t.done:
				timer.Stop()
				return
			case <-stop:
				timer.Stop()
				return
			case <-timer.C:
				fn()
			}
		}
	}()

	return func() { once.Do(func() { close(stop) }) }
}

// Stop cancels all pending callbacks and daily schedules.
func (t *Timers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.done)
	for id, tm := range t.oneOff {
		tm.Stop()
		delete(t.oneOff, id)
	}
}

// NextDaily returns the first instant strictly after now whose wall-clock
// reading in loc is hour:minute. Searching is bounded; ok is false only if no
// occurrence exists within the bound (malformed zone data).
func NextDaily(now time.Time, hour, minute int, loc *time.Location) (time.Time, bool) {
	local := now.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	for i := 0; i < 366; i++ {
		candidate, ok := resolveWallTime(day, hour, minute, loc)
		if ok && candidate.After(now) {
			return candidate, true
		}
		day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc)
	}
	return time.Time{}, false
}

// resolveWallTime maps a wall-clock hour:minute on day to an instant.
// A nonexistent local time (DST gap) reports ok=false; an ambiguous one
// (DST overlap) resolves to the earlier of the two instants.
func resolveWallTime(day time.Time, hour, minute int, loc *time.Location) (time.Time, bool) {
	c := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
	if c.Hour() != hour || c.Minute() != minute {
		// time.Date normalized the reading: the wall time does not exist today
		return time.Time{}, false
	}
	// During an overlap the same wall time occurs twice an hour apart.
	earlier := c.Add(-time.Hour)
	el := earlier.In(loc)
	if el.Hour() == hour && el.Minute() == minute {
		return earlier, true
	}
	return c, true
}
