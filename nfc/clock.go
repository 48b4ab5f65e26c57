package nfc

import (
	"sync"
	"time"
)

// Clock provides an abstraction over time operations so session timeouts,
// settle delays and cooldowns can be driven by tests.
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// NewTimer creates a new timer that will send on its channel
	// after the specified duration
	NewTimer(d time.Duration) Timer

	// After returns a channel that will receive a value after the duration
	After(d time.Duration) <-chan time.Time
}

// Timer is an interface for time.Timer to enable testing
type Timer interface {
	// C returns the channel on which the timer value will be sent
	C() <-chan time.Time

	// Stop prevents the timer from firing
	Stop() bool
}

// RealClock implements Clock using actual time operations
type RealClock struct{}

// NewRealClock creates a new RealClock
func NewRealClock() Clock {
	return &RealClock{}
}

func (rc *RealClock) Now() time.Time {
	return time.Now()
}

func (rc *RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{timer: time.NewTimer(d)}
}

func (rc *RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

type realTimer struct {
	timer *time.Timer
}

func (rt *realTimer) C() <-chan time.Time {
	return rt.timer.C
}

func (rt *realTimer) Stop() bool {
	return rt.timer.Stop()
}

// FakeClock implements Clock for testing with controllable time
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	waiters []clockWaiter
}

type clockWaiter struct {
	n  int
	ch chan struct{}
}

// NewFakeClock creates a new FakeClock starting at the given time
func NewFakeClock(startTime time.Time) *FakeClock {
	return &FakeClock{now: startTime}
}

func (fc *FakeClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

func (fc *FakeClock) NewTimer(d time.Duration) Timer {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	ft := &fakeTimer{
		clock:    fc,
		deadline: fc.now.Add(d),
		c:        make(chan time.Time, 1),
	}
	fc.timers = append(fc.timers, ft)
	fc.notifyLocked()
	return ft
}

func (fc *FakeClock) After(d time.Duration) <-chan time.Time {
	return fc.NewTimer(d).C()
}

// Advance moves the fake clock forward by the given duration
// and fires any timers that have reached their deadline.
func (fc *FakeClock) Advance(d time.Duration) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.now = fc.now.Add(d)

	pending := fc.timers[:0]
	for _, timer := range fc.timers {
		if timer.stopped {
			continue
		}
		if fc.now.Before(timer.deadline) {
			pending = append(pending, timer)
			continue
		}
		timer.stopped = true // Timers only fire once
		select {
		case timer.c <- fc.now:
		default:
		}
	}
	fc.timers = pending
}

// BlockUntil waits until at least n timers are pending on the clock.
// Tests call it before Advance so a goroutine has armed its timer first.
func (fc *FakeClock) BlockUntil(n int) {
	fc.mu.Lock()
	if fc.activeLocked() >= n {
		fc.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	fc.waiters = append(fc.waiters, clockWaiter{n: n, ch: ch})
	fc.mu.Unlock()
	<-ch
}

func (fc *FakeClock) activeLocked() int {
	count := 0
	for _, t := range fc.timers {
		if !t.stopped {
			count++
		}
	}
	return count
}

func (fc *FakeClock) notifyLocked() {
	active := fc.activeLocked()
	remaining := fc.waiters[:0]
	for _, w := range fc.waiters {
		if active >= w.n {
			close(w.ch)
			continue
		}
		remaining = append(remaining, w)
	}
	fc.waiters = remaining
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	c        chan time.Time
	stopped  bool
}

func (ft *fakeTimer) C() <-chan time.Time {
	return ft.c
}

func (ft *fakeTimer) Stop() bool {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()
	if ft.stopped {
		return false
	}
	ft.stopped = true
	return true
}
