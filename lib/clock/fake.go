// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance or Set is
// called. Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
	changed *sync.Cond
}

type fakeTimer struct {
	deadline time.Time
	channel  chan time.Time
	// period is zero for one-shot timers created by After.
	period  time.Duration
	stopped bool
}

// Fake returns a FakeClock reading initial.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{now: initial}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

// Now returns the fake current time.
func (fake *FakeClock) Now() time.Time {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return fake.now
}

// After registers a one-shot timer that fires when the clock reaches
// now+d.
func (fake *FakeClock) After(d time.Duration) <-chan time.Time {
	fake.mu.Lock()
	defer fake.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- fake.now
		return channel
	}
	fake.addLocked(&fakeTimer{deadline: fake.now.Add(d), channel: channel})
	return channel
}

// NewTicker registers a periodic timer.
func (fake *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()

	timer := &fakeTimer{deadline: fake.now.Add(d), channel: make(chan time.Time, 1), period: d}
	fake.addLocked(timer)
	return &Ticker{
		C: timer.channel,
		stop: func() {
			fake.mu.Lock()
			defer fake.mu.Unlock()
			timer.stopped = true
		},
	}
}

func (fake *FakeClock) addLocked(timer *fakeTimer) {
	fake.pending = append(fake.pending, timer)
	fake.changed.Broadcast()
}

// Advance moves the clock forward by d, firing every timer whose
// deadline is reached in deadline order. A ticker whose period fits
// several times into d fires once per period; ticks that find the
// channel full are dropped.
func (fake *FakeClock) Advance(d time.Duration) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.fireUntilLocked(fake.now.Add(d))
}

// Set moves the clock to t. Moving backwards fires nothing.
func (fake *FakeClock) Set(t time.Time) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if t.Before(fake.now) {
		fake.now = t
		return
	}
	fake.fireUntilLocked(t)
}

func (fake *FakeClock) fireUntilLocked(target time.Time) {
	for {
		live := fake.pending[:0]
		for _, timer := range fake.pending {
			if !timer.stopped {
				live = append(live, timer)
			}
		}
		fake.pending = live
		sort.SliceStable(fake.pending, func(i, j int) bool {
			return fake.pending[i].deadline.Before(fake.pending[j].deadline)
		})
		if len(fake.pending) == 0 || fake.pending[0].deadline.After(target) {
			break
		}

		due := fake.pending[0]
		fake.now = due.deadline
		select {
		case due.channel <- due.deadline:
		default:
		}
		if due.period > 0 {
			due.deadline = due.deadline.Add(due.period)
		} else {
			fake.pending = fake.pending[1:]
		}
	}
	fake.now = target
}

// WaitForTimers blocks until at least n timers or tickers are pending.
// Tests call it before Advance so that a goroutine which is about to
// wait on the clock has registered before time moves.
func (fake *FakeClock) WaitForTimers(n int) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	for fake.pendingLocked() < n {
		fake.changed.Wait()
	}
}

// PendingCount returns the number of registered, unstopped timers.
func (fake *FakeClock) PendingCount() int {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return fake.pendingLocked()
}

func (fake *FakeClock) pendingLocked() int {
	count := 0
	for _, timer := range fake.pending {
		if !timer.stopped {
			count++
		}
	}
	return count
}
