// Package timeengine implements the virtual clock each session drives its
// replay thread from: a monotonic timeline that advances toward event
// timestamps at a configurable speed factor, with interruptible waits so
// pause/resume/jump can all preempt an in-flight sleep.
package timeengine

import (
	"sync"
	"time"
)

// Status is the TimeEngine's own lifecycle state, independent of (but
// driven by) the owning session's SessionStatus.
type Status string

const (
	StatusIdle    Status = "IDLE"
	StatusRunning Status = "RUNNING"
	StatusPaused  Status = "PAUSED"
	StatusStopped Status = "STOPPED"
)

// TimeEngine is a virtual clock. Zero value is not usable; use New.
type TimeEngine struct {
	mu     sync.Mutex
	tv     time.Time
	speed  float64 // 0 == max speed / no throttling
	status Status
	gen    chan struct{} // closed+replaced on every state change waiters must react to
	jumpSeq uint64       // bumped only by SetTime and Interrupt; distinguishes "jump" wakes from "rescale" wakes
}

// New creates a TimeEngine parked at t0 in IDLE with the given speed factor.
func New(t0 time.Time, speedFactor float64) *TimeEngine {
	return &TimeEngine{
		tv:     t0,
		speed:  speedFactor,
		status: StatusIdle,
		gen:    make(chan struct{}),
	}
}

// wake closes the current generation channel (broadcasting to all waiters)
// and replaces it. Caller must hold mu.
func (e *TimeEngine) wake() {
	close(e.gen)
	e.gen = make(chan struct{})
}

// Now returns the current virtual time.
func (e *TimeEngine) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tv
}

// Status returns the engine's current lifecycle state.
func (e *TimeEngine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// SetTime sets Tv := t and wakes all waiters. Legal only when not RUNNING
// (i.e. IDLE, PAUSED, or STOPPED); a call while RUNNING is a silent no-op,
// reported via the returned bool, per the engine's never-throws contract.
func (e *TimeEngine) SetTime(t time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusRunning {
		return false
	}
	e.tv = t
	e.jumpSeq++
	e.wake()
	return true
}

// SetSpeed updates the speed factor. Takes effect immediately, including
// for a waiter currently sleeping: WaitForNextEvent recomputes its
// remaining wall-clock delay using the new speed and the (unchanged)
// virtual delta still outstanding.
func (e *TimeEngine) SetSpeed(f float64) {
	if f < 0 {
		f = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = f
	e.wake()
}

// Speed returns the current speed factor.
func (e *TimeEngine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// Start idempotently moves the engine to RUNNING. A no-op once STOPPED.
func (e *TimeEngine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusStopped {
		return
	}
	if e.status == StatusRunning {
		return
	}
	e.status = StatusRunning
	e.wake()
}

// Pause idempotently freezes Tv at its current value.
func (e *TimeEngine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusRunning {
		return
	}
	e.status = StatusPaused
	e.wake()
}

// Resume idempotently continues advancing Tv from its frozen value.
func (e *TimeEngine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusPaused {
		return
	}
	e.status = StatusRunning
	e.wake()
}

// Stop causes all current and future waits to return false immediately.
// Idempotent.
func (e *TimeEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusStopped {
		return
	}
	e.status = StatusStopped
	e.wake()
}

// WaitForNextEvent blocks until Tv >= tEvent or the engine is STOPPED.
//
// speed == 0 sets Tv := tEvent and returns true immediately (a PAUSED
// engine first waits for Resume, as at any speed). speed > 0
// sleeps (tEvent - Tv) / speed of wall time; a concurrent SetSpeed,
// Pause, or Resume rescales/suspends the remaining wait transparently
// (the call keeps blocking until Tv actually reaches tEvent). A concurrent
// SetTime (a jump) or Stop aborts the wait and returns false.
func (e *TimeEngine) WaitForNextEvent(tEvent time.Time) bool {
	for {
		e.mu.Lock()
		if e.status == StatusStopped {
			e.mu.Unlock()
			return false
		}
		if !e.tv.Before(tEvent) {
			e.mu.Unlock()
			return true
		}
		startJumpSeq := e.jumpSeq
		if e.status == StatusPaused {
			gen := e.gen
			e.mu.Unlock()
			<-gen
			if interrupted(startJumpSeq, e, gen) {
				return false
			}
			continue
		}
		if e.speed == 0 {
			if tEvent.After(e.tv) {
				e.tv = tEvent
			}
			e.mu.Unlock()
			return true
		}

		delta := tEvent.Sub(e.tv)
		wall := time.Duration(float64(delta) / e.speed)
		gen := e.gen
		e.mu.Unlock()

		timer := time.NewTimer(wall)
		select {
		case <-timer.C:
			e.mu.Lock()
			if e.status == StatusStopped {
				e.mu.Unlock()
				return false
			}
			if e.jumpSeq != startJumpSeq {
				// A jump raced the natural timer fire; honor the jump.
				e.mu.Unlock()
				return false
			}
			if e.status == StatusPaused {
				// Paused at the instant the timer fired; re-enter the loop
				// to block on resume rather than falsely advancing Tv.
				e.mu.Unlock()
				continue
			}
			e.tv = tEvent
			e.mu.Unlock()
			return true
		case <-gen:
			timer.Stop()
			if interrupted(startJumpSeq, e, gen) {
				return false
			}
			continue
		}
	}
}

// Interrupt aborts any in-flight WaitForNextEvent (it returns false)
// without changing Tv, speed, or status. Used when the owner needs its
// replay thread back promptly — e.g. a jump while RUNNING, where Pause
// would leave a fresh waiter blocked instead of returning.
func (e *TimeEngine) Interrupt() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jumpSeq++
	e.wake()
}

// FastForwardTo advances Tv directly to t, bypassing the speed throttle.
// Unlike SetTime it is legal while RUNNING and does not bump jumpSeq — no
// other waiter needs to be interrupted, since the replay loop that drives
// fast-forward is the same goroutine that would otherwise be sleeping in
// WaitForNextEvent. A no-op once STOPPED or if t is behind the current Tv.
func (e *TimeEngine) FastForwardTo(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusStopped {
		return
	}
	if t.After(e.tv) {
		e.tv = t
	}
}

// interrupted reports whether the wake the caller just observed was caused
// by a jump (SetTime), an Interrupt, or a Stop, as opposed to a mere
// speed/pause/resume rescale.
func interrupted(startJumpSeq uint64, e *TimeEngine, _ chan struct{}) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusStopped {
		return true
	}
	return e.jumpSeq != startJumpSeq
}
