package timeengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForNextEvent_ImmediateAtMaxSpeed(t *testing.T) {
	t0 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	e := New(t0, 0)
	e.Start()

	target := t0.Add(time.Hour)
	ok := e.WaitForNextEvent(target)
	require.True(t, ok)
	assert.Equal(t, target, e.Now())
}

func TestWaitForNextEvent_AlreadyPast(t *testing.T) {
	t0 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	e := New(t0, 1)
	e.Start()

	ok := e.WaitForNextEvent(t0.Add(-time.Second))
	require.True(t, ok)
	assert.Equal(t, t0, e.Now())
}

func TestWaitForNextEvent_ScaledSleep(t *testing.T) {
	t0 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	// speed=1000 means 1 virtual second elapses every 1ms of wall time.
	e := New(t0, 1000)
	e.Start()

	start := time.Now()
	ok := e.WaitForNextEvent(t0.Add(100 * time.Millisecond))
	elapsed := time.Since(start)
	require.True(t, ok)
	assert.Less(t, elapsed, 50*time.Millisecond)
}

func TestWaitForNextEvent_StopInterrupts(t *testing.T) {
	t0 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	e := New(t0, 1) // 1:1 real time, long wait
	e.Start()

	done := make(chan bool, 1)
	go func() {
		done <- e.WaitForNextEvent(t0.Add(time.Hour))
	}()

	time.Sleep(20 * time.Millisecond)
	e.Stop()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("WaitForNextEvent did not return after Stop")
	}
}

func TestWaitForNextEvent_PauseThenResumeCompletesWithoutAbort(t *testing.T) {
	t0 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	e := New(t0, 1000)
	e.Start()

	done := make(chan bool, 1)
	go func() {
		done <- e.WaitForNextEvent(t0.Add(200 * time.Millisecond))
	}()

	time.Sleep(5 * time.Millisecond)
	e.Pause()
	time.Sleep(30 * time.Millisecond) // Tv must stay frozen while paused
	e.Resume()

	select {
	case ok := <-done:
		assert.True(t, ok, "pause/resume must not abort the wait")
	case <-time.After(time.Second):
		t.Fatal("WaitForNextEvent did not complete after resume")
	}
}

func TestWaitForNextEvent_JumpAborts(t *testing.T) {
	t0 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	e := New(t0, 1)
	e.Start()
	e.Pause() // SetTime is only legal while not RUNNING

	done := make(chan bool, 1)
	go func() {
		done <- e.WaitForNextEvent(t0.Add(time.Hour))
	}()

	time.Sleep(20 * time.Millisecond)
	applied := e.SetTime(t0.Add(5 * time.Minute))
	require.True(t, applied)

	select {
	case ok := <-done:
		assert.False(t, ok, "a jump must abort any in-flight wait")
	case <-time.After(time.Second):
		t.Fatal("WaitForNextEvent did not return after SetTime")
	}
}

func TestInterrupt_AbortsInFlightWaitWhileRunning(t *testing.T) {
	t0 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	e := New(t0, 1)
	e.Start()

	done := make(chan bool, 1)
	go func() {
		done <- e.WaitForNextEvent(t0.Add(time.Hour))
	}()

	time.Sleep(20 * time.Millisecond)
	e.Interrupt()

	select {
	case ok := <-done:
		assert.False(t, ok)
		assert.Equal(t, StatusRunning, e.Status(), "Interrupt must not change state")
		assert.Equal(t, t0, e.Now(), "Interrupt must not advance Tv")
	case <-time.After(time.Second):
		t.Fatal("WaitForNextEvent did not return after Interrupt")
	}
}

func TestSetTime_IllegalWhileRunning(t *testing.T) {
	e := New(time.Now(), 1)
	e.Start()
	applied := e.SetTime(time.Now().Add(time.Hour))
	assert.False(t, applied)
}

func TestSpeedChangeRescalesRemainingWait(t *testing.T) {
	t0 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	e := New(t0, 10) // slow: 10ms wall per 100ms virtual... i.e. 1 virtual sec per 100ms wall
	e.Start()

	done := make(chan bool, 1)
	go func() {
		done <- e.WaitForNextEvent(t0.Add(time.Second))
	}()

	time.Sleep(5 * time.Millisecond)
	e.SetSpeed(10000) // speed up drastically; remaining wait should shrink

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("speed change did not rescale the remaining wait")
	}
}

func TestStartIdempotentAfterStop(t *testing.T) {
	e := New(time.Now(), 1)
	e.Stop()
	e.Start()
	assert.Equal(t, StatusStopped, e.Status())
}
