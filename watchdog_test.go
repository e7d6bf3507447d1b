package main

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWatchdogExpires(t *testing.T) {
	fired := make(chan struct{}, 4)
	wd := NewWatchdog(20*time.Millisecond, func() { fired <- struct{}{} })
	wd.Start()
	defer wd.Stop()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog never fired")
	}

	// Fires once per arming.
	select {
	case <-fired:
		t.Fatal("watchdog fired twice without a kick")
	case <-time.After(60 * time.Millisecond):
	}

	wd.Kick()
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not re-arm after a kick")
	}
}

func TestWatchdogKickHoldsOff(t *testing.T) {
	var fired atomic.Int32
	wd := NewWatchdog(100*time.Millisecond, func() { fired.Add(1) })
	wd.Start()

	for i := 0; i < 10; i++ {
		time.Sleep(20 * time.Millisecond)
		wd.Kick()
	}
	wd.Stop()
	if n := fired.Load(); n != 0 {
		t.Fatalf("fired %d times while being kicked", n)
	}
}

func TestWatchdogStopWithoutStart(t *testing.T) {
	wd := NewWatchdog(time.Second, func() {})
	done := make(chan struct{})
	go func() {
		wd.Stop()
		wd.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a watchdog that was never started")
	}
}
