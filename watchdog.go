package main

import (
	"sync"
	"time"
)

// Watchdog calls onExpire when no Kick arrives within timeout. It fires at
// most once per arming; the next Kick re-arms it.
type Watchdog struct {
	timeout  time.Duration
	onExpire func()

	kick    chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
	stopped sync.Once
	started sync.Once
}

func NewWatchdog(timeout time.Duration, onExpire func()) *Watchdog {
	return &Watchdog{
		timeout:  timeout,
		onExpire: onExpire,
		kick:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start arms the watchdog. Calling it more than once has no effect.
func (w *Watchdog) Start() {
	w.started.Do(func() { go w.loop() })
}

// Kick records a heartbeat.
func (w *Watchdog) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Stop disarms the watchdog and waits for its goroutine.
func (w *Watchdog) Stop() {
	w.stopped.Do(func() { close(w.stopCh) })
	w.started.Do(func() { close(w.done) })
	<-w.done
}

func (w *Watchdog) loop() {
	defer close(w.done)
	timer := time.NewTimer(w.timeout)
	defer timer.Stop()
	armed := true

	for {
		select {
		case <-w.stopCh:
			return
		case <-w.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.timeout)
			armed = true
		case <-timer.C:
			if armed {
				armed = false
				w.onExpire()
			}
		}
	}
}
