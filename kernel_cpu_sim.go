package main

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// simWorker is one execution of the simulated kernel CPU.
type simWorker struct {
	entry uint32
	stop  func()        // cancels the kernel's context
	done  chan struct{} // closed when the kernel body returns
}

// SimKernelCPU stands in for the kernel CPU when no hardware is attached.
// Each Run starts the kernel body on its own goroutine; Halt cancels it and
// waits a bounded time for it to return.
type SimKernelCPU struct {
	mu          sync.Mutex
	worker      *simWorker
	kernel      func(ctx context.Context, entry uint32)
	haltTimeout time.Duration
	resets      int
	runs        []uint32

	// Injected control failures, for exercising the fatal path.
	FailHalt  error
	FailReset error
	FailRun   error
}

// NewSimKernelCPU creates a halted simulated CPU. kernel is the body run
// for every Run; nil runs a body that only waits to be halted.
func NewSimKernelCPU(kernel func(ctx context.Context, entry uint32)) *SimKernelCPU {
	if kernel == nil {
		kernel = func(ctx context.Context, _ uint32) { <-ctx.Done() }
	}
	return &SimKernelCPU{
		kernel:      kernel,
		haltTimeout: KCPU_HALT_TIMEOUT_MS * time.Millisecond,
	}
}

// SetHaltTimeout bounds how long Halt waits for the kernel body.
func (c *SimKernelCPU) SetHaltTimeout(d time.Duration) {
	c.mu.Lock()
	c.haltTimeout = d
	c.mu.Unlock()
}

func (c *SimKernelCPU) Halt() error {
	c.mu.Lock()
	if c.FailHalt != nil {
		err := c.FailHalt
		c.mu.Unlock()
		return err
	}
	w := c.worker
	timeout := c.haltTimeout
	if w == nil {
		c.mu.Unlock()
		return nil
	}
	w.stop()
	c.mu.Unlock()

	select {
	case <-w.done:
	case <-time.After(timeout):
		return fmt.Errorf("kernel at 0x%08X did not halt within %v", w.entry, timeout)
	}

	c.mu.Lock()
	if c.worker == w {
		c.worker = nil
	}
	c.mu.Unlock()
	return nil
}

func (c *SimKernelCPU) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailReset != nil {
		return c.FailReset
	}
	if c.worker != nil {
		return fmt.Errorf("reset while running at 0x%08X", c.worker.entry)
	}
	c.resets++
	return nil
}

func (c *SimKernelCPU) Run(entry uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailRun != nil {
		return c.FailRun
	}
	if c.worker != nil {
		return fmt.Errorf("run 0x%08X while running at 0x%08X", entry, c.worker.entry)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &simWorker{entry: entry, stop: cancel, done: make(chan struct{})}
	c.worker = w
	c.runs = append(c.runs, entry)

	kernel := c.kernel
	go func() {
		defer close(w.done)
		kernel(ctx, entry)
	}()
	return nil
}

func (c *SimKernelCPU) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.worker != nil
}

// Runs returns every entry address passed to Run, oldest first.
func (c *SimKernelCPU) Runs() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint32(nil), c.runs...)
}

// Resets returns how many times Reset succeeded.
func (c *SimKernelCPU) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}
