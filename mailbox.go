package main

import (
	"context"
	"sync"
	"time"
)

// Mailbox is the single shared word the two processors pass pointers
// through. The sender remembers its last transmission: the word changing
// away from it is the acknowledgement, and reading back our own value means
// nothing new arrived.
type Mailbox struct {
	mu   sync.Mutex
	reg  MemoryRegion
	off  uint32
	last uint32
}

// NewMailbox uses the word at off inside reg.
func NewMailbox(reg MemoryRegion, off uint32) *Mailbox {
	return &Mailbox{reg: reg, off: off}
}

// Send posts v to the kernel CPU.
func (m *Mailbox) Send(v uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = v
	m.reg.Write32(m.off, v)
}

// Acknowledged reports whether the kernel CPU has consumed the last send.
func (m *Mailbox) Acknowledged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg.Read32(m.off) != m.last
}

// SendAndWait posts v and polls until it is acknowledged or ctx ends.
func (m *Mailbox) SendAndWait(ctx context.Context, v uint32) error {
	m.Send(v)
	ticker := time.NewTicker(MAILBOX_POLL_US * time.Microsecond)
	defer ticker.Stop()
	for !m.Acknowledged() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Receive returns a value posted by the kernel CPU, if any.
func (m *Mailbox) Receive() (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.reg.Read32(m.off)
	if v == m.last || v == 0 {
		return 0, false
	}
	return v, true
}

// Acknowledge clears the word, telling the kernel CPU its message was taken.
func (m *Mailbox) Acknowledge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reg.Write32(m.off, 0)
}

// Reset discards any pending message in either direction.
func (m *Mailbox) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = 0
	m.reg.Write32(m.off, 0)
}
