package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMailboxHandshake(t *testing.T) {
	reg := NewRAMRegion(RegionSpec{Base: KCPU_MAILBOX_ADDR, Size: WORD_SIZE})
	mb := NewMailbox(reg, 0)

	mb.Send(0x40404000)
	if mb.Acknowledged() {
		t.Fatal("acknowledged before the kernel CPU read the word")
	}
	if _, ok := mb.Receive(); ok {
		t.Fatal("our own send was received as a reply")
	}

	// Kernel CPU consumes and answers with a pointer of its own.
	reg.Write32(0, 0x40404100)
	if !mb.Acknowledged() {
		t.Fatal("changed word not seen as acknowledgement")
	}
	v, ok := mb.Receive()
	if !ok || v != 0x40404100 {
		t.Fatalf("Receive = 0x%08X, %v", v, ok)
	}
	mb.Acknowledge()
	if reg.Read32(0) != 0 {
		t.Fatal("Acknowledge did not clear the word")
	}
}

func TestMailboxSendAndWait(t *testing.T) {
	reg := NewRAMRegion(RegionSpec{Base: KCPU_MAILBOX_ADDR, Size: WORD_SIZE})
	mb := NewMailbox(reg, 0)

	go func() {
		for reg.Read32(0) != 0x1234 {
			time.Sleep(time.Millisecond)
		}
		reg.Write32(0, 0)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := mb.SendAndWait(ctx, 0x1234); err != nil {
		t.Fatalf("SendAndWait: %v", err)
	}
}

func TestMailboxSendAndWaitTimeout(t *testing.T) {
	mb := NewMailbox(NewRAMRegion(RegionSpec{Base: KCPU_MAILBOX_ADDR, Size: WORD_SIZE}), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := mb.SendAndWait(ctx, 0x1234); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("SendAndWait without a reader = %v", err)
	}
}

func TestMailboxReset(t *testing.T) {
	reg := NewRAMRegion(RegionSpec{Base: KCPU_MAILBOX_ADDR, Size: WORD_SIZE})
	mb := NewMailbox(reg, 0)
	mb.Send(0x55)
	mb.Reset()
	if reg.Read32(0) != 0 {
		t.Fatal("Reset left the word set")
	}
	reg.Write32(0, 0x55)
	if v, ok := mb.Receive(); !ok || v != 0x55 {
		t.Fatal("Reset did not forget the last sent value")
	}
}
