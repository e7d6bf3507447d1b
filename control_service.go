package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ControlService is the operator-facing surface shared by the IPC server,
// the console and Lua scripts. It turns file names and symbol-or-address
// strings into supervisor calls.
type ControlService struct {
	sup       *Supervisor
	idleImage string
	watchdog  *Watchdog // optional
	diag      io.Writer
}

func NewControlService(sup *Supervisor, idleImage string, wd *Watchdog, diag io.Writer) *ControlService {
	return &ControlService{sup: sup, idleImage: idleImage, watchdog: wd, diag: diag}
}

// LoadFile reads an image file and loads it.
func (c *ControlService) LoadFile(path string) error {
	data, err := ReadImageFile(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	if err := c.sup.Load(data, len(data)); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *ControlService) Find(name string) (uint32, error) {
	return c.sup.Find(name)
}

// Start switches the kernel CPU into mode. target is only used for
// "user": a symbol name or a numeric address.
func (c *ControlService) Start(mode, target string) error {
	switch strings.ToLower(mode) {
	case "bridge":
		return c.sup.StartBridge()
	case "idle":
		return c.sup.StartIdleKernel()
	case "user":
		entry, err := c.resolveTarget(target)
		if err != nil {
			return err
		}
		err = c.sup.StartUserKernel(entry)
		if err == nil && c.watchdog != nil {
			c.watchdog.Kick()
		}
		return err
	default:
		return fmt.Errorf("unknown mode %q (bridge, idle, user)", mode)
	}
}

// Idle loads the configured idle image, if any, and starts the idle kernel.
// The kernel CPU is stopped first when it is running something else. That
// stop discards the loaded symbols, so without an idle image Idle only
// succeeds from Stopped with an image exporting the idle symbol; after any
// running kernel it fails with ErrNotFound.
func (c *ControlService) Idle() error {
	if c.sup.State() == STATE_IDLE {
		return nil
	}
	if err := c.sup.Stop(); err != nil {
		return err
	}
	if c.idleImage != "" {
		if err := c.LoadFile(c.idleImage); err != nil {
			return err
		}
	}
	return c.sup.StartIdleKernel()
}

func (c *ControlService) Stop() error {
	return c.sup.Stop()
}

func (c *ControlService) Reinitialize() error {
	return c.sup.Reinitialize()
}

func (c *ControlService) Status() SupervisorStatus {
	return c.sup.Status()
}

func (c *ControlService) Symbols() []Symbol {
	return c.sup.Symbols()
}

// Heartbeat feeds the watchdog on behalf of a running kernel.
func (c *ControlService) Heartbeat() {
	if c.watchdog != nil {
		c.watchdog.Kick()
	}
}

// Post hands a pointer to the running kernel through the mailbox and waits
// until the kernel takes it. target is a symbol name or a numeric address
// and must lie in EXEC or PAYLOAD.
func (c *ControlService) Post(ctx context.Context, target string) (uint32, error) {
	mb := c.sup.Mailbox()
	if mb == nil {
		return 0, fmt.Errorf("no mailbox configured")
	}
	if target == "" {
		return 0, fmt.Errorf("post needs a symbol or address")
	}
	addr, err := c.resolveTarget(target)
	if err != nil {
		return 0, err
	}
	if !c.sup.ValidatePointer(addr) {
		return 0, fmt.Errorf("post 0x%08X: %w", addr, ErrBadPointer)
	}
	if st := c.sup.State(); st == STATE_STOPPED {
		return 0, fmt.Errorf("post while %s: %w", st, ErrOrdering)
	}
	if err := mb.SendAndWait(ctx, addr); err != nil {
		return addr, fmt.Errorf("post 0x%08X: kernel did not take it: %w", addr, err)
	}
	return addr, nil
}

// WatchMailbox polls the mailbox until ctx ends. Every message the kernel
// posts is acknowledged and counts as a heartbeat when it points into
// kernel memory.
func (c *ControlService) WatchMailbox(ctx context.Context, interval time.Duration) error {
	mb := c.sup.Mailbox()
	if mb == nil {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.pollMailbox(mb)
		}
	}
}

// pollMailbox consumes at most one kernel message and reports whether it
// was accepted.
func (c *ControlService) pollMailbox(mb *Mailbox) bool {
	v, ok := mb.Receive()
	if !ok {
		return false
	}
	mb.Acknowledge()
	if !c.sup.ValidatePointer(v) {
		fmt.Fprintf(c.diag, "mailbox: dropped 0x%08X, %v\n", v, ErrBadPointer)
		return false
	}
	c.Heartbeat()
	return true
}

// WatchdogExpired is the watchdog escalation: stop an unresponsive user
// kernel. Other modes are left alone.
func (c *ControlService) WatchdogExpired() {
	stopped, err := c.sup.StopIf(STATE_USER)
	if err != nil {
		fmt.Fprintf(c.diag, "watchdog: stop failed: %v\n", err)
		return
	}
	if stopped {
		fmt.Fprintf(c.diag, "watchdog: user kernel unresponsive, stopped\n")
	}
}

func (c *ControlService) resolveTarget(target string) (uint32, error) {
	if target == "" {
		return 0, fmt.Errorf("user kernel needs an entry symbol or address")
	}
	if v, err := strconv.ParseUint(target, 0, 32); err == nil {
		return uint32(v), nil
	}
	return c.sup.Find(target)
}

// FormatStatus renders a status snapshot as one line per field.
func FormatStatus(st SupervisorStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "state:       %s\n", st.State)
	if st.State != STATE_STOPPED {
		fmt.Fprintf(&b, "entry:       0x%08X\n", st.Entry)
	}
	fmt.Fprintf(&b, "cpu running: %t\n", st.CPURunning)
	if st.Image != nil {
		fmt.Fprintf(&b, "image:       code %d, payload %d, %d symbols, crc %04X\n",
			st.Image.CodeLen, st.Image.PayloadLen, st.Image.Symbols, st.Image.CRC)
	} else {
		fmt.Fprintf(&b, "image:       none\n")
	}
	if st.Untrusted {
		fmt.Fprintf(&b, "untrusted:   reinitialise required\n")
	}
	fmt.Fprintf(&b, "transitions: %d\n", st.Transitions)
	return b.String()
}
