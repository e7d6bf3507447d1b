// kernel_supervisor.go - Kernel CPU image loading and execution mode supervisor

/*
 ██▓ ███▄    █ ▄▄▄█████▓ █    ██  ██▓▄▄▄█████▓ ██▓ ▒█████   ███▄    █    ▓█████  ███▄    █   ▄████  ██▓ ███▄    █ ▓█████
▓██▒ ██ ▀█   █ ▓  ██▒ ▓▒ ██  ▓██▒▓██▒▓  ██▒ ▓▒▓██▒▒██▒  ██▒ ██ ▀█   █    ▓█   ▀  ██ ▀█   █  ██▒ ▀█▒▓██▒ ██ ▀█   █ ▓█   ▀
▒██▒▓██  ▀█ ██▒▒ ▓██░ ▒░▓██  ▒██░▒██▒▒ ▓██░ ▒░▒██▒▒██░  ██▒▓██  ▀█ ██▒   ▒███   ▓██  ▀█ ██▒▒██░▄▄▄░▒██▒▓██  ▀█ ██▒▒███
░██░▓██▒  ▐▌██▒░ ▓██▓ ░ ▓▓█  ░██░░██░░ ▓██▓ ░ ░██░▒██   ██░▓██▒  ▐▌██▒   ▒▓█  ▄ ▓██▒  ▐▌██▒░▓█  ██▓░██░▓██▒  ▐▌██▒▒▓█  ▄
░██░▒██░   ▓██░  ▒██▒ ░ ▒▒█████▓ ░██░  ▒██▒ ░ ░██░░ ████▓▒░▒██░   ▓██░   ░▒████▒▒██░   ▓██░░▒▓███▀▒░██░▒██░   ▓██░░▒████▒
░▓  ░ ▒░   ▒ ▒   ▒ ░░   ░▒▓▒ ▒ ▒ ░▓    ▒ ░░   ░▓  ░ ▒░▒░▒░ ░ ▒░   ▒ ▒    ░░ ▒░ ░░ ▒░   ▒ ▒  ░▒   ▒ ░▓  ░ ▒░   ▒ ▒ ░░ ▒░ ░
 ▒ ░░ ░░   ░ ▒░    ░    ░░▒░ ░ ░  ▒ ░    ░     ▒ ░  ░ ▒ ▒░ ░ ░░   ░ ▒░    ░ ░  ░░ ░░   ░ ▒░  ░   ░  ▒ ░░ ░░   ░ ▒░ ░ ░  ░
 ▒ ░   ░   ░ ░   ░       ░░░ ░ ░  ▒ ░  ░       ▒ ░░ ░ ░ ▒     ░   ░ ░       ░      ░   ░ ░ ░ ░   ░  ▒ ░   ░   ░ ░    ░
 ░           ░             ░      ░            ░      ░ ░           ░       ░  ░         ░       ░  ░           ░    ░  ░

(c) 2024 - 2026 Zayn Otley
https://github.com/IntuitionAmiga/IntuitionEngine
License: GPLv3 or later
*/

package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ExecState is what the kernel CPU is currently running.
type ExecState uint32

func (s ExecState) String() string {
	switch s {
	case STATE_STOPPED:
		return "stopped"
	case STATE_BRIDGE:
		return "bridge"
	case STATE_IDLE:
		return "idle"
	case STATE_USER:
		return "user"
	default:
		return fmt.Sprintf("state%d", uint32(s))
	}
}

// ImageInfo describes the image currently placed in the kernel regions.
type ImageInfo struct {
	CodeLen    uint32
	PayloadLen uint32
	Symbols    int
	CRC        uint16
	LoadedAt   time.Time
}

// SupervisorStatus is a snapshot of the supervisor.
type SupervisorStatus struct {
	State       ExecState
	Entry       uint32 // entry of the running kernel, 0 when stopped
	Image       *ImageInfo
	CPURunning  bool
	Untrusted   bool
	Transitions uint64
}

// SupervisorConfig wires a supervisor to its collaborators.
type SupervisorConfig struct {
	Layout      MemoryLayout
	CPU         KernelCPU
	Exec        MemoryRegion
	Payload     MemoryRegion
	Mailbox     *Mailbox // optional
	BridgeEntry uint32
	IdleSymbol  string
	Diag        io.Writer // diagnostics, stderr when nil
}

// Supervisor owns the kernel CPU: the placed image, its symbol table and
// the execution state. Every operation runs under mu, so the symbol table,
// image and state always change together.
type Supervisor struct {
	layout      MemoryLayout
	cpu         KernelCPU
	placer      *MemoryPlacer
	mailbox     *Mailbox
	bridgeEntry uint32
	idleSymbol  string
	diag        io.Writer

	mu          sync.Mutex
	state       ExecState
	entry       uint32
	symbols     *SymbolTable
	image       *ImageInfo
	untrusted   bool
	transitions uint64
}

// NewSupervisor creates a supervisor in the Stopped state with no image.
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	if cfg.CPU == nil {
		return nil, fmt.Errorf("no kernel CPU control backend")
	}
	if cfg.Exec == nil || cfg.Payload == nil {
		return nil, fmt.Errorf("EXEC and PAYLOAD regions are required")
	}
	if cfg.Exec.Size() < cfg.Layout.Exec.Size || cfg.Payload.Size() < cfg.Layout.Payload.Size {
		return nil, fmt.Errorf("regions smaller than layout: EXEC %d/%d, PAYLOAD %d/%d",
			cfg.Exec.Size(), cfg.Layout.Exec.Size, cfg.Payload.Size(), cfg.Layout.Payload.Size)
	}
	idle := cfg.IdleSymbol
	if idle == "" {
		idle = DEFAULT_IDLE_SYMBOL
	}
	diag := cfg.Diag
	if diag == nil {
		diag = os.Stderr
	}
	return &Supervisor{
		layout:      cfg.Layout,
		cpu:         cfg.CPU,
		placer:      NewMemoryPlacer(cfg.Exec, cfg.Payload),
		mailbox:     cfg.Mailbox,
		bridgeEntry: cfg.BridgeEntry,
		idleSymbol:  idle,
		diag:        diag,
		state:       STATE_STOPPED,
	}, nil
}

// Load validates buf[:length], halts the kernel CPU and places the image.
// A rejected image changes nothing. A placement failure leaves the CPU
// halted with no image and is fatal.
func (s *Supervisor) Load(buf []byte, length int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.untrusted {
		return ErrUntrusted
	}
	hdr, err := ValidateImage(buf, length, s.layout)
	if err != nil {
		s.logf("load rejected: %v", err)
		return err
	}
	symbols, err := BuildSymbolTable(hdr, buf, s.layout.Exec.Base)
	if err != nil {
		s.logf("load rejected: %v", err)
		return err
	}

	halted, err := s.haltLocked("load")
	if err != nil {
		return err
	}
	s.symbols = nil
	s.image = nil
	if err := s.placer.Place(halted, hdr, buf); err != nil {
		return s.failLocked(err)
	}

	s.symbols = symbols
	s.image = &ImageInfo{
		CodeLen:    hdr.CodeLen,
		PayloadLen: hdr.PayloadLen,
		Symbols:    symbols.Len(),
		CRC:        imageFingerprint(buf[:length]),
		LoadedAt:   time.Now(),
	}
	s.logf("loaded image: code %d bytes, payload %d bytes, %d symbols, crc %04X",
		hdr.CodeLen, hdr.PayloadLen, symbols.Len(), s.image.CRC)
	return nil
}

// Find resolves name in the loaded image.
func (s *Supervisor) Find(name string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr, err := s.symbols.Resolve(name)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", name, err)
	}
	return addr, nil
}

// StartBridge runs the built-in bridge firmware. No image is required.
func (s *Supervisor) StartBridge() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkStartLocked("start bridge"); err != nil {
		return err
	}
	return s.startLocked(STATE_BRIDGE, s.bridgeEntry)
}

// StartIdleKernel runs the idle kernel entry point of the loaded image.
func (s *Supervisor) StartIdleKernel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkStartLocked("start idle kernel"); err != nil {
		return err
	}
	entry, err := s.symbols.Resolve(s.idleSymbol)
	if err != nil {
		return fmt.Errorf("idle kernel %q: %w", s.idleSymbol, err)
	}
	return s.startLocked(STATE_IDLE, entry)
}

// StartUserKernel runs the loaded image from entry, normally an address
// obtained from Find.
func (s *Supervisor) StartUserKernel(entry uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkStartLocked("start user kernel"); err != nil {
		return err
	}
	if s.image == nil {
		return fmt.Errorf("start user kernel with no image loaded: %w", ErrOrdering)
	}
	code := RegionSpec{Base: s.layout.Exec.Base, Size: s.image.CodeLen}
	if !code.Contains(entry) {
		return fmt.Errorf("0x%08X not in code 0x%08X+0x%X: %w", entry, code.Base, code.Size, ErrInvalidEntry)
	}
	return s.startLocked(STATE_USER, entry)
}

// Stop halts the kernel CPU whatever it is running. Stopping a running
// kernel discards the loaded image's symbols; calling Stop while already
// stopped does nothing. It only fails if the halt signal itself fails.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

// StopIf stops the kernel CPU only if it is running in mode, deciding and
// halting under one lock. It reports whether a stop happened.
func (s *Supervisor) StopIf(mode ExecState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != mode || mode == STATE_STOPPED {
		return false, nil
	}
	return true, s.stopLocked()
}

func (s *Supervisor) stopLocked() error {
	if s.state == STATE_STOPPED {
		return nil
	}
	if err := s.cpu.Halt(); err != nil {
		return s.failLocked(&FatalError{Operation: "halt", Err: err})
	}
	s.resetMailboxLocked()
	s.symbols = nil
	s.image = nil
	s.setStateLocked(STATE_STOPPED, 0)
	return nil
}

// Reinitialize halts and resets the kernel CPU and, if both succeed,
// clears the untrusted flag left by a fatal control failure.
func (s *Supervisor) Reinitialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.untrusted = false
	if _, err := s.haltLocked("reinitialize"); err != nil {
		return err
	}
	s.symbols = nil
	s.image = nil
	s.resetMailboxLocked()
	s.logf("kernel CPU reinitialised")
	return nil
}

// State returns the current execution state.
func (s *Supervisor) State() ExecState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the supervisor.
func (s *Supervisor) Status() SupervisorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SupervisorStatus{
		State:       s.state,
		Entry:       s.entry,
		CPURunning:  s.cpu.Running(),
		Untrusted:   s.untrusted,
		Transitions: s.transitions,
	}
	if s.image != nil {
		img := *s.image
		st.Image = &img
	}
	return st
}

// Symbols lists the loaded image's symbols, ordered by address.
func (s *Supervisor) Symbols() []Symbol {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.symbols.Symbols()
}

// ValidatePointer reports whether addr lies inside memory the kernel CPU
// owns, so a pointer it reports through the mailbox may be dereferenced.
func (s *Supervisor) ValidatePointer(addr uint32) bool {
	return s.layout.Exec.Contains(addr) || s.layout.Payload.Contains(addr)
}

// Mailbox returns the mailbox shared with the kernel CPU, or nil.
func (s *Supervisor) Mailbox() *Mailbox { return s.mailbox }

// Layout returns the memory layout the supervisor was built with.
func (s *Supervisor) Layout() MemoryLayout { return s.layout }

func (s *Supervisor) checkStartLocked(op string) error {
	if s.untrusted {
		return ErrUntrusted
	}
	if s.state != STATE_STOPPED {
		return fmt.Errorf("%s while %s: %w", op, s.state, ErrOrdering)
	}
	return nil
}

// startLocked halts and resets the CPU, clears the mailbox and runs entry.
func (s *Supervisor) startLocked(mode ExecState, entry uint32) error {
	if _, err := s.haltLocked("start " + mode.String()); err != nil {
		return err
	}
	s.resetMailboxLocked()
	s.placer.revoke()
	if err := s.cpu.Run(entry); err != nil {
		return s.failLocked(&FatalError{Operation: "run", Err: err})
	}
	s.setStateLocked(mode, entry)
	return nil
}

// haltLocked puts the CPU in reset and returns the capability the placer
// requires. A running kernel is recorded as stopped.
func (s *Supervisor) haltLocked(op string) (haltedCPU, error) {
	if err := s.cpu.Halt(); err != nil {
		return haltedCPU{}, s.failLocked(&FatalError{Operation: op + ": halt", Err: err})
	}
	if err := s.cpu.Reset(); err != nil {
		return haltedCPU{}, s.failLocked(&FatalError{Operation: op + ": reset", Err: err})
	}
	if s.state != STATE_STOPPED {
		s.setStateLocked(STATE_STOPPED, 0)
	}
	return s.placer.halted(), nil
}

// failLocked records a fatal control failure. The image is discarded and
// nothing but Stop, Find, Status and Reinitialize is accepted afterwards.
func (s *Supervisor) failLocked(err error) error {
	s.untrusted = true
	s.symbols = nil
	s.image = nil
	if s.state != STATE_STOPPED {
		s.setStateLocked(STATE_STOPPED, 0)
	}
	s.logf("%v; kernel CPU untrusted until reinitialised", err)
	return err
}

func (s *Supervisor) setStateLocked(state ExecState, entry uint32) {
	if state != s.state {
		s.logf("state %s -> %s (entry 0x%08X)", s.state, state, entry)
	}
	s.state = state
	s.entry = entry
	s.transitions++
}

func (s *Supervisor) resetMailboxLocked() {
	if s.mailbox != nil {
		s.mailbox.Reset()
	}
}

func (s *Supervisor) logf(format string, args ...any) {
	fmt.Fprintf(s.diag, "kloader: "+format+"\n", args...)
}
