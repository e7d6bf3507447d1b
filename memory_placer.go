package main

import (
	"errors"
	"fmt"
)

var errNotHalted = errors.New("region write attempted without a halted kernel CPU")

// haltedCPU is proof that the kernel CPU was put into reset. Only
// MemoryPlacer.halted mints one, and it is good until the next halt or run;
// the zero value is always refused.
type haltedCPU struct {
	epoch uint64
	valid bool
}

// MemoryPlacer is the only writer of the EXEC and PAYLOAD regions.
type MemoryPlacer struct {
	exec    MemoryRegion
	payload MemoryRegion
	epoch   uint64 // current halt epoch
}

func NewMemoryPlacer(exec, payload MemoryRegion) *MemoryPlacer {
	return &MemoryPlacer{exec: exec, payload: payload}
}

// halted records a completed halt and returns its capability. Any capability
// minted earlier stops being accepted.
func (p *MemoryPlacer) halted() haltedCPU {
	p.epoch++
	return haltedCPU{epoch: p.epoch, valid: true}
}

// revoke invalidates the current capability once the CPU runs again.
func (p *MemoryPlacer) revoke() {
	p.epoch++
}

// Place replaces the contents of both regions with the sections of a
// validated image. Both regions are zeroed first so nothing of the previous
// image survives past the new sections. Region failures are fatal.
func (p *MemoryPlacer) Place(h haltedCPU, hdr *ImageHeader, buf []byte) error {
	if !h.valid {
		return &FatalError{Operation: "place", Err: errNotHalted}
	}
	if h.epoch != p.epoch {
		return &FatalError{Operation: "place", Err: fmt.Errorf("halt epoch %d, current %d: %w", h.epoch, p.epoch, errNotHalted)}
	}
	if err := p.exec.Zero(); err != nil {
		return &FatalError{Operation: "place", Err: fmt.Errorf("zero EXEC: %w", err)}
	}
	if err := p.payload.Zero(); err != nil {
		return &FatalError{Operation: "place", Err: fmt.Errorf("zero PAYLOAD: %w", err)}
	}

	code := buf[hdr.CodeOff() : hdr.CodeOff()+hdr.CodeLen]
	if _, err := p.exec.WriteAt(code, 0); err != nil {
		return &FatalError{Operation: "place", Err: fmt.Errorf("copy code: %w", err)}
	}
	if hdr.PayloadLen > 0 {
		payload := buf[hdr.PayloadOff() : hdr.PayloadOff()+hdr.PayloadLen]
		if _, err := p.payload.WriteAt(payload, 0); err != nil {
			return &FatalError{Operation: "place", Err: fmt.Errorf("copy payload: %w", err)}
		}
	}
	return nil
}
