// memory_bus.go - Shared memory regions between the management CPU and the kernel CPU

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

/*
memory_bus.go - Shared Memory Regions

This module describes the physical memory the management processor shares with the kernel CPU. The kernel CPU fetches instructions from the EXEC region and reads auxiliary tables from the PAYLOAD region; a single mailbox word carries pointers between the two processors.

Core Features:

    A fixed MemoryLayout (EXEC base/size, PAYLOAD base/size, mailbox address) validated once at startup.
    A MemoryRegion interface over a window of physical memory, addressed by offset from the region base.
    RAMRegion, an in-process region used by the simulator and tests.
    DevMemRegion (memory_devmem_linux.go), a /dev/mem mapping used on real hardware.

Technical Details:

    32-bit accesses are little-endian via encoding/binary.
    ReadAt/WriteAt follow io.ReaderAt/io.WriterAt and report out-of-range accesses as errors instead of panicking.
    RAMRegion is guarded by a read/write mutex; DevMemRegion relies on the supervisor only writing while the kernel CPU is halted.

*/

package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

const WORD_SIZE = 4

// RegionSpec is a base address and capacity in the kernel CPU's address space.
type RegionSpec struct {
	Base uint32
	Size uint32
}

// End returns the last address inside the region.
func (r RegionSpec) End() uint32 { return r.Base + r.Size - 1 }

// Contains reports whether addr falls inside the region.
func (r RegionSpec) Contains(addr uint32) bool {
	return addr >= r.Base && uint64(addr) < uint64(r.Base)+uint64(r.Size)
}

func (r RegionSpec) overlaps(o RegionSpec) bool {
	return uint64(r.Base) < uint64(o.Base)+uint64(o.Size) && uint64(o.Base) < uint64(r.Base)+uint64(r.Size)
}

func (r RegionSpec) String() string {
	return fmt.Sprintf("0x%08X-0x%08X (%d bytes)", r.Base, r.End(), r.Size)
}

// MemoryLayout is process-wide configuration, fixed at startup.
type MemoryLayout struct {
	Exec        RegionSpec
	Payload     RegionSpec
	MailboxAddr uint32
}

// DefaultLayout returns the stock kernel CPU memory map.
func DefaultLayout() MemoryLayout {
	return MemoryLayout{
		Exec:        RegionSpec{Base: KCPU_EXEC_BASE, Size: KCPU_EXEC_SIZE},
		Payload:     RegionSpec{Base: KCPU_PAYLOAD_BASE, Size: KCPU_PAYLOAD_SIZE},
		MailboxAddr: KCPU_MAILBOX_ADDR,
	}
}

// Validate checks that both regions are non-empty, fit in the 32-bit
// address space and do not overlap.
func (l MemoryLayout) Validate() error {
	for _, r := range []struct {
		name string
		spec RegionSpec
	}{{"EXEC", l.Exec}, {"PAYLOAD", l.Payload}} {
		if r.spec.Size == 0 {
			return fmt.Errorf("%s region has zero size", r.name)
		}
		if uint64(r.spec.Base)+uint64(r.spec.Size) > 1<<32 {
			return fmt.Errorf("%s region 0x%08X+0x%X wraps the address space", r.name, r.spec.Base, r.spec.Size)
		}
	}
	if l.Exec.overlaps(l.Payload) {
		return fmt.Errorf("EXEC region %s overlaps PAYLOAD region %s", l.Exec, l.Payload)
	}
	if l.Exec.Contains(l.MailboxAddr) || l.Payload.Contains(l.MailboxAddr) {
		return fmt.Errorf("mailbox 0x%08X lies inside a kernel region", l.MailboxAddr)
	}
	return nil
}

type MemoryRegion interface {
	/*
		MemoryRegion is a window of physical memory shared with the
		kernel CPU. Offsets are relative to Base().

		ReadAt and WriteAt return an error for any access that does not
		fit inside the region. Read32/Write32 expect an aligned offset
		inside the region.
	*/

	io.ReaderAt
	io.WriterAt

	Base() uint32
	Size() uint32
	Read32(off uint32) uint32
	Write32(off uint32, value uint32)
	Zero() error
	Close() error
}

type RAMRegion struct {
	/*
		RAMRegion implements MemoryRegion over an ordinary byte slice.

		It stands in for physical memory when the kernel CPU is
		simulated, and in tests. Access is synchronised with a
		read/write mutex.
	*/

	base   uint32
	memory []byte
	mutex  sync.RWMutex
}

func NewRAMRegion(spec RegionSpec) *RAMRegion {
	/*
		NewRAMRegion allocates a zeroed region of spec.Size bytes
		mapped at spec.Base.
	*/

	return &RAMRegion{
		base:   spec.Base,
		memory: make([]byte, spec.Size),
	}
}

func (r *RAMRegion) Base() uint32 { return r.base }
func (r *RAMRegion) Size() uint32 { return uint32(len(r.memory)) }

func (r *RAMRegion) ReadAt(p []byte, off int64) (int, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if err := checkRange(off, len(p), len(r.memory)); err != nil {
		return 0, err
	}
	return copy(p, r.memory[off:]), nil
}

func (r *RAMRegion) WriteAt(p []byte, off int64) (int, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := checkRange(off, len(p), len(r.memory)); err != nil {
		return 0, err
	}
	return copy(r.memory[off:], p), nil
}

func (r *RAMRegion) Write32(off uint32, value uint32) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	binary.LittleEndian.PutUint32(r.memory[off:off+WORD_SIZE], value)
}

func (r *RAMRegion) Read32(off uint32) uint32 {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return binary.LittleEndian.Uint32(r.memory[off : off+WORD_SIZE])
}

func (r *RAMRegion) Zero() error {
	/*
		Zero clears the whole region under the write lock.
	*/

	r.mutex.Lock()
	defer r.mutex.Unlock()

	clear(r.memory)
	return nil
}

func (r *RAMRegion) Close() error { return nil }

func checkRange(off int64, n, size int) error {
	if off < 0 || off > int64(size) || int64(n) > int64(size)-off {
		return fmt.Errorf("access 0x%X+%d outside %d byte region", off, n, size)
	}
	return nil
}

// RegionSet holds the regions opened for one memory layout.
type RegionSet struct {
	Exec    MemoryRegion
	Payload MemoryRegion
	Mailbox MemoryRegion
}

// OpenRegion opens one region with the named backend ("ram" or "devmem").
func OpenRegion(spec RegionSpec, backend string) (MemoryRegion, error) {
	switch backend {
	case "", "ram":
		return NewRAMRegion(spec), nil
	case "devmem":
		r, err := OpenDevMemRegion(spec)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", backend)
	}
}

// OpenRegions opens the EXEC, PAYLOAD and mailbox regions of layout.
func OpenRegions(layout MemoryLayout, backend string) (*RegionSet, error) {
	open := func(spec RegionSpec) (MemoryRegion, error) { return OpenRegion(spec, backend) }

	set := &RegionSet{}
	var err error
	if set.Exec, err = open(layout.Exec); err != nil {
		return nil, err
	}
	if set.Payload, err = open(layout.Payload); err != nil {
		set.Close()
		return nil, err
	}
	if set.Mailbox, err = open(RegionSpec{Base: layout.MailboxAddr, Size: WORD_SIZE}); err != nil {
		set.Close()
		return nil, err
	}
	return set, nil
}

// Close releases every opened region.
func (s *RegionSet) Close() error {
	var first error
	for _, r := range []MemoryRegion{s.Exec, s.Payload, s.Mailbox} {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
