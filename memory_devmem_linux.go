//go:build linux

package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

const devMemPath = "/dev/mem"

func init() {
	compiledFeatures = append(compiledFeatures, "memory:devmem")
}

// DevMemRegion maps a physical address window through /dev/mem. The
// mapping is page aligned; window is the slice covering the region itself.
type DevMemRegion struct {
	spec    RegionSpec
	mapping []byte
	window  []byte
	closed  atomic.Bool
}

// OpenDevMemRegion maps spec read/write and shared, with O_SYNC so the
// kernel maps the range uncached.
func OpenDevMemRegion(spec RegionSpec) (*DevMemRegion, error) {
	f, err := os.OpenFile(devMemPath, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("devmem: %w", err)
	}
	defer f.Close()

	pageSize := uint64(os.Getpagesize())
	start := uint64(spec.Base) &^ (pageSize - 1)
	delta := uint64(spec.Base) - start
	length := (delta + uint64(spec.Size) + pageSize - 1) &^ (pageSize - 1)

	mapping, err := unix.Mmap(int(f.Fd()), int64(start), int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("devmem: mmap 0x%08X+0x%X: %w", start, length, err)
	}
	return &DevMemRegion{
		spec:    spec,
		mapping: mapping,
		window:  mapping[delta : delta+uint64(spec.Size)],
	}, nil
}

func (r *DevMemRegion) Base() uint32 { return r.spec.Base }
func (r *DevMemRegion) Size() uint32 { return r.spec.Size }

func (r *DevMemRegion) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), len(r.window)); err != nil {
		return 0, err
	}
	return copy(p, r.window[off:]), nil
}

func (r *DevMemRegion) WriteAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), len(r.window)); err != nil {
		return 0, err
	}
	return copy(r.window[off:], p), nil
}

func (r *DevMemRegion) Read32(off uint32) uint32 {
	return binary.LittleEndian.Uint32(r.window[off : off+WORD_SIZE])
}

func (r *DevMemRegion) Write32(off uint32, value uint32) {
	binary.LittleEndian.PutUint32(r.window[off:off+WORD_SIZE], value)
}

func (r *DevMemRegion) Zero() error {
	clear(r.window)
	return nil
}

// Close unmaps the region. Further access panics.
func (r *DevMemRegion) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Munmap(r.mapping)
}
