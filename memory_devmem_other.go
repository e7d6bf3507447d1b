//go:build !linux

package main

import (
	"fmt"
	"runtime"
)

// OpenDevMemRegion is only available on Linux.
func OpenDevMemRegion(spec RegionSpec) (MemoryRegion, error) {
	return nil, fmt.Errorf("devmem: physical memory mapping not supported on %s", runtime.GOOS)
}
