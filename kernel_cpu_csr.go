package main

import "fmt"

// CSRKernelCPU drives the kernel CPU through its reset and boot-address
// control registers. The register block is any MemoryRegion, normally a
// /dev/mem mapping of KCPU_CSR_BASE.
type CSRKernelCPU struct {
	csr MemoryRegion
}

func NewCSRKernelCPU(csr MemoryRegion) (*CSRKernelCPU, error) {
	if csr.Size() < KCPU_CSR_SIZE {
		return nil, fmt.Errorf("CSR block is %d bytes, need %d", csr.Size(), KCPU_CSR_SIZE)
	}
	return &CSRKernelCPU{csr: csr}, nil
}

func (c *CSRKernelCPU) Halt() error {
	return c.assertReset()
}

// Reset holds the CPU in reset; asserting reset is what clears its state.
func (c *CSRKernelCPU) Reset() error {
	if err := c.assertReset(); err != nil {
		return err
	}
	c.csr.Write32(KCPU_CSR_BOOT_ADDR, 0)
	return nil
}

func (c *CSRKernelCPU) Run(entry uint32) error {
	if c.csr.Read32(KCPU_CSR_RESET) != 1 {
		return fmt.Errorf("run 0x%08X requested while reset is released", entry)
	}
	c.csr.Write32(KCPU_CSR_BOOT_ADDR, entry)
	if got := c.csr.Read32(KCPU_CSR_BOOT_ADDR); got != entry {
		return fmt.Errorf("boot address read back 0x%08X, wrote 0x%08X", got, entry)
	}
	c.csr.Write32(KCPU_CSR_RESET, 0)
	return nil
}

func (c *CSRKernelCPU) Running() bool {
	return c.csr.Read32(KCPU_CSR_RESET) == 0
}

func (c *CSRKernelCPU) assertReset() error {
	c.csr.Write32(KCPU_CSR_RESET, 1)
	if got := c.csr.Read32(KCPU_CSR_RESET); got != 1 {
		return fmt.Errorf("reset register read back %d after assert", got)
	}
	return nil
}
