package main

// KernelCPU is the control-signal interface of the kernel CPU. Each call
// is synchronous and bounded; an error means the control path itself is
// broken and the supervisor treats it as fatal.
type KernelCPU interface {
	// Halt stops instruction fetch, whatever the CPU is executing.
	Halt() error
	// Reset clears the CPU's registers and stack state. Only called
	// after Halt; the CPU stays halted.
	Reset() error
	// Run releases the CPU to fetch from entry.
	Run(entry uint32) error
	// Running reports whether the CPU is out of reset.
	Running() bool
}
