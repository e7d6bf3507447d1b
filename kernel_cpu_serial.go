package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialKernelCPU forwards control signals to a board controller over a
// UART. Every command is one line and is answered with "OK" or
// "ERR <reason>":
//
//	H            halt
//	R            reset
//	G <hex addr> run from address
type SerialKernelCPU struct {
	mu      sync.Mutex
	port    io.ReadWriter
	closer  io.Closer
	running bool
}

// OpenSerialKernelCPU opens the controller port at 8N1 with a read timeout
// bounding every reply.
func OpenSerialKernelCPU(name string, baud int, timeout time.Duration) (*SerialKernelCPU, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", name, err)
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: set timeout on %s: %w", name, err)
	}
	c := newSerialKernelCPU(port)
	c.closer = port
	return c, nil
}

func newSerialKernelCPU(port io.ReadWriter) *SerialKernelCPU {
	return &SerialKernelCPU{port: port}
}

func (c *SerialKernelCPU) Halt() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.command("H"); err != nil {
		return err
	}
	c.running = false
	return nil
}

func (c *SerialKernelCPU) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.command("R"); err != nil {
		return err
	}
	c.running = false
	return nil
}

func (c *SerialKernelCPU) Run(entry uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.command(fmt.Sprintf("G %08X", entry)); err != nil {
		return err
	}
	c.running = true
	return nil
}

func (c *SerialKernelCPU) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *SerialKernelCPU) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func (c *SerialKernelCPU) command(cmd string) error {
	if _, err := io.WriteString(c.port, cmd+"\n"); err != nil {
		return fmt.Errorf("serial: send %q: %w", cmd, err)
	}
	line, err := c.readLine()
	if err != nil {
		return fmt.Errorf("serial: reply to %q: %w", cmd, err)
	}
	reply := strings.TrimSpace(line)
	switch {
	case reply == "OK":
		return nil
	case strings.HasPrefix(reply, "ERR"):
		return fmt.Errorf("serial: controller rejected %q: %s", cmd, strings.TrimSpace(strings.TrimPrefix(reply, "ERR")))
	default:
		return fmt.Errorf("serial: unexpected reply %q to %q", reply, cmd)
	}
}

// readLine reads up to a newline. The port returns 0 bytes and no error
// when its read timeout expires.
func (c *SerialKernelCPU) readLine() (string, error) {
	var line []byte
	buf := make([]byte, 1)
	for len(line) < 256 {
		n, err := c.port.Read(buf)
		if n == 0 {
			if err == nil {
				return "", fmt.Errorf("timed out after %q", line)
			}
			return "", err
		}
		if buf[0] == '\n' {
			return string(line), nil
		}
		line = append(line, buf[0])
	}
	return "", fmt.Errorf("reply line too long")
}
