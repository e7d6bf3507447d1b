package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

const consolePrompt = "kcpu> "

// Console is the interactive operator prompt of `serve -console`. Lines
// are split shell-style and dispatched to a ControlService.
type Console struct {
	svc *ControlService
	in  *os.File
	out io.Writer

	mu      sync.Mutex
	restore func()
}

// NewConsole reads from in and writes to out.
func NewConsole(svc *ControlService, in *os.File, out io.Writer) *Console {
	return &Console{svc: svc, in: in, out: out}
}

// Run reads commands until "quit", end of input or ctx is cancelled. On a
// terminal the line editor of x/term is used in raw mode.
func (c *Console) Run(ctx context.Context) error {
	if isatty.IsTerminal(c.in.Fd()) {
		return c.runTerminal(ctx)
	}
	return c.runLines(ctx, bufio.NewScanner(c.in))
}

func (c *Console) runTerminal(ctx context.Context) error {
	fd := int(c.in.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "console: failed to set raw mode: %v\n", err)
		return c.runLines(ctx, bufio.NewScanner(c.in))
	}
	c.mu.Lock()
	c.restore = func() { term.Restore(fd, oldState) }
	c.mu.Unlock()
	defer c.Close()

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{c.in, c.out}, consolePrompt)
	for ctx.Err() == nil {
		line, err := t.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if c.handleLine(t, line) {
			return nil
		}
	}
	return nil
}

// Close puts the terminal back into its original mode. It is safe to call
// while Run is still blocked reading input.
func (c *Console) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.restore != nil {
		c.restore()
		c.restore = nil
	}
}

func (c *Console) runLines(ctx context.Context, sc *bufio.Scanner) error {
	for ctx.Err() == nil && sc.Scan() {
		if c.handleLine(c.out, sc.Text()) {
			return nil
		}
	}
	return sc.Err()
}

// handleLine runs one line and reports whether the console should exit.
func (c *Console) handleLine(w io.Writer, line string) bool {
	args, err := shlex.Split(line)
	if err != nil {
		fmt.Fprintf(w, "error: %v\r\n", err)
		return false
	}
	if len(args) == 0 {
		return false
	}
	if args[0] == "quit" || args[0] == "exit" {
		return true
	}
	out, err := c.Exec(args)
	if out != "" {
		fmt.Fprint(w, strings.ReplaceAll(out, "\n", "\r\n"))
	}
	if err != nil {
		fmt.Fprintf(w, "error: %v\r\n", err)
	}
	return false
}

// Exec runs one already split command and returns its output.
func (c *Console) Exec(args []string) (string, error) {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch args[0] {
	case "help":
		return "load FILE | find NAME | symbols | start bridge|idle|user TARGET | idle | stop | status | reinit | heartbeat | post SYMBOL|ADDR | quit\n", nil
	case "load":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: load FILE")
		}
		if err := c.svc.LoadFile(args[1]); err != nil {
			return "", err
		}
		return "loaded\n", nil
	case "find":
		addr, err := c.svc.Find(arg(1))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s = 0x%08X\n", args[1], addr), nil
	case "symbols":
		var b strings.Builder
		for _, s := range c.svc.Symbols() {
			fmt.Fprintf(&b, "  +0x%06X  %s\n", s.Offset, s.Name)
		}
		return b.String(), nil
	case "start":
		if err := c.svc.Start(arg(1), arg(2)); err != nil {
			return "", err
		}
		return fmt.Sprintf("state %s\n", c.svc.Status().State), nil
	case "idle":
		return "", c.svc.Idle()
	case "stop":
		return "", c.svc.Stop()
	case "reinit":
		return "", c.svc.Reinitialize()
	case "heartbeat":
		c.svc.Heartbeat()
		return "", nil
	case "post":
		if len(args) != 2 {
			return "", fmt.Errorf("usage: post SYMBOL|ADDR")
		}
		ctx, cancel := context.WithTimeout(context.Background(), MAILBOX_POST_MS*time.Millisecond)
		defer cancel()
		addr, err := c.svc.Post(ctx, args[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("posted 0x%08X\n", addr), nil
	case "status":
		return FormatStatus(c.svc.Status()), nil
	default:
		return "", fmt.Errorf("unknown command %q, try help", args[0])
	}
}
