// main.go - Entry point for the kernelcpu supervisor daemon and its CLI

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
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"
)

func boilerPlate(w io.Writer) {
	fmt.Fprintf(w, "\033[38;2;255;20;147mkernelcpu %s\033[0m - kernel CPU image loader and execution supervisor\n", Version)
	fmt.Fprintln(w, "(c) 2024 - 2026 Zayn Otley")
	fmt.Fprintln(w, "https://github.com/IntuitionAmiga/IntuitionEngine")
	fmt.Fprintln(w, "License: GPLv3 or later")
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: kernelcpu <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Daemon:")
	fmt.Fprintln(w, "  serve [-config FILE] [-console] [-script FILE.lua]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Client (talks to a running serve over its socket):")
	fmt.Fprintln(w, "  load FILE | find NAME | start bridge|idle|user SYMBOL|ADDR")
	fmt.Fprintln(w, "  idle | stop | status | heartbeat | reinit | post SYMBOL|ADDR")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Image tools:")
	fmt.Fprintln(w, "  pack -o OUT -code FILE [-payload FILE] [-sym NAME=OFF ...]")
	fmt.Fprintln(w, "  inspect [-config FILE] IMAGE")
	fmt.Fprintln(w, "  version")
}

func main() {
	stderr := colorable.NewColorableStderr()
	os.Exit(run(os.Args[1:], os.Stdout, stderr))
}

// run dispatches a subcommand and returns the process exit status.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "serve":
		return cmdServe(rest, stdout, stderr)
	case "load", "find", "start", "idle", "stop", "status", "heartbeat", "reinit", "post":
		return cmdClient(cmd, rest, stdout, stderr)
	case "pack":
		return cmdPack(rest, stdout, stderr)
	case "inspect":
		return cmdInspect(rest, stdout, stderr)
	case "version", "-version", "--version":
		printFeatures(stdout)
		return 0
	case "help", "-h", "-help", "--help":
		printUsage(stdout)
		return 0
	default:
		errorf(stderr, "unknown command %q", cmd)
		printUsage(stderr)
		return 2
	}
}

var colorDiag = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

func errorf(w io.Writer, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if colorDiag {
		fmt.Fprintf(w, "\033[31mError:\033[0m %s\n", msg)
		return
	}
	fmt.Fprintf(w, "Error: %s\n", msg)
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parseFlags returns -1 to continue, otherwise the exit status.
func parseFlags(fs *flag.FlagSet, args []string) int {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	return -1
}

func loadConfigFlag(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	return LoadConfig(path)
}

func cmdServe(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("serve", stderr)
	configPath := fs.String("config", "", "YAML configuration file")
	console := fs.Bool("console", false, "run the interactive console on stdin")
	script := fs.String("script", "", "Lua script to run after startup")
	memory := fs.String("memory", "", "memory backend: ram or devmem")
	control := fs.String("control", "", "control backend: sim, csr or serial")
	port := fs.String("port", "", "serial port for the serial control backend")
	socket := fs.String("socket", "", "IPC socket path")
	watchdog := fs.Duration("watchdog", 0, "user kernel heartbeat timeout, 0 disables")
	if rc := parseFlags(fs, args); rc >= 0 {
		return rc
	}

	cfg, err := loadConfigFlag(*configPath)
	if err != nil {
		errorf(stderr, "%v", err)
		return 1
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "memory":
			cfg.MemoryBackend = *memory
		case "control":
			cfg.ControlBackend = *control
		case "port":
			cfg.SerialPort = *port
		case "socket":
			cfg.Socket = *socket
		case "watchdog":
			cfg.Watchdog = *watchdog
		}
	})
	if err := cfg.Validate(); err != nil {
		errorf(stderr, "%v", err)
		return 1
	}

	boilerPlate(stdout)
	if err := serve(cfg, *console, *script, stdout, stderr); err != nil {
		errorf(stderr, "%v", err)
		return 1
	}
	return 0
}

// serve owns the kernel CPU until interrupted.
func serve(cfg Config, console bool, script string, stdout, diag io.Writer) error {
	lock := flock.New(cfg.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", cfg.LockFile, err)
	}
	if !locked {
		return fmt.Errorf("another supervisor owns the kernel CPU (%s)", cfg.LockFile)
	}
	defer lock.Unlock()

	regions, err := OpenRegions(cfg.Layout, cfg.MemoryBackend)
	if err != nil {
		return err
	}
	defer regions.Close()

	cpu, closer, err := openControl(cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	sup, err := NewSupervisor(SupervisorConfig{
		Layout:      cfg.Layout,
		CPU:         cpu,
		Exec:        regions.Exec,
		Payload:     regions.Payload,
		Mailbox:     NewMailbox(regions.Mailbox, 0),
		BridgeEntry: cfg.BridgeEntry,
		IdleSymbol:  cfg.IdleSymbol,
		Diag:        diag,
	})
	if err != nil {
		return err
	}

	var svc *ControlService
	var wd *Watchdog
	if cfg.Watchdog > 0 {
		wd = NewWatchdog(cfg.Watchdog, func() { svc.WatchdogExpired() })
	}
	svc = NewControlService(sup, cfg.IdleImage, wd, diag)

	srv, err := NewIPCServer(cfg.Socket, svc, diag)
	if err != nil {
		return err
	}
	fmt.Fprintf(diag, "ipc: listening on %s\n", cfg.Socket)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.IdleImage != "" {
		if err := svc.Idle(); err != nil {
			fmt.Fprintf(diag, "kloader: idle kernel not started: %v\n", err)
		}
	}
	if wd != nil {
		wd.Start()
		defer wd.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Serve)
	g.Go(func() error {
		return svc.WatchMailbox(gctx, MAILBOX_WATCH_MS*time.Millisecond)
	})
	g.Go(func() error {
		<-gctx.Done()
		srv.Stop()
		return nil
	})
	if script != "" {
		g.Go(func() error {
			if err := NewScriptHost(svc, stdout).RunFile(gctx, script); err != nil {
				fmt.Fprintf(diag, "script: %v\n", err)
			}
			return nil
		})
	}
	if console {
		con := NewConsole(svc, os.Stdin, stdout)
		defer con.Close()
		// Not part of the group: a blocked stdin read must not hold up shutdown.
		go func() {
			defer cancel()
			if err := con.Run(gctx); err != nil {
				fmt.Fprintf(diag, "console: %v\n", err)
			}
		}()
	}

	err = g.Wait()
	if serr := sup.Stop(); serr != nil && err == nil {
		err = serr
	}
	return err
}

// openControl builds the configured control backend. The closer, when not
// nil, must be closed after the supervisor is done with the CPU.
func openControl(cfg Config) (KernelCPU, io.Closer, error) {
	switch cfg.ControlBackend {
	case "sim":
		return NewSimKernelCPU(nil), nil, nil
	case "csr":
		reg, err := OpenRegion(RegionSpec{Base: cfg.CSRBase, Size: KCPU_CSR_SIZE}, cfg.MemoryBackend)
		if err != nil {
			return nil, nil, err
		}
		cpu, err := NewCSRKernelCPU(reg)
		if err != nil {
			reg.Close()
			return nil, nil, err
		}
		return cpu, reg, nil
	case "serial":
		cpu, err := OpenSerialKernelCPU(cfg.SerialPort, cfg.SerialBaud, cfg.SerialTimeout)
		if err != nil {
			return nil, nil, err
		}
		return cpu, cpu, nil
	default:
		return nil, nil, fmt.Errorf("unknown control backend %q", cfg.ControlBackend)
	}
}

func cmdClient(cmd string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(cmd, stderr)
	socket := fs.String("socket", resolveSocketPath(), "IPC socket path")
	if rc := parseFlags(fs, args); rc >= 0 {
		return rc
	}

	req, err := clientRequest(cmd, fs.Args())
	if err != nil {
		errorf(stderr, "%v", err)
		return 2
	}
	resp, err := sendIPC(*socket, req)
	if err != nil {
		if resp.Kind != "" {
			errorf(stderr, "%v (%s)", err, resp.Kind)
		} else {
			errorf(stderr, "%v", err)
		}
		return 1
	}

	switch cmd {
	case "find", "post":
		fmt.Fprintf(stdout, "0x%08X\n", resp.Address)
	case "status":
		fmt.Fprint(stdout, resp.Message)
	case "heartbeat":
	default:
		fmt.Fprintf(stdout, "state: %s\n", resp.State)
	}
	return 0
}

// clientRequest builds the IPC request for a client command line.
func clientRequest(cmd string, args []string) (ipcRequest, error) {
	req := ipcRequest{Cmd: cmd}
	want := 0
	switch cmd {
	case "load":
		want = 1
		if len(args) == 1 {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return req, err
			}
			req.Path = abs
		}
	case "find":
		want = 1
		if len(args) == 1 {
			req.Name = args[0]
		}
	case "post":
		want = 1
		if len(args) == 1 {
			req.Target = args[0]
		}
	case "start":
		if len(args) == 0 {
			return req, fmt.Errorf("usage: start bridge|idle|user SYMBOL|ADDR")
		}
		req.Mode = strings.ToLower(args[0])
		want = 1
		if req.Mode == "user" {
			want = 2
			if len(args) == 2 {
				req.Target = args[1]
			}
		}
	}
	if len(args) != want {
		return req, fmt.Errorf("%s: expected %d argument(s), got %d", cmd, want, len(args))
	}
	return req, nil
}

// symbolFlags collects repeated -sym NAME=OFF flags.
type symbolFlags []Symbol

func (s *symbolFlags) String() string {
	parts := make([]string, len(*s))
	for i, sym := range *s {
		parts[i] = fmt.Sprintf("%s=0x%X", sym.Name, sym.Offset)
	}
	return strings.Join(parts, ",")
}

func (s *symbolFlags) Set(v string) error {
	name, off, ok := strings.Cut(v, "=")
	if !ok || name == "" {
		return fmt.Errorf("symbol %q: want NAME=OFFSET", v)
	}
	n, err := strconv.ParseUint(off, 0, 32)
	if err != nil {
		return fmt.Errorf("symbol %q: %w", v, err)
	}
	*s = append(*s, Symbol{Name: name, Offset: uint32(n)})
	return nil
}

func cmdPack(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("pack", stderr)
	out := fs.String("o", "", "output image (.kcpu, .bin, .hex)")
	codePath := fs.String("code", "", "code section file")
	payloadPath := fs.String("payload", "", "payload section file")
	var syms symbolFlags
	fs.Var(&syms, "sym", "symbol NAME=OFFSET into code, repeatable")
	if rc := parseFlags(fs, args); rc >= 0 {
		return rc
	}
	if *out == "" || *codePath == "" {
		errorf(stderr, "pack needs -o and -code")
		return 2
	}

	code, err := os.ReadFile(*codePath)
	if err != nil {
		errorf(stderr, "%v", err)
		return 1
	}
	var payload []byte
	if *payloadPath != "" {
		if payload, err = os.ReadFile(*payloadPath); err != nil {
			errorf(stderr, "%v", err)
			return 1
		}
	}
	image, err := EncodeImage(code, payload, syms)
	if err != nil {
		errorf(stderr, "%v", err)
		return 1
	}
	if err := WriteImageFile(*out, image); err != nil {
		errorf(stderr, "%v", err)
		return 1
	}
	fmt.Fprintf(stdout, "%s: %d bytes, code %d, payload %d, %d symbols, crc %04X\n",
		*out, len(image), len(code), len(payload), len(syms), imageFingerprint(image))
	return 0
}

func cmdInspect(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("inspect", stderr)
	configPath := fs.String("config", "", "YAML configuration file providing the layout")
	if rc := parseFlags(fs, args); rc >= 0 {
		return rc
	}
	if fs.NArg() != 1 {
		errorf(stderr, "inspect needs exactly one image file")
		return 2
	}
	cfg, err := loadConfigFlag(*configPath)
	if err != nil {
		errorf(stderr, "%v", err)
		return 1
	}

	data, err := ReadImageFile(fs.Arg(0))
	if err != nil {
		errorf(stderr, "%v", err)
		return 1
	}
	if err := inspectImage(stdout, data, cfg.Layout); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			errorf(stderr, "invalid image (%s): %v", imageErrName(verr.Code), err)
		} else {
			errorf(stderr, "%v", err)
		}
		return 1
	}
	return 0
}

func inspectImage(w io.Writer, data []byte, layout MemoryLayout) error {
	hdr, err := ValidateImage(data, len(data), layout)
	if err != nil {
		return err
	}
	syms, err := BuildSymbolTable(hdr, data, layout.Exec.Base)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "version:  %d\n", hdr.Version)
	fmt.Fprintf(w, "flags:    0x%04X\n", hdr.Flags)
	fmt.Fprintf(w, "code:     %d bytes -> %s\n", hdr.CodeLen, layout.Exec)
	fmt.Fprintf(w, "payload:  %d bytes -> %s\n", hdr.PayloadLen, layout.Payload)
	fmt.Fprintf(w, "symtab:   %d entries at 0x%X\n", hdr.SymtabCount, hdr.SymtabOff)
	fmt.Fprintf(w, "crc16:    %04X\n", imageFingerprint(data))
	for _, s := range syms.Symbols() {
		fmt.Fprintf(w, "  0x%08X  %s\n", layout.Exec.Base+s.Offset, s.Name)
	}
	return nil
}
