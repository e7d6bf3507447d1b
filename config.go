package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v2"
)

// fileConfig is the on-disk YAML form. Addresses are strings so hex can be
// written naturally; sizes accept units ("16KB", "1MB").
type fileConfig struct {
	Layout struct {
		ExecBase    string `yaml:"exec_base"`
		ExecSize    string `yaml:"exec_size"`
		PayloadBase string `yaml:"payload_base"`
		PayloadSize string `yaml:"payload_size"`
		Mailbox     string `yaml:"mailbox"`
	} `yaml:"layout"`
	Memory  string `yaml:"memory"`
	Control struct {
		Backend string `yaml:"backend"`
		CSRBase string `yaml:"csr_base"`
		Port    string `yaml:"port"`
		Baud    int    `yaml:"baud"`
		Timeout string `yaml:"timeout"`
	} `yaml:"control"`
	BridgeEntry string `yaml:"bridge_entry"`
	IdleSymbol  string `yaml:"idle_symbol"`
	IdleImage   string `yaml:"idle_image"`
	Watchdog    string `yaml:"watchdog"`
	Socket      string `yaml:"socket"`
	LockFile    string `yaml:"lock_file"`
}

// Config is the resolved daemon configuration.
type Config struct {
	Layout         MemoryLayout
	MemoryBackend  string // "ram" or "devmem"
	ControlBackend string // "sim", "csr" or "serial"
	CSRBase        uint32
	SerialPort     string
	SerialBaud     int
	SerialTimeout  time.Duration
	BridgeEntry    uint32
	IdleSymbol     string
	IdleImage      string
	Watchdog       time.Duration // 0 disables
	Socket         string
	LockFile       string
}

// DefaultConfig runs everything in-process against the stock memory map.
func DefaultConfig() Config {
	return Config{
		Layout:         DefaultLayout(),
		MemoryBackend:  "ram",
		ControlBackend: "sim",
		CSRBase:        KCPU_CSR_BASE,
		SerialBaud:     115200,
		SerialTimeout:  KCPU_SERIAL_TIMEOUT_MS * time.Millisecond,
		BridgeEntry:    KCPU_BRIDGE_ENTRY,
		IdleSymbol:     DEFAULT_IDLE_SYMBOL,
		Socket:         resolveSocketPath(),
		LockFile:       filepath.Join(os.TempDir(), "kernelcpu.lock"),
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML over the defaults and validates the layout.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	var err error
	set := func(dst *uint32, s, field string, parse func(string) (uint32, error)) {
		if err != nil || s == "" {
			return
		}
		v, perr := parse(s)
		if perr != nil {
			err = fmt.Errorf("config: %s: %w", field, perr)
			return
		}
		*dst = v
	}
	set(&cfg.Layout.Exec.Base, fc.Layout.ExecBase, "layout.exec_base", parseAddress)
	set(&cfg.Layout.Exec.Size, fc.Layout.ExecSize, "layout.exec_size", parseSize)
	set(&cfg.Layout.Payload.Base, fc.Layout.PayloadBase, "layout.payload_base", parseAddress)
	set(&cfg.Layout.Payload.Size, fc.Layout.PayloadSize, "layout.payload_size", parseSize)
	set(&cfg.Layout.MailboxAddr, fc.Layout.Mailbox, "layout.mailbox", parseAddress)
	set(&cfg.CSRBase, fc.Control.CSRBase, "control.csr_base", parseAddress)
	set(&cfg.BridgeEntry, fc.BridgeEntry, "bridge_entry", parseAddress)
	if err != nil {
		return Config{}, err
	}

	if fc.Memory != "" {
		cfg.MemoryBackend = fc.Memory
	}
	if fc.Control.Backend != "" {
		cfg.ControlBackend = fc.Control.Backend
	}
	if fc.Control.Port != "" {
		cfg.SerialPort = fc.Control.Port
	}
	if fc.Control.Baud != 0 {
		cfg.SerialBaud = fc.Control.Baud
	}
	if fc.Control.Timeout != "" {
		if cfg.SerialTimeout, err = time.ParseDuration(fc.Control.Timeout); err != nil {
			return Config{}, fmt.Errorf("config: control.timeout: %w", err)
		}
	}
	if fc.Watchdog != "" {
		if cfg.Watchdog, err = time.ParseDuration(fc.Watchdog); err != nil {
			return Config{}, fmt.Errorf("config: watchdog: %w", err)
		}
	}
	if fc.IdleSymbol != "" {
		cfg.IdleSymbol = fc.IdleSymbol
	}
	cfg.IdleImage = fc.IdleImage
	if fc.Socket != "" {
		cfg.Socket = fc.Socket
	}
	if fc.LockFile != "" {
		cfg.LockFile = fc.LockFile
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the layout and backend names.
func (c Config) Validate() error {
	if err := c.Layout.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.MemoryBackend {
	case "ram", "devmem":
	default:
		return fmt.Errorf("config: unknown memory backend %q", c.MemoryBackend)
	}
	switch c.ControlBackend {
	case "sim", "csr":
	case "serial":
		if c.SerialPort == "" {
			return fmt.Errorf("config: serial control backend needs control.port")
		}
	default:
		return fmt.Errorf("config: unknown control backend %q", c.ControlBackend)
	}
	if c.ControlBackend == "csr" && c.MemoryBackend != "devmem" {
		return fmt.Errorf("config: csr control backend needs the devmem memory backend")
	}
	return nil
}

func parseAddress(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// parseSize accepts a plain byte count or a size with a unit.
func parseSize(s string) (uint32, error) {
	if v, err := strconv.ParseUint(s, 0, 32); err == nil {
		return uint32(v), nil
	}
	b, err := bytesize.Parse(s)
	if err != nil {
		return 0, err
	}
	if b < 0 || float64(b) > float64(^uint32(0)) {
		return 0, fmt.Errorf("%s out of range", s)
	}
	return uint32(b), nil
}
