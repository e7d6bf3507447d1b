package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(nil)
	if err != nil {
		t.Fatalf("ParseConfig(empty): %v", err)
	}
	if cfg.Layout != DefaultLayout() {
		t.Fatalf("layout %+v", cfg.Layout)
	}
	if cfg.MemoryBackend != "ram" || cfg.ControlBackend != "sim" || cfg.IdleSymbol != DEFAULT_IDLE_SYMBOL {
		t.Fatalf("defaults %+v", cfg)
	}
	if cfg.BridgeEntry != KCPU_BRIDGE_ENTRY || cfg.Watchdog != 0 {
		t.Fatalf("defaults %+v", cfg)
	}
}

func TestParseConfigFull(t *testing.T) {
	data := []byte(`
layout:
  exec_base: 0x20000000
  exec_size: 32KB
  payload_base: 0x20008000
  payload_size: 0x10000
  mailbox: 0x30000000
memory: ram
control:
  backend: serial
  port: /dev/ttyUSB0
  baud: 921600
  timeout: 250ms
bridge_entry: 0x1000
idle_symbol: spin
idle_image: /lib/kcpu/idle.kcpu
watchdog: 2s
socket: /run/kcpu.sock
lock_file: /run/kcpu.lock
`)
	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	want := MemoryLayout{
		Exec:        RegionSpec{Base: 0x20000000, Size: 32 * 1024},
		Payload:     RegionSpec{Base: 0x20008000, Size: 0x10000},
		MailboxAddr: 0x30000000,
	}
	if cfg.Layout != want {
		t.Fatalf("layout %+v, want %+v", cfg.Layout, want)
	}
	if cfg.ControlBackend != "serial" || cfg.SerialPort != "/dev/ttyUSB0" || cfg.SerialBaud != 921600 {
		t.Fatalf("control %+v", cfg)
	}
	if cfg.SerialTimeout != 250*time.Millisecond || cfg.Watchdog != 2*time.Second {
		t.Fatalf("durations %v %v", cfg.SerialTimeout, cfg.Watchdog)
	}
	if cfg.BridgeEntry != 0x1000 || cfg.IdleSymbol != "spin" || cfg.IdleImage != "/lib/kcpu/idle.kcpu" {
		t.Fatalf("kernel settings %+v", cfg)
	}
	if cfg.Socket != "/run/kcpu.sock" || cfg.LockFile != "/run/kcpu.lock" {
		t.Fatalf("paths %q %q", cfg.Socket, cfg.LockFile)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "layout: [", "config"},
		{"bad address", "layout:\n  exec_base: nowhere\n", "layout.exec_base"},
		{"bad size", "layout:\n  payload_size: lots\n", "layout.payload_size"},
		{"overlap", "layout:\n  exec_size: 0x8000\n", "overlaps"},
		{"memory backend", "memory: flash\n", "memory backend"},
		{"control backend", "control:\n  backend: jtag\n", "control backend"},
		{"serial without port", "control:\n  backend: serial\n", "control.port"},
		{"csr without devmem", "control:\n  backend: csr\n", "devmem"},
		{"bad watchdog", "watchdog: soon\n", "watchdog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("ParseConfig = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kcpu.yaml")
	if err := os.WriteFile(path, []byte("idle_symbol: wait_loop\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.IdleSymbol != "wait_loop" {
		t.Fatalf("idle symbol %q", cfg.IdleSymbol)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{"4096", 4096},
		{"0x4000", 0x4000},
		{"16KB", 16 * 1024},
		{"1MB", 1024 * 1024},
	}
	for _, tt := range tests {
		got, err := parseSize(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("parseSize(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
	if _, err := parseSize("8GB"); err == nil {
		t.Error("8GB fits in 32 bits?")
	}
}
