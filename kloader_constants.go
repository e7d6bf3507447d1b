// kloader_constants.go - Kernel CPU memory map, image format and status codes

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

// Default kernel CPU memory map. The EXEC region ends where the PAYLOAD
// region begins.
const (
	KCPU_EXEC_BASE = 0x40400000
	KCPU_EXEC_SIZE = 0x00004000 // 16KB
	KCPU_EXEC_END  = KCPU_EXEC_BASE + KCPU_EXEC_SIZE - 1

	KCPU_PAYLOAD_BASE = 0x40404000
	KCPU_PAYLOAD_SIZE = 0x00100000 // 1MB
	KCPU_PAYLOAD_END  = KCPU_PAYLOAD_BASE + KCPU_PAYLOAD_SIZE - 1

	KCPU_MAILBOX_ADDR = 0xD0000000

	// Built-in bridge firmware, resident outside the EXEC region.
	KCPU_BRIDGE_ENTRY = 0x40000000
)

// Kernel CPU control/status registers (relative to the CSR block base).
const (
	KCPU_CSR_BASE = 0xE0004000

	KCPU_CSR_RESET     = 0x00 // 1 = held in reset, 0 = running
	KCPU_CSR_BOOT_ADDR = 0x04 // fetch address used when reset is released
	KCPU_CSR_SIZE      = 0x08
)

// Kernel image header layout (little-endian).
const (
	IMAGE_TAG     = "KCPU"
	IMAGE_VERSION = 1

	IMAGE_TAG_OFF          = 0x00
	IMAGE_VERSION_OFF      = 0x04
	IMAGE_FLAGS_OFF        = 0x06
	IMAGE_CODE_LEN_OFF     = 0x08
	IMAGE_PAYLOAD_LEN_OFF  = 0x0C
	IMAGE_SYMTAB_OFF_OFF   = 0x10
	IMAGE_SYMTAB_COUNT_OFF = 0x14
	IMAGE_HEADER_SIZE      = 0x20

	// Symbol entry: NUL-padded name followed by a code offset.
	SYMBOL_NAME_SIZE   = 28
	SYMBOL_OFFSET_OFF  = SYMBOL_NAME_SIZE
	SYMBOL_ENTRY_SIZE  = 32
	SYMBOL_MAX_ENTRIES = 0x10000
)

// Image validation failures, in the order the checks run.
const (
	IMAGE_ERR_NONE = iota
	IMAGE_ERR_SHORT
	IMAGE_ERR_TRUNCATED
	IMAGE_ERR_BAD_TAG
	IMAGE_ERR_BAD_VERSION
	IMAGE_ERR_CODE_TOO_LARGE
	IMAGE_ERR_PAYLOAD_TOO_LARGE
	IMAGE_ERR_SYMTAB_BOUNDS
	IMAGE_ERR_LENGTH
	IMAGE_ERR_BAD_SYMBOL
)

// Execution states.
const (
	STATE_STOPPED ExecState = iota
	STATE_BRIDGE
	STATE_IDLE
	STATE_USER
)

// Symbol the idle kernel image exports its entry point under.
const DEFAULT_IDLE_SYMBOL = "idle_kernel"

// Control backend timing.
const (
	KCPU_HALT_TIMEOUT_MS   = 2000
	KCPU_SERIAL_TIMEOUT_MS = 500
	MAILBOX_POLL_US        = 100
	MAILBOX_WATCH_MS       = 10
	MAILBOX_POST_MS        = 1000
)
