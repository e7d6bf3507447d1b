// kernel_image.go - Kernel image header decoding, validation and encoding

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

/*
kernel_image.go - Kernel Image Format

A kernel image is the unit the compiler hands to the loader: a fixed 32 byte
header, the code section, an optional payload section and a table of
exported symbols. All fields are little-endian and decoded field by field
with a bounds check before every read; nothing is cast in place.

    0x00  tag "KCPU"
    0x04  version (uint16)
    0x06  flags (uint16, reserved)
    0x08  code length
    0x0C  payload length
    0x10  symbol table offset
    0x14  symbol table entry count
    0x18  reserved
    0x20  code, then payload

Each symbol entry is 32 bytes: a 28 byte NUL-padded name and the entry
offset within the code section.
*/

package main

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// ImageHeader is the decoded header of a validated kernel image.
type ImageHeader struct {
	Version     uint16
	Flags       uint16
	CodeLen     uint32
	PayloadLen  uint32
	SymtabOff   uint32
	SymtabCount uint32
	Length      int // declared buffer length
}

// CodeOff returns the buffer offset of the code section.
func (h *ImageHeader) CodeOff() uint32 { return IMAGE_HEADER_SIZE }

// PayloadOff returns the buffer offset of the payload section.
func (h *ImageHeader) PayloadOff() uint32 { return IMAGE_HEADER_SIZE + h.CodeLen }

// SymtabSize returns the size in bytes of the symbol table.
func (h *ImageHeader) SymtabSize() uint64 {
	return uint64(h.SymtabCount) * SYMBOL_ENTRY_SIZE
}

// Symbol is one exported name and its offset within the code section.
type Symbol struct {
	Name   string
	Offset uint32
}

// ValidateImage checks buf[:length] against the image format and the
// region capacities of layout. The first failing check determines the
// returned *ValidationError. It has no side effects.
func ValidateImage(buf []byte, length int, layout MemoryLayout) (*ImageHeader, error) {
	if length < IMAGE_HEADER_SIZE || len(buf) < IMAGE_HEADER_SIZE {
		return nil, invalidImage(IMAGE_ERR_SHORT, "%d bytes, need at least %d", max(min(length, len(buf)), 0), IMAGE_HEADER_SIZE)
	}
	if length > len(buf) {
		return nil, invalidImage(IMAGE_ERR_TRUNCATED, "declared %d bytes, buffer holds %d", length, len(buf))
	}

	if tag := string(buf[IMAGE_TAG_OFF : IMAGE_TAG_OFF+4]); tag != IMAGE_TAG {
		return nil, invalidImage(IMAGE_ERR_BAD_TAG, "%q", tag)
	}
	hdr := &ImageHeader{
		Version:     binary.LittleEndian.Uint16(buf[IMAGE_VERSION_OFF:]),
		Flags:       binary.LittleEndian.Uint16(buf[IMAGE_FLAGS_OFF:]),
		CodeLen:     binary.LittleEndian.Uint32(buf[IMAGE_CODE_LEN_OFF:]),
		PayloadLen:  binary.LittleEndian.Uint32(buf[IMAGE_PAYLOAD_LEN_OFF:]),
		SymtabOff:   binary.LittleEndian.Uint32(buf[IMAGE_SYMTAB_OFF_OFF:]),
		SymtabCount: binary.LittleEndian.Uint32(buf[IMAGE_SYMTAB_COUNT_OFF:]),
		Length:      length,
	}
	if hdr.Version != IMAGE_VERSION {
		return nil, invalidImage(IMAGE_ERR_BAD_VERSION, "version %d", hdr.Version)
	}

	if hdr.CodeLen > layout.Exec.Size {
		return nil, invalidImage(IMAGE_ERR_CODE_TOO_LARGE, "%d bytes, EXEC region holds %d", hdr.CodeLen, layout.Exec.Size)
	}
	if hdr.PayloadLen > layout.Payload.Size {
		return nil, invalidImage(IMAGE_ERR_PAYLOAD_TOO_LARGE, "%d bytes, PAYLOAD region holds %d", hdr.PayloadLen, layout.Payload.Size)
	}

	// 64-bit arithmetic: offset + count*entry cannot overflow here.
	symEnd := uint64(hdr.SymtabOff) + hdr.SymtabSize()
	if hdr.SymtabCount > SYMBOL_MAX_ENTRIES || symEnd > uint64(length) {
		return nil, invalidImage(IMAGE_ERR_SYMTAB_BOUNDS, "table 0x%X+%d entries exceeds %d bytes", hdr.SymtabOff, hdr.SymtabCount, length)
	}
	sectionsEnd := uint64(IMAGE_HEADER_SIZE) + uint64(hdr.CodeLen) + uint64(hdr.PayloadLen)
	if hdr.SymtabCount > 0 && uint64(hdr.SymtabOff) < sectionsEnd {
		return nil, invalidImage(IMAGE_ERR_SYMTAB_BOUNDS, "table at 0x%X overlaps sections ending at 0x%X", hdr.SymtabOff, sectionsEnd)
	}

	if need := sectionsEnd + hdr.SymtabSize(); uint64(length) < need {
		return nil, invalidImage(IMAGE_ERR_LENGTH, "declared %d bytes, sections need %d", length, need)
	}
	return hdr, nil
}

// decodeSymbols reads the symbol table of a validated image.
func decodeSymbols(hdr *ImageHeader, buf []byte) ([]Symbol, error) {
	syms := make([]Symbol, 0, hdr.SymtabCount)
	for i := uint32(0); i < hdr.SymtabCount; i++ {
		off := uint64(hdr.SymtabOff) + uint64(i)*SYMBOL_ENTRY_SIZE
		if off+SYMBOL_ENTRY_SIZE > uint64(len(buf)) {
			return nil, invalidImage(IMAGE_ERR_SYMTAB_BOUNDS, "entry %d beyond buffer", i)
		}
		entry := buf[off : off+SYMBOL_ENTRY_SIZE]
		name := parsePaddedName(entry[:SYMBOL_NAME_SIZE])
		if name == "" {
			return nil, invalidImage(IMAGE_ERR_BAD_SYMBOL, "entry %d has an empty name", i)
		}
		offset := binary.LittleEndian.Uint32(entry[SYMBOL_OFFSET_OFF:])
		if offset >= hdr.CodeLen {
			return nil, invalidImage(IMAGE_ERR_BAD_SYMBOL, "%q at 0x%X outside %d byte code section", name, offset, hdr.CodeLen)
		}
		syms = append(syms, Symbol{Name: name, Offset: offset})
	}
	return syms, nil
}

func parsePaddedName(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// EncodeImage builds a version 1 image from its sections. Symbols are
// written in the order given; the table follows the payload.
func EncodeImage(code, payload []byte, symbols []Symbol) ([]byte, error) {
	for _, s := range symbols {
		if s.Name == "" || len(s.Name) > SYMBOL_NAME_SIZE {
			return nil, fmt.Errorf("symbol name %q must be 1-%d bytes", s.Name, SYMBOL_NAME_SIZE)
		}
		if int(s.Offset) >= len(code) {
			return nil, fmt.Errorf("symbol %q offset 0x%X outside %d byte code section", s.Name, s.Offset, len(code))
		}
	}
	symOff := IMAGE_HEADER_SIZE + len(code) + len(payload)
	out := make([]byte, symOff+len(symbols)*SYMBOL_ENTRY_SIZE)

	copy(out[IMAGE_TAG_OFF:], IMAGE_TAG)
	binary.LittleEndian.PutUint16(out[IMAGE_VERSION_OFF:], IMAGE_VERSION)
	binary.LittleEndian.PutUint32(out[IMAGE_CODE_LEN_OFF:], uint32(len(code)))
	binary.LittleEndian.PutUint32(out[IMAGE_PAYLOAD_LEN_OFF:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(out[IMAGE_SYMTAB_OFF_OFF:], uint32(symOff))
	binary.LittleEndian.PutUint32(out[IMAGE_SYMTAB_COUNT_OFF:], uint32(len(symbols)))

	copy(out[IMAGE_HEADER_SIZE:], code)
	copy(out[IMAGE_HEADER_SIZE+len(code):], payload)
	for i, s := range symbols {
		entry := out[symOff+i*SYMBOL_ENTRY_SIZE:]
		copy(entry[:SYMBOL_NAME_SIZE], s.Name)
		binary.LittleEndian.PutUint32(entry[SYMBOL_OFFSET_OFF:], s.Offset)
	}
	return out, nil
}

// sortSymbols orders symbols by offset, then name.
func sortSymbols(syms []Symbol) {
	sort.Slice(syms, func(i, j int) bool {
		if syms[i].Offset != syms[j].Offset {
			return syms[i].Offset < syms[j].Offset
		}
		return syms[i].Name < syms[j].Name
	})
}
