package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
	"github.com/sigurn/crc16"
)

// Largest image file accepted from disk.
const IMAGE_FILE_MAX = 64 * 1024 * 1024

var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// imageFingerprint identifies an image in status output and logs.
func imageFingerprint(b []byte) uint16 {
	return crc16.Checksum(b, crcTable)
}

// ReadImageFile reads a kernel image from disk. Intel HEX files (.hex,
// .ihex) are flattened from address 0 with gaps zero filled; anything else
// is taken as a raw image.
func ReadImageFile(path string) ([]byte, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !st.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: not a regular file", path)
	}
	if st.Size() > IMAGE_FILE_MAX {
		return nil, fmt.Errorf("%s: %d bytes exceeds %d", path, st.Size(), IMAGE_FILE_MAX)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex":
		return decodeIntelHex(data)
	default:
		return data, nil
	}
}

func decodeIntelHex(data []byte) ([]byte, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("intel hex: %w", err)
	}

	var end uint64
	for _, seg := range mem.GetDataSegments() {
		if e := uint64(seg.Address) + uint64(len(seg.Data)); e > end {
			end = e
		}
	}
	if end > IMAGE_FILE_MAX {
		return nil, fmt.Errorf("intel hex: image spans %d bytes, limit %d", end, IMAGE_FILE_MAX)
	}
	out := make([]byte, end)
	for _, seg := range mem.GetDataSegments() {
		copy(out[seg.Address:], seg.Data)
	}
	return out, nil
}

// WriteImageFile writes an encoded image, as Intel HEX when path ends in
// .hex or .ihex.
func WriteImageFile(path string, image []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex":
		var buf bytes.Buffer
		if err := encodeIntelHex(&buf, image); err != nil {
			return err
		}
		image = buf.Bytes()
	}
	return os.WriteFile(path, image, 0644)
}

func encodeIntelHex(w io.Writer, image []byte) error {
	mem := gohex.NewMemory()
	if err := mem.AddBinary(0, image); err != nil {
		return fmt.Errorf("intel hex: %w", err)
	}
	return mem.DumpIntelHex(w, 16)
}
