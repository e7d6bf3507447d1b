package main

import (
	"encoding/binary"
	"errors"
	"testing"
)

// --- Helpers: build images by hand ---

func mustImage(t *testing.T, code, payload []byte, syms []Symbol) []byte {
	t.Helper()
	img, err := EncodeImage(code, payload, syms)
	if err != nil {
		t.Fatalf("EncodeImage: %v", err)
	}
	return img
}

// rawHeader writes a header with arbitrary fields into a buffer of size n.
func rawHeader(n int, codeLen, payloadLen, symOff, symCount uint32) []byte {
	b := make([]byte, n)
	copy(b, IMAGE_TAG)
	binary.LittleEndian.PutUint16(b[IMAGE_VERSION_OFF:], IMAGE_VERSION)
	binary.LittleEndian.PutUint32(b[IMAGE_CODE_LEN_OFF:], codeLen)
	binary.LittleEndian.PutUint32(b[IMAGE_PAYLOAD_LEN_OFF:], payloadLen)
	binary.LittleEndian.PutUint32(b[IMAGE_SYMTAB_OFF_OFF:], symOff)
	binary.LittleEndian.PutUint32(b[IMAGE_SYMTAB_COUNT_OFF:], symCount)
	return b
}

func putSymbol(b []byte, off int, name string, codeOff uint32) {
	copy(b[off:off+SYMBOL_NAME_SIZE], name)
	binary.LittleEndian.PutUint32(b[off+SYMBOL_OFFSET_OFF:], codeOff)
}

func validationCode(t *testing.T, err error) int {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("%v does not match ErrValidation", err)
	}
	return verr.Code
}

func TestValidateImageAccepts(t *testing.T) {
	code := make([]byte, 64)
	img := mustImage(t, code, []byte{1, 2, 3}, []Symbol{{"run", 0x10}})

	hdr, err := ValidateImage(img, len(img), DefaultLayout())
	if err != nil {
		t.Fatalf("ValidateImage: %v", err)
	}
	if hdr.CodeLen != 64 || hdr.PayloadLen != 3 || hdr.SymtabCount != 1 {
		t.Fatalf("unexpected header %+v", hdr)
	}
	if hdr.SymtabOff != IMAGE_HEADER_SIZE+64+3 {
		t.Fatalf("symtab at 0x%X", hdr.SymtabOff)
	}
}

func TestValidateImageExactCapacity(t *testing.T) {
	layout := DefaultLayout()
	img := mustImage(t, make([]byte, layout.Exec.Size), make([]byte, 16), nil)
	if _, err := ValidateImage(img, len(img), layout); err != nil {
		t.Fatalf("code filling EXEC exactly should be accepted: %v", err)
	}
}

func TestValidateImageRejects(t *testing.T) {
	layout := DefaultLayout()

	badTag := rawHeader(IMAGE_HEADER_SIZE, 0, 0, 0, 0)
	copy(badTag, "ELF\x7f")

	badVersion := rawHeader(IMAGE_HEADER_SIZE, 0, 0, 0, 0)
	binary.LittleEndian.PutUint16(badVersion[IMAGE_VERSION_OFF:], 2)

	// Tag and version both wrong: the tag check comes first.
	badBoth := rawHeader(IMAGE_HEADER_SIZE, 0, 0, 0, 0)
	copy(badBoth, "XXXX")
	binary.LittleEndian.PutUint16(badBoth[IMAGE_VERSION_OFF:], 9)

	// Code and payload both too large: the code check comes first.
	bothLarge := rawHeader(IMAGE_HEADER_SIZE, layout.Exec.Size+1, layout.Payload.Size+1, 0, 0)

	symPastEnd := rawHeader(IMAGE_HEADER_SIZE+8, 8, 0, IMAGE_HEADER_SIZE+8, 1)
	symOverlapsCode := rawHeader(IMAGE_HEADER_SIZE+8+SYMBOL_ENTRY_SIZE, 8, 0, IMAGE_HEADER_SIZE, 1)
	symTooMany := rawHeader(IMAGE_HEADER_SIZE, 0, 0, IMAGE_HEADER_SIZE, SYMBOL_MAX_ENTRIES+1)
	symOffsetOverflow := rawHeader(IMAGE_HEADER_SIZE, 0, 0, 0xFFFFFFF0, 1)

	codePastEnd := rawHeader(IMAGE_HEADER_SIZE+4, 64, 0, 0, 0)

	tests := []struct {
		name   string
		buf    []byte
		length int
		want   int
	}{
		{"empty", nil, 0, IMAGE_ERR_SHORT},
		{"short buffer", make([]byte, 16), 16, IMAGE_ERR_SHORT},
		{"short declared length", rawHeader(64, 0, 0, 0, 0), 16, IMAGE_ERR_SHORT},
		{"negative length", rawHeader(64, 0, 0, 0, 0), -1, IMAGE_ERR_SHORT},
		{"declared beyond buffer", rawHeader(IMAGE_HEADER_SIZE, 0, 0, 0, 0), 64, IMAGE_ERR_TRUNCATED},
		{"bad tag", badTag, len(badTag), IMAGE_ERR_BAD_TAG},
		{"bad version", badVersion, len(badVersion), IMAGE_ERR_BAD_VERSION},
		{"tag before version", badBoth, len(badBoth), IMAGE_ERR_BAD_TAG},
		{"code too large", rawHeader(IMAGE_HEADER_SIZE, layout.Exec.Size+1, 0, 0, 0), IMAGE_HEADER_SIZE, IMAGE_ERR_CODE_TOO_LARGE},
		{"payload too large", rawHeader(IMAGE_HEADER_SIZE, 0, layout.Payload.Size+1, 0, 0), IMAGE_HEADER_SIZE, IMAGE_ERR_PAYLOAD_TOO_LARGE},
		{"code before payload", bothLarge, len(bothLarge), IMAGE_ERR_CODE_TOO_LARGE},
		{"symtab past end", symPastEnd, len(symPastEnd), IMAGE_ERR_SYMTAB_BOUNDS},
		{"symtab overlaps code", symOverlapsCode, len(symOverlapsCode), IMAGE_ERR_SYMTAB_BOUNDS},
		{"symtab count", symTooMany, len(symTooMany), IMAGE_ERR_SYMTAB_BOUNDS},
		{"symtab offset overflow", symOffsetOverflow, len(symOffsetOverflow), IMAGE_ERR_SYMTAB_BOUNDS},
		{"code past end", codePastEnd, len(codePastEnd), IMAGE_ERR_LENGTH},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hdr, err := ValidateImage(tt.buf, tt.length, layout)
			if err == nil {
				t.Fatalf("accepted, header %+v", hdr)
			}
			if got := validationCode(t, err); got != tt.want {
				t.Fatalf("code = %s, want %s (%v)", imageErrName(got), imageErrName(tt.want), err)
			}
		})
	}
}

func TestValidateImageUsesDeclaredLength(t *testing.T) {
	img := mustImage(t, make([]byte, 32), nil, nil)
	buf := append(img, make([]byte, 100)...)

	if _, err := ValidateImage(buf, len(img), DefaultLayout()); err != nil {
		t.Fatalf("trailing bytes beyond the declared length must be ignored: %v", err)
	}
	if _, err := ValidateImage(buf, len(img)-1, DefaultLayout()); err == nil {
		t.Fatal("declared length cutting the code section was accepted")
	}
}

func TestDecodeSymbols(t *testing.T) {
	n := IMAGE_HEADER_SIZE + 16 + 3*SYMBOL_ENTRY_SIZE
	b := rawHeader(n, 16, 0, IMAGE_HEADER_SIZE+16, 3)
	base := IMAGE_HEADER_SIZE + 16
	putSymbol(b, base, "a", 0)
	putSymbol(b, base+SYMBOL_ENTRY_SIZE, "exactly_twenty_eight_chars__", 4)
	putSymbol(b, base+2*SYMBOL_ENTRY_SIZE, "c", 15)

	hdr, err := ValidateImage(b, n, DefaultLayout())
	if err != nil {
		t.Fatalf("ValidateImage: %v", err)
	}
	syms, err := decodeSymbols(hdr, b)
	if err != nil {
		t.Fatalf("decodeSymbols: %v", err)
	}
	if len(syms) != 3 {
		t.Fatalf("got %d symbols", len(syms))
	}
	if syms[1].Name != "exactly_twenty_eight_chars__" || syms[1].Offset != 4 {
		t.Fatalf("unterminated 28 byte name decoded as %+v", syms[1])
	}
}

func TestDecodeSymbolsRejects(t *testing.T) {
	tests := []struct {
		name    string
		symName string
		off     uint32
	}{
		{"empty name", "", 0},
		{"offset at code end", "x", 16},
		{"offset far outside", "x", 0xFFFFFFFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := IMAGE_HEADER_SIZE + 16 + SYMBOL_ENTRY_SIZE
			b := rawHeader(n, 16, 0, IMAGE_HEADER_SIZE+16, 1)
			putSymbol(b, IMAGE_HEADER_SIZE+16, tt.symName, tt.off)
			hdr, err := ValidateImage(b, n, DefaultLayout())
			if err != nil {
				t.Fatalf("ValidateImage: %v", err)
			}
			_, err = decodeSymbols(hdr, b)
			if got := validationCode(t, err); got != IMAGE_ERR_BAD_SYMBOL {
				t.Fatalf("code = %s", imageErrName(got))
			}
		})
	}
}

func TestEncodeImageRejectsBadSymbols(t *testing.T) {
	if _, err := EncodeImage(make([]byte, 4), nil, []Symbol{{"x", 4}}); err == nil {
		t.Fatal("offset outside code accepted")
	}
	if _, err := EncodeImage(make([]byte, 4), nil, []Symbol{{"this_name_is_longer_than_28_bytes", 0}}); err == nil {
		t.Fatal("overlong name accepted")
	}
	if _, err := EncodeImage(make([]byte, 4), nil, []Symbol{{"", 0}}); err == nil {
		t.Fatal("empty name accepted")
	}
}
