package main

import (
	"bytes"
	"errors"
	"testing"
)

// faultyRegion is a RAMRegion whose writes can be made to fail.
type faultyRegion struct {
	*RAMRegion
	failZero  error
	failWrite error
}

func (r *faultyRegion) Zero() error {
	if r.failZero != nil {
		return r.failZero
	}
	return r.RAMRegion.Zero()
}

func (r *faultyRegion) WriteAt(p []byte, off int64) (int, error) {
	if r.failWrite != nil {
		return 0, r.failWrite
	}
	return r.RAMRegion.WriteAt(p, off)
}

func placeImage(t *testing.T, p *MemoryPlacer, img []byte) error {
	t.Helper()
	hdr, err := ValidateImage(img, len(img), DefaultLayout())
	if err != nil {
		t.Fatalf("ValidateImage: %v", err)
	}
	return p.Place(p.halted(), hdr, img)
}

func TestPlacerCopiesAndZeroes(t *testing.T) {
	layout := DefaultLayout()
	exec := NewRAMRegion(layout.Exec)
	payload := NewRAMRegion(layout.Payload)
	p := NewMemoryPlacer(exec, payload)

	big := bytes.Repeat([]byte{0xFF}, 256)
	if err := placeImage(t, p, mustImage(t, big, big, nil)); err != nil {
		t.Fatalf("first Place: %v", err)
	}

	code := []byte{1, 2, 3, 4}
	if err := placeImage(t, p, mustImage(t, code, []byte{9}, nil)); err != nil {
		t.Fatalf("second Place: %v", err)
	}

	got := make([]byte, 256)
	exec.ReadAt(got, 0)
	if !bytes.Equal(got[:4], code) {
		t.Fatalf("code = %X", got[:4])
	}
	for i, b := range got[4:] {
		if b != 0 {
			t.Fatalf("EXEC byte %d still 0x%02X from the previous image", i+4, b)
		}
	}
	payload.ReadAt(got, 0)
	if got[0] != 9 || got[1] != 0 || got[255] != 0 {
		t.Fatalf("payload not replaced cleanly: %X", got[:4])
	}
}

func TestPlacerRefusesWithoutHalt(t *testing.T) {
	layout := DefaultLayout()
	exec := NewRAMRegion(layout.Exec)
	p := NewMemoryPlacer(exec, NewRAMRegion(layout.Payload))

	img := mustImage(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, nil, nil)
	hdr, _ := ValidateImage(img, len(img), layout)
	err := p.Place(haltedCPU{}, hdr, img)
	if !errors.Is(err, ErrFatal) || !errors.Is(err, errNotHalted) {
		t.Fatalf("Place without halt = %v", err)
	}
	if exec.Read32(0) != 0 {
		t.Fatal("region written without a halted CPU")
	}
}

func TestPlacerRefusesStaleHalt(t *testing.T) {
	layout := DefaultLayout()
	exec := NewRAMRegion(layout.Exec)
	p := NewMemoryPlacer(exec, NewRAMRegion(layout.Payload))

	img := mustImage(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, nil, nil)
	hdr, _ := ValidateImage(img, len(img), layout)

	older := p.halted()
	p.halted()
	if err := p.Place(older, hdr, img); !errors.Is(err, errNotHalted) {
		t.Fatalf("Place with superseded halt = %v", err)
	}

	h := p.halted()
	p.revoke()
	if err := p.Place(h, hdr, img); !errors.Is(err, errNotHalted) {
		t.Fatalf("Place after the CPU ran again = %v", err)
	}
	if exec.Read32(0) != 0 {
		t.Fatal("region written with a stale halt")
	}

	if err := p.Place(p.halted(), hdr, img); err != nil {
		t.Fatalf("Place with current halt: %v", err)
	}
}

func TestPlacerRegionFailuresAreFatal(t *testing.T) {
	layout := DefaultLayout()
	boom := errors.New("bus error")

	for _, tc := range []struct {
		name    string
		exec    *faultyRegion
		payload *faultyRegion
	}{
		{"zero exec", &faultyRegion{RAMRegion: NewRAMRegion(layout.Exec), failZero: boom}, &faultyRegion{RAMRegion: NewRAMRegion(layout.Payload)}},
		{"write exec", &faultyRegion{RAMRegion: NewRAMRegion(layout.Exec), failWrite: boom}, &faultyRegion{RAMRegion: NewRAMRegion(layout.Payload)}},
		{"write payload", &faultyRegion{RAMRegion: NewRAMRegion(layout.Exec)}, &faultyRegion{RAMRegion: NewRAMRegion(layout.Payload), failWrite: boom}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := NewMemoryPlacer(tc.exec, tc.payload)
			err := placeImage(t, p, mustImage(t, []byte{1, 2, 3, 4}, []byte{5}, nil))
			var fatal *FatalError
			if !errors.As(err, &fatal) || !errors.Is(err, boom) {
				t.Fatalf("Place = %v, want fatal wrapping %v", err, boom)
			}
		})
	}
}
