package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
)

func TestConsoleExec(t *testing.T) {
	svc, f := newTestService(t, "", nil)
	con := NewConsole(svc, os.Stdin, &bytes.Buffer{})
	img := writeImage(t, "k.kcpu", runImage(t))

	if out, err := con.Exec([]string{"load", img}); err != nil || out != "loaded\n" {
		t.Fatalf("load = %q, %v", out, err)
	}
	out, err := con.Exec([]string{"find", "run"})
	if err != nil || out != "run = 0x40400010\n" {
		t.Fatalf("find = %q, %v", out, err)
	}
	out, _ = con.Exec([]string{"symbols"})
	if !strings.Contains(out, "+0x000010  run") || !strings.Contains(out, "idle_kernel") {
		t.Fatalf("symbols = %q", out)
	}
	if out, err := con.Exec([]string{"start", "user", "run"}); err != nil || out != "state user\n" {
		t.Fatalf("start = %q, %v", out, err)
	}
	if _, err := con.Exec([]string{"start", "bridge"}); !errors.Is(err, ErrOrdering) {
		t.Fatalf("start bridge while user = %v", err)
	}
	if _, err := con.Exec([]string{"stop"}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if f.sup.State() != STATE_STOPPED {
		t.Fatalf("state %s", f.sup.State())
	}
	if _, err := con.Exec([]string{"load"}); err == nil {
		t.Fatal("load without a file accepted")
	}
	if _, err := con.Exec([]string{"frobnicate"}); err == nil {
		t.Fatal("unknown command accepted")
	}
}

func TestConsoleRunScriptedInput(t *testing.T) {
	svc, f := newTestService(t, "", nil)
	img := writeImage(t, "my image.kcpu", runImage(t))

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	// Quoted path exercises shell-style splitting.
	fmt.Fprintf(w, "load %q\n\nstart idle\nstatus\nquit\nstop\n", img)
	w.Close()
	defer r.Close()

	var out bytes.Buffer
	if err := NewConsole(svc, r, &out).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.sup.State() != STATE_IDLE {
		t.Fatalf("state %s, commands after quit must not run", f.sup.State())
	}
	if !strings.Contains(out.String(), "state:       idle") {
		t.Fatalf("output %q", out.String())
	}
}

func TestConsoleBadQuoting(t *testing.T) {
	svc, _ := newTestService(t, "", nil)
	var out bytes.Buffer
	con := NewConsole(svc, os.Stdin, &out)
	if con.handleLine(&out, `load "unterminated`) {
		t.Fatal("bad quoting ended the console")
	}
	if !strings.Contains(out.String(), "error:") {
		t.Fatalf("output %q", out.String())
	}
}
