package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestScriptDrivesSupervisor(t *testing.T) {
	svc, f := newTestService(t, "", nil)
	img := writeImage(t, "k.kcpu", runImage(t))
	var out bytes.Buffer

	src := fmt.Sprintf(`
assert(kcpu.load(%q))
local addr = kcpu.find("run")
assert(addr == 0x40400010, "find returned " .. tostring(addr))
assert(kcpu.start_user("run"))
kcpu.print(kcpu.state())
local st = kcpu.status()
kcpu.print(st.symbols, st.code_len)
assert(kcpu.stop())
kcpu.print(kcpu.state())
`, img)

	if err := NewScriptHost(svc, &out).RunString(context.Background(), src); err != nil {
		t.Fatalf("script: %v", err)
	}
	if got := out.String(); got != "user\n2\t64\nstopped\n" {
		t.Fatalf("script output %q", got)
	}
	if runs := f.cpu.Runs(); len(runs) != 1 || runs[0] != 0x40400010 {
		t.Fatalf("runs %X", runs)
	}
}

func TestScriptErrorsAreValues(t *testing.T) {
	svc, _ := newTestService(t, "", nil)
	var out bytes.Buffer

	src := `
local ok, err = kcpu.find("missing")
kcpu.print(ok, err)
ok, err = kcpu.start_user(0x40400000)
kcpu.print(ok, err)
assert(kcpu.start_bridge())
ok, err = kcpu.start_idle()
kcpu.print(ok)
`
	if err := NewScriptHost(svc, &out).RunString(context.Background(), src); err != nil {
		t.Fatalf("script: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("output %q", out.String())
	}
	if !strings.HasPrefix(lines[0], "nil\t") || !strings.Contains(lines[0], "not found") {
		t.Errorf("find line %q", lines[0])
	}
	if !strings.Contains(lines[1], "not allowed") {
		t.Errorf("start_user line %q", lines[1])
	}
	if lines[2] != "nil" {
		t.Errorf("start_idle while bridge line %q", lines[2])
	}
}

func TestScriptSleepCancelled(t *testing.T) {
	svc, _ := newTestService(t, "", nil)
	path := filepath.Join(t.TempDir(), "sleep.lua")
	os.WriteFile(path, []byte("kcpu.sleep(60000)\n"), 0644)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := NewScriptHost(svc, &bytes.Buffer{}).RunFile(ctx, path); err == nil {
		t.Fatal("cancelled script reported success")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("sleep ignored cancellation")
	}
}

func TestScriptSyntaxError(t *testing.T) {
	svc, _ := newTestService(t, "", nil)
	if err := NewScriptHost(svc, &bytes.Buffer{}).RunString(context.Background(), "kcpu.load("); err == nil {
		t.Fatal("syntax error not reported")
	}
}
