package main

import (
	"context"
	"fmt"
	"io"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// ScriptHost runs Lua automation against a ControlService. Scripts see a
// global table "kcpu"; functions that can fail return nil plus an error
// string, so scripts can do `local ok, err = kcpu.load(path)`.
type ScriptHost struct {
	svc *ControlService
	out io.Writer
}

func NewScriptHost(svc *ControlService, out io.Writer) *ScriptHost {
	return &ScriptHost{svc: svc, out: out}
}

// RunFile executes a Lua file. Cancelling ctx aborts the script.
func (h *ScriptHost) RunFile(ctx context.Context, path string) error {
	L := h.newState(ctx)
	defer L.Close()
	if err := L.DoFile(path); err != nil {
		return fmt.Errorf("script %s: %w", path, err)
	}
	return nil
}

// RunString executes Lua source.
func (h *ScriptHost) RunString(ctx context.Context, src string) error {
	L := h.newState(ctx)
	defer L.Close()
	return L.DoString(src)
}

func (h *ScriptHost) newState(ctx context.Context) *lua.LState {
	L := lua.NewState()
	L.SetContext(ctx)

	mod := L.NewTable()
	fns := map[string]lua.LGFunction{
		"load":         h.luaLoad,
		"find":         h.luaFind,
		"start_bridge": h.luaStart("bridge"),
		"start_idle":   h.luaStart("idle"),
		"start_user":   h.luaStartUser,
		"idle":         h.luaResult(h.svc.Idle),
		"stop":         h.luaResult(h.svc.Stop),
		"reinit":       h.luaResult(h.svc.Reinitialize),
		"state":        h.luaState,
		"status":       h.luaStatus,
		"heartbeat":    h.luaHeartbeat,
		"sleep":        h.luaSleep,
		"print":        h.luaPrint,
	}
	for name, fn := range fns {
		L.SetField(mod, name, L.NewFunction(fn))
	}
	L.SetGlobal("kcpu", mod)
	return L
}

// pushResult pushes true, or nil and the error message.
func pushResult(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

func (h *ScriptHost) luaLoad(L *lua.LState) int {
	return pushResult(L, h.svc.LoadFile(L.CheckString(1)))
}

func (h *ScriptHost) luaFind(L *lua.LState) int {
	addr, err := h.svc.Find(L.CheckString(1))
	if err != nil {
		return pushResult(L, err)
	}
	L.Push(lua.LNumber(addr))
	return 1
}

func (h *ScriptHost) luaStart(mode string) lua.LGFunction {
	return func(L *lua.LState) int {
		return pushResult(L, h.svc.Start(mode, ""))
	}
}

// luaStartUser accepts a symbol name or a numeric address.
func (h *ScriptHost) luaStartUser(L *lua.LState) int {
	v := L.CheckAny(1)
	var target string
	switch v.Type() {
	case lua.LTNumber:
		target = fmt.Sprintf("%d", uint32(lua.LVAsNumber(v)))
	case lua.LTString:
		target = v.String()
	default:
		L.ArgError(1, "symbol name or address expected")
		return 0
	}
	return pushResult(L, h.svc.Start("user", target))
}

func (h *ScriptHost) luaResult(fn func() error) lua.LGFunction {
	return func(L *lua.LState) int {
		return pushResult(L, fn())
	}
}

func (h *ScriptHost) luaState(L *lua.LState) int {
	L.Push(lua.LString(h.svc.Status().State.String()))
	return 1
}

func (h *ScriptHost) luaStatus(L *lua.LState) int {
	st := h.svc.Status()
	t := L.NewTable()
	L.SetField(t, "state", lua.LString(st.State.String()))
	L.SetField(t, "entry", lua.LNumber(st.Entry))
	L.SetField(t, "running", lua.LBool(st.CPURunning))
	L.SetField(t, "untrusted", lua.LBool(st.Untrusted))
	L.SetField(t, "transitions", lua.LNumber(st.Transitions))
	if st.Image != nil {
		L.SetField(t, "code_len", lua.LNumber(st.Image.CodeLen))
		L.SetField(t, "payload_len", lua.LNumber(st.Image.PayloadLen))
		L.SetField(t, "symbols", lua.LNumber(st.Image.Symbols))
		L.SetField(t, "crc", lua.LNumber(st.Image.CRC))
	}
	L.Push(t)
	return 1
}

func (h *ScriptHost) luaHeartbeat(L *lua.LState) int {
	h.svc.Heartbeat()
	return 0
}

// luaSleep takes milliseconds.
func (h *ScriptHost) luaSleep(L *lua.LState) int {
	d := time.Duration(L.CheckInt64(1)) * time.Millisecond
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-L.Context().Done():
		L.RaiseError("interrupted")
	}
	return 0
}

func (h *ScriptHost) luaPrint(L *lua.LState) int {
	for i := 1; i <= L.GetTop(); i++ {
		if i > 1 {
			fmt.Fprint(h.out, "\t")
		}
		fmt.Fprint(h.out, L.Get(i).String())
	}
	fmt.Fprintln(h.out)
	return 0
}
