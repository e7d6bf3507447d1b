// runtime_ipc.go - Unix domain socket IPC between the CLI and the running supervisor

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

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"
)

const ipcMaxRequestSize = 4096

type ipcRequest struct {
	Cmd  string `json:"cmd"`
	Path string `json:"path,omitempty"`
	Name string `json:"name,omitempty"`
	Mode string `json:"mode,omitempty"`
	// Target is a symbol name or numeric address for "start user" and "post".
	Target string `json:"target,omitempty"`
}

type ipcResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"` // error class: validation, not-found, ordering, entry, pointer, fatal
	Address uint32 `json:"address,omitempty"`
	State   string `json:"state,omitempty"`
}

// IPCServer listens on a Unix socket and dispatches requests to a
// ControlService.
type IPCServer struct {
	listener net.Listener
	svc      *ControlService
	diag     io.Writer
	done     chan struct{}
	sockPath string
}

func resolveSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "kernelcpu.sock")
	}
	return "/tmp/kernelcpu.sock"
}

// NewIPCServer binds sockPath. A stale socket left by a dead instance is
// removed; a live one is an error.
func NewIPCServer(sockPath string, svc *ControlService, diag io.Writer) (*IPCServer, error) {
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		conn, dialErr := net.DialTimeout("unix", sockPath, 2*time.Second)
		if dialErr != nil {
			os.Remove(sockPath)
			ln, err = net.Listen("unix", sockPath)
			if err != nil {
				return nil, fmt.Errorf("ipc bind failed: %w", err)
			}
		} else {
			conn.Close()
			return nil, fmt.Errorf("another supervisor is already listening on %s", sockPath)
		}
	}
	return &IPCServer{listener: ln, svc: svc, diag: diag, done: make(chan struct{}), sockPath: sockPath}, nil
}

// Serve accepts connections until Stop is called.
func (s *IPCServer) Serve() error {
	defer close(s.done)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Stop closes the listener and waits for Serve to return.
func (s *IPCServer) Stop() {
	s.listener.Close()
	<-s.done
	os.Remove(s.sockPath)
}

func (s *IPCServer) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	buf := make([]byte, ipcMaxRequestSize)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		return
	}

	var req ipcRequest
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, ipcResponse{Status: "err", Message: "invalid json"})
		return
	}
	resp := s.dispatch(req)
	if resp.Status != "ok" {
		fmt.Fprintf(s.diag, "ipc: %s: %s\n", req.Cmd, resp.Message)
	}
	s.writeResponse(conn, resp)
}

func (s *IPCServer) dispatch(req ipcRequest) ipcResponse {
	var err error
	resp := ipcResponse{Status: "ok"}
	switch req.Cmd {
	case "load":
		if !filepath.IsAbs(req.Path) {
			return ipcResponse{Status: "err", Message: "absolute path required"}
		}
		err = s.svc.LoadFile(req.Path)
	case "find":
		resp.Address, err = s.svc.Find(req.Name)
	case "start":
		err = s.svc.Start(req.Mode, req.Target)
	case "idle":
		err = s.svc.Idle()
	case "stop":
		err = s.svc.Stop()
	case "reinit":
		err = s.svc.Reinitialize()
	case "heartbeat":
		s.svc.Heartbeat()
	case "post":
		ctx, cancel := context.WithTimeout(context.Background(), MAILBOX_POST_MS*time.Millisecond)
		resp.Address, err = s.svc.Post(ctx, req.Target)
		cancel()
	case "status":
		resp.Message = FormatStatus(s.svc.Status())
	default:
		return ipcResponse{Status: "err", Message: "unknown command"}
	}
	if err != nil {
		return ipcResponse{Status: "err", Message: err.Error(), Kind: errorKind(err)}
	}
	resp.State = s.svc.Status().State.String()
	return resp
}

func (s *IPCServer) writeResponse(conn net.Conn, resp ipcResponse) {
	data, _ := json.Marshal(resp)
	conn.Write(data)
}

// errorKind classifies an error for clients that cannot use errors.Is.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not-found"
	case errors.Is(err, ErrOrdering):
		return "ordering"
	case errors.Is(err, ErrInvalidEntry):
		return "entry"
	case errors.Is(err, ErrBadPointer):
		return "pointer"
	case errors.Is(err, ErrFatal):
		return "fatal"
	default:
		return ""
	}
}

// sendIPC sends one request to the supervisor listening on sockPath.
func sendIPC(sockPath string, req ipcRequest) (ipcResponse, error) {
	conn, err := net.DialTimeout("unix", sockPath, 10*time.Second)
	if err != nil {
		return ipcResponse{}, fmt.Errorf("cannot connect to supervisor: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	data, _ := json.Marshal(req)
	if _, err := conn.Write(data); err != nil {
		return ipcResponse{}, fmt.Errorf("send failed: %w", err)
	}

	buf := make([]byte, ipcMaxRequestSize)
	n, err := conn.Read(buf)
	if err != nil {
		return ipcResponse{}, fmt.Errorf("read response failed: %w", err)
	}

	var resp ipcResponse
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		return ipcResponse{}, fmt.Errorf("invalid response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("supervisor: %s", resp.Message)
	}
	return resp, nil
}
