// Package ipc serves the local control socket used by theravox-ctl.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	log "log/slog"

	"theravox/internal/control"
	"theravox/internal/domain"
)

const DefaultSocketPath = "/tmp/theravox.sock"

type Request struct {
	Cmd string `json:"cmd"`
	Arg string `json:"arg,omitempty"`
}

type Response struct {
	OK     bool           `json:"ok"`
	Error  string         `json:"error,omitempty"`
	Status *domain.Status `json:"status,omitempty"`
}

type Server struct {
	path    string
	handler control.Handler
	timeout time.Duration
}

func NewServer(path string, handler control.Handler) *Server {
	if path == "" {
		path = DefaultSocketPath
	}
	return &Server{path: path, handler: handler, timeout: 5 * time.Second}
}

// Serve accepts connections until ctx is done. Each connection carries one
// request and one response.
func (s *Server) Serve(ctx context.Context) error {
	os.Remove(s.path)

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Info("Control socket listening", "path", s.path)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	defer os.Remove(s.path)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn("Accept failed", "err", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(s.timeout))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		log.Debug("Bad control request", "err", err)
		_ = json.NewEncoder(conn).Encode(Response{Error: "malformed request"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp := Response{OK: true}
	st, err := s.handler(ctx, req.Cmd, req.Arg)
	if err != nil {
		log.Info("Control command failed", "cmd", req.Cmd, "arg", req.Arg, "err", err)
		resp = Response{Error: err.Error()}
	} else {
		resp.Status = &st
	}
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		log.Debug("Failed to write control response", "err", err)
	}
}

// SendCommand sends one request to the daemon at path and waits for the
// response.
func SendCommand(ctx context.Context, path string, req Request) (Response, error) {
	if path == "" {
		path = DefaultSocketPath
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Response{}, fmt.Errorf("dial %s: %w", path, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("send: %w", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}
