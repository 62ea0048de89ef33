// Package ipc is the daemon's unix-socket control channel. Each connection
// carries one JSON request and one JSON reply.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"alfred/internal/session"
)

const (
	CmdStop        = "stop"
	CmdGreet       = "greet"
	CmdHear        = "hear"
	CmdHearFile    = "hear-file"
	CmdStatus      = "status"
	CmdCloseVisual = "close-visual"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingArg     = errors.New("missing argument")
	ErrNoTranscriber  = errors.New("speech recognition disabled")
)

type Request struct {
	Cmd string `json:"cmd"`
	Arg string `json:"arg,omitempty"`
}

type Reply struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Text  string          `json:"text,omitempty"`
	State json.RawMessage `json:"state,omitempty"`
}

type Controls interface {
	Hear(text string)
	Stop()
	Greet()
	CloseVisual()
	State() session.State
}

type FileTranscriber interface {
	TranscribeFile(ctx context.Context, path string) (string, error)
}

type Server struct {
	path  string
	ctl   Controls
	files FileTranscriber
}

// NewServer builds a server on path. files may be nil, in which case
// hear-file is refused.
func NewServer(path string, ctl Controls, files FileTranscriber) *Server {
	return &Server{path: path, ctl: ctl, files: files}
}

// Serve accepts connections until ctx is done, then removes the socket.
func (s *Server) Serve(ctx context.Context) error {
	os.Remove(s.path)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", s.path)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.path, err)
	}
	log.Info("Control socket ready", "path", s.path)

	var wg sync.WaitGroup
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	defer func() {
		wg.Wait()
		os.Remove(s.path)
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("Failed to accept", "err", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		log.Warn("Bad control request", "err", err)
		return
	}

	reply := s.Handle(ctx, req)
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		log.Warn("Failed to write reply", "cmd", req.Cmd, "err", err)
	}
}

// Handle executes one request.
func (s *Server) Handle(ctx context.Context, req Request) Reply {
	log.Debug("Control", "cmd", req.Cmd, "arg", req.Arg)

	var text string
	switch req.Cmd {
	case CmdStop:
		s.ctl.Stop()
	case CmdGreet:
		s.ctl.Greet()
	case CmdCloseVisual:
		s.ctl.CloseVisual()
	case CmdStatus:
	case CmdHear:
		text = strings.TrimSpace(req.Arg)
		if text == "" {
			return fail(fmt.Errorf("%s: %w", req.Cmd, ErrMissingArg))
		}
		s.ctl.Hear(text)
	case CmdHearFile:
		if req.Arg == "" {
			return fail(fmt.Errorf("%s: %w", req.Cmd, ErrMissingArg))
		}
		if s.files == nil {
			return fail(ErrNoTranscriber)
		}
		var err error
		if text, err = s.files.TranscribeFile(ctx, req.Arg); err != nil {
			return fail(err)
		}
		s.ctl.Hear(text)
	default:
		return fail(fmt.Errorf("%w: %q", ErrUnknownCommand, req.Cmd))
	}

	state, err := json.Marshal(s.ctl.State())
	if err != nil {
		return fail(err)
	}
	return Reply{OK: true, Text: text, State: state}
}

func fail(err error) Reply {
	return Reply{Error: err.Error()}
}

// Send delivers req to the daemon at path and waits for its reply.
func Send(ctx context.Context, path string, req Request) (Reply, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(time.Minute))
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Reply{}, fmt.Errorf("send: %w", err)
	}
	var reply Reply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}
