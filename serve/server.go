package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	burrow "github.com/Paranoid-AF/burrow"
	"github.com/Paranoid-AF/burrow/audit"
	"github.com/Paranoid-AF/burrow/command"
	"github.com/Paranoid-AF/burrow/frame"
	"github.com/Paranoid-AF/burrow/session"
)

// Recorder receives one entry per processed request.
type Recorder interface {
	Record(e audit.Entry) error
}

// Server accepts TCP connections and serves one session per connection.
type Server struct {
	listener *net.TCPListener
	registry *command.Registry
	recorder Recorder
	logger   *slog.Logger
	reaper   *reaper

	root         string
	maxClients   int
	acceptPoll   time.Duration
	writeTimeout time.Duration
	maxMessage   int

	running  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[string]net.Conn
}

// Option configures a Server.
type Option func(*Server)

// WithRecorder sets the audit recorder. Without one nothing is recorded.
func WithRecorder(r Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer binds cfg.Server.Host:cfg.Server.Port. Port 0 picks a free port.
func NewServer(cfg *burrow.Config, registry *command.Registry, opts ...Option) (*Server, error) {
	sc := cfg.Server

	root := sc.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve session root: %w", err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve session root: %w", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("session root %q is not a directory", root)
	}

	addr := net.JoinHostPort(sc.Host, strconv.Itoa(sc.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener:     ln.(*net.TCPListener),
		registry:     registry,
		logger:       slog.Default(),
		root:         root,
		maxClients:   sc.MaxClients,
		acceptPoll:   sc.AcceptPoll.Duration,
		writeTimeout: sc.WriteTimeout.Duration,
		maxMessage:   sc.MaxMessageBytes,
		conns:        make(map[string]net.Conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reaper = newReaper(sc.IdleTimeout.Duration, s.logger)
	s.running.Store(true)
	return s, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Root returns the initial directory of new sessions.
func (s *Server) Root() string {
	return s.root
}

// ActiveSessions returns the number of connected sessions.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Serve accepts connections until Stop is called. It returns nil after a
// clean stop.
func (s *Server) Serve() error {
	for s.running.Load() {
		if s.acceptPoll > 0 {
			s.listener.SetDeadline(time.Now().Add(s.acceptPoll))
		}
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		s.admit(conn)
	}
	return nil
}

func (s *Server) admit(conn net.Conn) {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		conn.Close()
		return
	}
	if s.maxClients > 0 && len(s.conns) >= s.maxClients {
		s.mu.Unlock()
		s.logger.Warn("rejecting connection, server busy", "remote", conn.RemoteAddr().String(), "max_clients", s.maxClients)
		s.reply(conn, frame.NewWriter(conn), burrow.ErrorResponse("Server busy"), s.logger)
		conn.Close()
		return
	}
	sess := session.New(s.root, conn.RemoteAddr().String())
	s.conns[sess.ID] = conn
	s.wg.Add(1)
	s.mu.Unlock()

	go s.handleConn(sess, conn)
}

func (s *Server) handleConn(sess *session.Session, conn net.Conn) {
	logger := s.logger.With("session", sess.ID, "remote", sess.Remote)
	logger.Info("session started")

	defer func() {
		conn.Close()
		sess.End()
		s.reaper.pause(sess.ID)
		s.mu.Lock()
		delete(s.conns, sess.ID)
		s.mu.Unlock()
		logger.Info("session ended", "requests", sess.Requests())
		s.wg.Done()
	}()

	r := frame.NewReader(conn, s.maxMessage)
	w := frame.NewWriter(conn)

	for {
		idle := s.reaper.track(sess.ID, conn)

		var req burrow.Request
		err := r.Decode(&req)
		if !idle.begin() {
			logger.Debug("request read after idle close, dropping")
			return
		}
		s.reaper.pause(sess.ID)

		var tooLarge *frame.TooLargeError
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			logger.Debug("client closed connection")
			return
		case errors.Is(err, frame.ErrMalformed):
			logger.Warn("invalid message", "error", err)
			if !s.reply(conn, w, burrow.ErrorResponse("Invalid message format"), logger) {
				return
			}
			continue
		case errors.As(err, &tooLarge):
			logger.Warn("message too large", "size", tooLarge.Size, "limit", tooLarge.Limit)
			resp := burrow.ErrorResponse("Message too large: %d bytes (limit %d)", tooLarge.Size, tooLarge.Limit)
			if !s.reply(conn, w, resp, logger) {
				return
			}
			continue
		default:
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				logger.Debug("connection closed", "error", err)
			} else {
				logger.Warn("read failed", "error", err)
			}
			return
		}

		logger.Debug("request", "command", req.Command, "args", req.Args)

		res := s.registry.Run(context.Background(), sess, &req)
		logger.Debug("response", "command", req.Command, "ok", res.OK)

		if !s.reply(conn, w, res.Response(), logger) {
			return
		}
		s.record(sess, &req, res, logger)

		if res.Close {
			logger.Info("session closed by command", "command", req.Command)
			return
		}
	}
}

// reply writes resp under the write deadline and reports success.
func (s *Server) reply(conn net.Conn, w *frame.Writer, resp *burrow.Response, logger *slog.Logger) bool {
	if s.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if err := w.Write(resp); err != nil {
		logger.Warn("failed to write response", "error", err)
		return false
	}
	return true
}

func (s *Server) record(sess *session.Session, req *burrow.Request, res command.Result, logger *slog.Logger) {
	if s.recorder == nil {
		return
	}
	err := s.recorder.Record(audit.Entry{
		Session: sess.ID,
		Remote:  sess.Remote,
		Command: req.Command,
		Args:    req.Args,
		OK:      res.OK,
	})
	if err != nil {
		logger.Error("failed to record audit entry", "error", err)
	}
}

// Stop closes the listener and every open connection, then waits for all
// sessions to finish. It is safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		s.listener.Close()

		s.mu.Lock()
		conns := make([]net.Conn, 0, len(s.conns))
		for _, c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()

		for _, c := range conns {
			c.Close()
		}
		s.wg.Wait()
		s.reaper.stop()
		s.logger.Info("server stopped")
	})
}
