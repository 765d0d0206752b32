package main

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	burrow "github.com/Paranoid-AF/burrow"
	"github.com/Paranoid-AF/burrow/audit"
	"github.com/Paranoid-AF/burrow/builtin"
	"github.com/Paranoid-AF/burrow/command"
	"github.com/Paranoid-AF/burrow/frame"
)

func testConfig(t *testing.T) *burrow.Config {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := burrow.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.Root = root
	cfg.Server.AcceptPoll.Duration = 50 * time.Millisecond
	return cfg
}

func testRegistry() *command.Registry {
	reg := command.NewRegistry()
	builtin.Register(reg, builtin.Options{})
	return reg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg *burrow.Config, opts ...Option) *Server {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	srv, err := NewServer(cfg, testRegistry(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Stop)
	go srv.Serve()
	return srv
}

// testConn is a raw framed connection to the server.
type testConn struct {
	t    *testing.T
	conn net.Conn
	r    *frame.Reader
	w    *frame.Writer
}

func dial(t *testing.T, srv *Server) *testConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return &testConn{t: t, conn: conn, r: frame.NewReader(conn, 0), w: frame.NewWriter(conn)}
}

func (c *testConn) send(name string, args ...string) *burrow.Response {
	c.t.Helper()
	if err := c.w.Write(burrow.Request{Command: name, Args: args}); err != nil {
		c.t.Fatal(err)
	}
	return c.recv()
}

func (c *testConn) recv() *burrow.Response {
	c.t.Helper()
	var resp burrow.Response
	if err := c.r.Decode(&resp); err != nil {
		c.t.Fatalf("reading response: %v", err)
	}
	return &resp
}

// waitClosed asserts that the server closes the connection.
func (c *testConn) waitClosed() {
	c.t.Helper()
	if _, err := c.r.Next(); err != io.EOF {
		c.t.Fatalf("expected EOF, got %v", err)
	}
}

func TestDispatchLoopBasicCommands(t *testing.T) {
	srv := newTestServer(t, nil)
	c := dial(t, srv)

	resp := c.send("pwd")
	if !resp.OK() || resp.Message != srv.Root() {
		t.Errorf("pwd = %+v, want %q", resp, srv.Root())
	}

	resp = c.send("bogus")
	if resp.OK() || resp.Message != "Unknown command: bogus" {
		t.Errorf("bogus = %+v", resp)
	}

	// The session survives an unknown command.
	resp = c.send("ls")
	if !resp.OK() {
		t.Errorf("ls after bogus failed: %+v", resp)
	}
}

func TestDispatchLoopSurvivesHandlerPanic(t *testing.T) {
	reg := testRegistry()
	reg.Register(command.New("boom", "boom", func(context.Context, *command.Invocation) command.Result {
		panic("kaboom")
	}))
	srv, err := NewServer(testConfig(t), reg, WithLogger(discardLogger()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(srv.Stop)
	go srv.Serve()

	c := dial(t, srv)
	resp := c.send("boom")
	if resp.OK() || resp.Message != "Error processing command: kaboom" {
		t.Errorf("boom = %+v", resp)
	}
	resp = c.send("pwd")
	if !resp.OK() || resp.Message != srv.Root() {
		t.Errorf("pwd after panic = %+v, want %q", resp, srv.Root())
	}
}

func TestDispatchLoopMalformedMessageKeepsSession(t *testing.T) {
	srv := newTestServer(t, nil)
	c := dial(t, srv)

	if _, err := c.conn.Write(frame.Append(nil, []byte("{not json"))); err != nil {
		t.Fatal(err)
	}
	resp := c.recv()
	if resp.OK() || resp.Message != "Invalid message format" {
		t.Errorf("malformed = %+v", resp)
	}

	if resp := c.send("pwd"); !resp.OK() {
		t.Errorf("pwd after malformed failed: %+v", resp)
	}
}

func TestDispatchLoopOversizeMessageIsDrained(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.MaxMessageBytes = 1024
	srv := newTestServer(t, cfg)
	c := dial(t, srv)

	big := make([]byte, 4096)
	for i := range big {
		big[i] = 'x'
	}
	if _, err := c.conn.Write(frame.Append(nil, big)); err != nil {
		t.Fatal(err)
	}
	resp := c.recv()
	if resp.OK() || resp.Message != "Message too large: 4096 bytes (limit 1024)" {
		t.Errorf("oversize = %+v", resp)
	}

	if resp := c.send("pwd"); !resp.OK() {
		t.Errorf("pwd after oversize failed: %+v", resp)
	}
}

func TestDispatchLoopTruncatedFrameEndsSession(t *testing.T) {
	srv := newTestServer(t, nil)
	c := dial(t, srv)

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], 100)
	c.conn.Write(hdr[:])
	c.conn.Write([]byte(`{"command":`))
	c.conn.(*net.TCPConn).CloseWrite()

	c.waitClosed()
	waitFor(t, func() bool { return srv.ActiveSessions() == 0 })
}

func TestExitClosesOnlyItsConnection(t *testing.T) {
	srv := newTestServer(t, nil)
	a := dial(t, srv)
	b := dial(t, srv)

	resp := a.send("exit")
	if !resp.OK() || resp.Message != "Goodbye" {
		t.Errorf("exit = %+v", resp)
	}
	a.waitClosed()

	if resp := b.send("pwd"); !resp.OK() {
		t.Errorf("other session broken after exit: %+v", resp)
	}
	c := dial(t, srv)
	if resp := c.send("pwd"); !resp.OK() {
		t.Errorf("new session after exit failed: %+v", resp)
	}
}

func TestMaxClientsRejectsWithBusy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.MaxClients = 1
	srv := newTestServer(t, cfg)

	a := dial(t, srv)
	a.send("pwd")

	b := dial(t, srv)
	resp := b.recv()
	if resp.OK() || resp.Message != "Server busy" {
		t.Errorf("second client = %+v, want Server busy", resp)
	}
	b.waitClosed()

	a.send("exit")
	a.waitClosed()
	waitFor(t, func() bool { return srv.ActiveSessions() == 0 })

	c := dial(t, srv)
	if resp := c.send("pwd"); !resp.OK() {
		t.Errorf("client after slot freed = %+v", resp)
	}
}

func TestStopIsIdempotentAndClosesIdleConnections(t *testing.T) {
	cfg := testConfig(t)
	srv, err := NewServer(cfg, testRegistry(), WithLogger(discardLogger()))
	if err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	a := dial(t, srv)
	a.send("pwd")
	b := dial(t, srv)
	b.send("pwd")

	stopped := make(chan struct{})
	go func() {
		srv.Stop()
		srv.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return with idle connections open")
	}
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve returned %v after Stop", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}

	a.waitClosed()
	b.waitClosed()
	if n := srv.ActiveSessions(); n != 0 {
		t.Errorf("expected 0 active sessions, got %d", n)
	}
	if _, err := net.DialTimeout("tcp", srv.Addr().String(), 200*time.Millisecond); err == nil {
		t.Error("expected dial to fail after Stop")
	}
}

func TestIdleSessionIsReaped(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.IdleTimeout.Duration = 100 * time.Millisecond
	srv := newTestServer(t, cfg)

	c := dial(t, srv)
	c.send("pwd")
	c.waitClosed()
	waitFor(t, func() bool { return srv.ActiveSessions() == 0 })
}

func TestAuditRecordsEachRequest(t *testing.T) {
	log, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	srv := newTestServer(t, nil, WithRecorder(log))
	c := dial(t, srv)
	c.send("ls")
	c.send("bogus", "x")
	c.send("exit")
	c.waitClosed()
	waitFor(t, func() bool { return srv.ActiveSessions() == 0 })

	ids, err := log.Sessions()
	if err != nil || len(ids) != 1 {
		t.Fatalf("sessions = %v, %v", ids, err)
	}
	entries, err := log.Recent(ids[0], 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[1].Command != "bogus" || entries[1].OK || entries[1].Args[0] != "x" {
		t.Errorf("unexpected entry %+v", entries[1])
	}
	if entries[0].Command != "exit" || entries[0].Remote == "" {
		t.Errorf("unexpected entry %+v", entries[0])
	}
}

func TestNewServerRejectsMissingRoot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Root = filepath.Join(cfg.Server.Root, "missing")
	if _, err := NewServer(cfg, testRegistry()); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestNewServerBindFailure(t *testing.T) {
	srv := newTestServer(t, nil)
	cfg := testConfig(t)
	cfg.Server.Port = srv.Addr().(*net.TCPAddr).Port
	if _, err := NewServer(cfg, testRegistry()); err == nil {
		t.Fatal("expected bind error for port in use")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
