// Package client is the burrow client stub. It keeps one persistent
// connection to burrowd and turns every failure into an error Response, so
// callers only ever deal with envelopes.
package client

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	burrow "github.com/Paranoid-AF/burrow"
	"github.com/Paranoid-AF/burrow/frame"
)

// DefaultConnectTimeout bounds the initial dial.
const DefaultConnectTimeout = 10 * time.Second

// Client talks to one burrowd address. It is safe for concurrent use;
// requests are serialised because the protocol has no pipelining.
type Client struct {
	addr           string
	connectTimeout time.Duration
	readTimeout    time.Duration
	maxSize        int

	mu   sync.Mutex
	conn net.Conn
	r    *frame.Reader
	w    *frame.Writer
}

// Option configures a Client.
type Option func(*Client)

// WithConnectTimeout sets the dial timeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

// WithReadTimeout bounds the wait for each response. Zero waits forever.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) { c.readTimeout = d }
}

// WithMaxMessageSize bounds the size of a single response body.
func WithMaxMessageSize(n int) Option {
	return func(c *Client) { c.maxSize = n }
}

// New returns a disconnected client for addr.
func New(addr string, opts ...Option) *Client {
	c := &Client{
		addr:           addr,
		connectTimeout: DefaultConnectTimeout,
		maxSize:        frame.DefaultMaxSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Addr returns the daemon address.
func (c *Client) Addr() string {
	return c.addr
}

// Connect dials the daemon if not already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: c.connectTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return err
	}
	c.conn = conn
	c.r = frame.NewReader(conn, c.maxSize)
	c.w = frame.NewWriter(conn)
	return nil
}

// Connected reports whether the client holds an open connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close closes the connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.r, c.w = nil, nil, nil
	return err
}

// SendCommand sends name with args and returns the daemon's reply.
func (c *Client) SendCommand(ctx context.Context, name string, args ...string) *burrow.Response {
	return c.Send(ctx, &burrow.Request{Command: name, Args: args})
}

// Send sends req, connecting first if needed. It never returns nil.
func (c *Client) Send(ctx context.Context, req *burrow.Request) *burrow.Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return burrow.ErrorResponse("Failed to connect to server: %v", err)
	}

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline && c.readTimeout > 0 {
		deadline = time.Now().Add(c.readTimeout)
	}
	c.conn.SetDeadline(deadline)

	if err := c.w.Write(req); err != nil {
		c.closeLocked()
		return burrow.ErrorResponse("Communication error: %v", err)
	}

	var resp burrow.Response
	if err := c.r.Decode(&resp); err != nil {
		c.closeLocked()
		if errors.Is(err, io.EOF) || errors.Is(err, frame.ErrTruncated) {
			return burrow.ErrorResponse("Connection closed by server")
		}
		return burrow.ErrorResponse("Communication error: %v", err)
	}
	return &resp
}

// Upload reads localPath and sends it inline as an upload request. An empty
// remoteName uses the local file's base name.
func (c *Client) Upload(ctx context.Context, localPath, remoteName string) *burrow.Response {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return burrow.ErrorResponse("Error reading local file: %v", err)
	}
	if remoteName == "" {
		remoteName = filepath.Base(localPath)
	}

	req := &burrow.Request{Command: "upload", Args: []string{remoteName}}
	if err := req.SetExtra("file_content", string(data)); err != nil {
		return burrow.ErrorResponse("Error encoding upload: %v", err)
	}
	return c.Send(ctx, req)
}
