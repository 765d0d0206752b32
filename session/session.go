// Package session holds per-connection state for the burrow daemon.
package session

import (
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is the state of one client connection. It is owned by the
// goroutine serving that connection; only Alive and Requests may be read
// from elsewhere.
type Session struct {
	ID      string
	Remote  string
	Started time.Time

	dir       string
	connected bool
	alive     atomic.Bool
	requests  atomic.Int64
}

// New returns a live session rooted at dir. An empty remote marks a local
// session that has no transport connection.
func New(dir, remote string) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Remote:    remote,
		Started:   time.Now(),
		dir:       filepath.Clean(dir),
		connected: remote != "",
	}
	s.alive.Store(true)
	return s
}

// Dir returns the session's working directory.
func (s *Session) Dir() string {
	return s.dir
}

// SetDir moves the session to dir. Relative paths are taken against the
// current session directory.
func (s *Session) SetDir(dir string) {
	s.dir = s.Resolve(dir)
}

// Resolve returns p as an absolute path, relative to the session directory.
func (s *Session) Resolve(p string) string {
	if p == "" {
		return s.dir
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(s.dir, p)
}

// Connected reports whether the session is bound to a transport connection.
func (s *Session) Connected() bool {
	return s.connected
}

// Alive reports whether the session has not ended.
func (s *Session) Alive() bool {
	return s.alive.Load()
}

// End marks the session terminated. It is safe to call more than once.
func (s *Session) End() {
	s.alive.Store(false)
}

// Touch records one processed request and returns the new count.
func (s *Session) Touch() int64 {
	return s.requests.Add(1)
}

// Requests returns the number of requests processed so far.
func (s *Session) Requests() int64 {
	return s.requests.Load()
}
