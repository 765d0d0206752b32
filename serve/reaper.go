package main

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// reaper closes connections that sit idle between requests for longer than
// the configured timeout. A session is only tracked while it waits for a
// request, so a long-running command is never cut off.
type reaper struct {
	cache *ttlcache.Cache[string, *idleWatch]
}

const (
	watchIdle int32 = iota
	watchBusy
	watchReaped
)

// idleWatch guards one wait for a request. Whichever of the reaper and the
// session loop moves it out of watchIdle first wins, so a connection is
// never closed after its request has been read.
type idleWatch struct {
	conn  net.Conn
	state atomic.Int32
}

// begin claims the watch for request processing. It reports false when the
// reaper already closed the connection. A nil watch always succeeds.
func (w *idleWatch) begin() bool {
	if w == nil {
		return true
	}
	return w.state.CompareAndSwap(watchIdle, watchBusy)
}

func (w *idleWatch) reap() bool {
	return w.state.CompareAndSwap(watchIdle, watchReaped)
}

// newReaper returns nil when timeout is not positive; a nil reaper is a no-op.
func newReaper(timeout time.Duration, logger *slog.Logger) *reaper {
	if timeout <= 0 {
		return nil
	}
	c := ttlcache.New[string, *idleWatch](
		ttlcache.WithTTL[string, *idleWatch](timeout),
		ttlcache.WithDisableTouchOnHit[string, *idleWatch](),
	)
	c.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *idleWatch]) {
		if reason != ttlcache.EvictionReasonExpired || !item.Value().reap() {
			return
		}
		logger.Info("closing idle session", "session", item.Key(), "idle", timeout)
		item.Value().conn.Close()
	})
	go c.Start()
	return &reaper{cache: c}
}

// track starts or restarts the idle clock for a session. The returned watch
// must be claimed with begin before a request read from conn is acted on.
func (r *reaper) track(id string, conn net.Conn) *idleWatch {
	if r == nil {
		return nil
	}
	w := &idleWatch{conn: conn}
	r.cache.Set(id, w, ttlcache.DefaultTTL)
	return w
}

// pause stops the idle clock while a request is processed.
func (r *reaper) pause(id string) {
	if r == nil {
		return
	}
	r.cache.Delete(id)
}

func (r *reaper) stop() {
	if r == nil {
		return
	}
	r.cache.Stop()
	r.cache.DeleteAll()
}
