package command

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"

	burrow "github.com/Paranoid-AF/burrow"
	"github.com/Paranoid-AF/burrow/session"
)

// Registry maps command names to commands. It is populated at startup and
// read without locking afterwards; Register must not be called once
// sessions are being served.
type Registry struct {
	cmds  map[string]Command
	lower map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		cmds:  make(map[string]Command),
		lower: make(map[string]struct{}),
	}
}

// Register adds cmd under its name, replacing any previous command of the
// same name.
func (r *Registry) Register(cmd Command) {
	name := cmd.Name()
	r.cmds[name] = cmd
	r.lower[strings.ToLower(name)] = struct{}{}
}

// Lookup returns the command registered under exactly name.
func (r *Registry) Lookup(name string) (Command, bool) {
	cmd, ok := r.cmds[name]
	return cmd, ok
}

// Exists reports whether a command is registered under name, ignoring case.
func (r *Registry) Exists(name string) bool {
	_, ok := r.lower[strings.ToLower(name)]
	return ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.cmds))
	for name := range r.cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	return len(r.cmds)
}

// Dispatch runs the command registered under name. It never panics: unknown
// names, missing connections and handler panics all come back as failed
// results.
func (r *Registry) Dispatch(ctx context.Context, name string, inv *Invocation) (res Result) {
	cmd, ok := r.cmds[name]
	if !ok {
		return Failuref("Unknown command: %s", name)
	}
	if cr, ok := cmd.(ConnRequirer); ok && cr.RequiresConnection() {
		if inv.Session == nil || !inv.Session.Connected() {
			return Failuref("Command requires a connection: %s", name)
		}
	}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("command panicked", "command", name, "panic", p, "stack", string(debug.Stack()))
			res = Failuref("Error processing command: %v", p)
		}
	}()
	return cmd.Execute(ctx, inv)
}

// Run executes one request for sess. Commands that depend on the process
// working directory run inside the session directory; a successful
// directory-changing command moves the session.
func (r *Registry) Run(ctx context.Context, sess *session.Session, req *burrow.Request) Result {
	sess.Touch()
	inv := &Invocation{Args: req.Args, Extra: req.Extra, Session: sess}

	cmd, ok := r.cmds[req.Command]
	if !ok {
		return r.Dispatch(ctx, req.Command, inv)
	}
	ds, ok := cmd.(DirScoped)
	if !ok {
		return r.Dispatch(ctx, req.Command, inv)
	}
	return inSessionDir(sess, ds.ChangesDir(), func() Result {
		return r.Dispatch(ctx, req.Command, inv)
	})
}
