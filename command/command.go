// Package command defines the burrow command contract and the registry that
// dispatches requests to commands.
package command

import (
	"context"
	"encoding/json"
	"fmt"

	burrow "github.com/Paranoid-AF/burrow"
	"github.com/Paranoid-AF/burrow/session"
)

// Command is a named operation the daemon can run for a session.
type Command interface {
	Name() string
	Execute(ctx context.Context, inv *Invocation) Result
}

// ConnRequirer is implemented by commands that only make sense over an
// established transport connection.
type ConnRequirer interface {
	RequiresConnection() bool
}

// DirScoped is implemented by commands that depend on the process working
// directory. They run with the process moved into the session directory.
// ChangesDir reports whether a successful run moves the session to wherever
// the command left the process.
type DirScoped interface {
	ChangesDir() bool
}

// Describer is implemented by commands that provide a one-line usage.
type Describer interface {
	Usage() string
}

// Invocation is the input to a single command execution.
type Invocation struct {
	Args    []string
	Extra   map[string]json.RawMessage
	Session *session.Session
}

// Arg returns the i-th positional argument.
func (inv *Invocation) Arg(i int) (string, bool) {
	if i < 0 || i >= len(inv.Args) {
		return "", false
	}
	return inv.Args[i], true
}

// ExtraString decodes a string-valued named field of the request.
func (inv *Invocation) ExtraString(key string) (string, bool) {
	req := burrow.Request{Extra: inv.Extra}
	return req.ExtraString(key)
}

// Result is the outcome of a command. Close asks the dispatch loop to end
// the session after the reply is written.
type Result struct {
	OK      bool
	Message string
	Close   bool
}

// Success returns a successful result.
func Success(msg string) Result {
	return Result{OK: true, Message: msg}
}

// Failure returns a failed result.
func Failure(msg string) Result {
	return Result{Message: msg}
}

// Failuref returns a failed result with a formatted message.
func Failuref(format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

// Terminate returns a successful result that ends the session.
func Terminate(msg string) Result {
	return Result{OK: true, Message: msg, Close: true}
}

// Response converts the result into its wire envelope.
func (r Result) Response() *burrow.Response {
	return burrow.NewResponse(r.OK, r.Message)
}

// HandlerFunc is the signature of a plain command body.
type HandlerFunc func(ctx context.Context, inv *Invocation) Result

type funcCommand struct {
	name  string
	usage string
	fn    HandlerFunc
}

// New wraps fn as a Command with no optional capabilities.
func New(name, usage string, fn HandlerFunc) Command {
	return &funcCommand{name: name, usage: usage, fn: fn}
}

func (c *funcCommand) Name() string  { return c.name }
func (c *funcCommand) Usage() string { return c.usage }

func (c *funcCommand) Execute(ctx context.Context, inv *Invocation) Result {
	return c.fn(ctx, inv)
}
