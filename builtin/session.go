package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Paranoid-AF/burrow/command"
	"github.com/Paranoid-AF/burrow/index"
)

type help struct {
	reg *command.Registry
	idx *index.Indexer
}

func (*help) Name() string  { return "help" }
func (*help) Usage() string { return "help [command]" }

func (h *help) Execute(_ context.Context, inv *command.Invocation) command.Result {
	name, ok := inv.Arg(0)
	if !ok {
		var b strings.Builder
		b.WriteString("Available commands:")
		for _, n := range h.reg.Names() {
			cmd, _ := h.reg.Lookup(n)
			b.WriteString("\n  ")
			b.WriteString(usageOf(cmd))
		}
		return command.Success(b.String())
	}

	if cmd, ok := h.reg.Lookup(name); ok {
		return command.Success("Usage: " + usageOf(cmd))
	}

	msg := "Unknown command: " + name
	if h.idx != nil {
		if suggestions := h.idx.Suggest(name, 3); len(suggestions) > 0 {
			msg += "\nDid you mean: " + strings.Join(suggestions, ", ") + "?"
		}
	}
	return command.Failure(msg)
}

func usageOf(cmd command.Command) string {
	if d, ok := cmd.(command.Describer); ok && d.Usage() != "" {
		return d.Usage()
	}
	return cmd.Name()
}

type whoami struct{}

func (whoami) Name() string             { return "whoami" }
func (whoami) Usage() string            { return "whoami" }
func (whoami) RequiresConnection() bool { return true }

func (whoami) Execute(_ context.Context, inv *command.Invocation) command.Result {
	s := inv.Session
	return command.Success(fmt.Sprintf(
		"Session: %s\nRemote: %s\nConnected since: %s\nDirectory: %s\nRequests: %d",
		s.ID, s.Remote, s.Started.Format(time.RFC3339), s.Dir(), s.Requests(),
	))
}

type history struct {
	source HistorySource
	limit  int
}

func (history) Name() string  { return "history" }
func (history) Usage() string { return "history [count]" }

func (h history) Execute(_ context.Context, inv *command.Invocation) command.Result {
	if h.source == nil {
		return command.Failure("History is not enabled")
	}
	n := h.limit
	if arg, ok := inv.Arg(0); ok {
		v, err := strconv.Atoi(arg)
		if err != nil || v <= 0 {
			return command.Failure("Invalid count: " + arg)
		}
		n = v
	}

	entries, err := h.source.Recent(inv.Session.ID, n)
	if err != nil {
		return command.Failuref("Error reading history: %v", err)
	}
	if len(entries) == 0 {
		return command.Success("No history")
	}

	lines := make([]string, len(entries))
	for i, e := range entries {
		status := "ok"
		if !e.OK {
			status = "error"
		}
		line := strings.TrimSpace(e.Command + " " + strings.Join(e.Args, " "))
		lines[i] = fmt.Sprintf("%4d  %s  %-5s  %s", e.Seq, e.Time.Format(time.TimeOnly), status, line)
	}
	return command.Success(strings.Join(lines, "\n"))
}

type exit struct{}

func (exit) Name() string             { return "exit" }
func (exit) Usage() string            { return "exit" }
func (exit) RequiresConnection() bool { return true }

func (exit) Execute(context.Context, *command.Invocation) command.Result {
	return command.Terminate("Goodbye")
}
