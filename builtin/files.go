package builtin

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/Paranoid-AF/burrow/command"
)

type changeDir struct{}

func (changeDir) Name() string     { return "cd" }
func (changeDir) Usage() string    { return "cd <dir>" }
func (changeDir) ChangesDir() bool { return true }

// Execute runs with the process inside the session directory, so relative
// targets resolve the way a shell would.
func (changeDir) Execute(_ context.Context, inv *command.Invocation) command.Result {
	target, ok := inv.Arg(0)
	if !ok {
		return command.Failure("No directory specified")
	}
	if err := os.Chdir(target); err != nil {
		return command.Failuref("Error changing directory: %v", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		return command.Failuref("Error changing directory: %v", err)
	}
	return command.Success("Changed directory to " + wd)
}

type printDir struct{}

func (printDir) Name() string  { return "pwd" }
func (printDir) Usage() string { return "pwd" }

func (printDir) Execute(_ context.Context, inv *command.Invocation) command.Result {
	return command.Success(inv.Session.Dir())
}

type listDir struct{}

func (listDir) Name() string  { return "ls" }
func (listDir) Usage() string { return "ls [path]" }

func (listDir) Execute(_ context.Context, inv *command.Invocation) command.Result {
	path, _ := inv.Arg(0)
	entries, err := os.ReadDir(inv.Session.Resolve(path))
	if err != nil {
		return command.Failuref("Error listing directory: %v", err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return command.Success(strings.Join(names, "\n"))
}

type makeDir struct{}

func (makeDir) Name() string  { return "mkdir" }
func (makeDir) Usage() string { return "mkdir <dir>" }

func (makeDir) Execute(_ context.Context, inv *command.Invocation) command.Result {
	dir, ok := inv.Arg(0)
	if !ok {
		return command.Failure("No directory name specified")
	}
	if err := os.MkdirAll(inv.Session.Resolve(dir), 0755); err != nil {
		return command.Failuref("Error creating directory: %v", err)
	}
	return command.Success("Created directory: " + dir)
}

type remove struct{}

func (remove) Name() string  { return "rm" }
func (remove) Usage() string { return "rm <path>" }

func (remove) Execute(_ context.Context, inv *command.Invocation) command.Result {
	target, ok := inv.Arg(0)
	if !ok {
		return command.Failure("No file or directory specified")
	}
	path := inv.Session.Resolve(target)

	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return command.Failure("No such file or directory: " + target)
	}
	if err != nil {
		return command.Failuref("Error removing %s: %v", target, err)
	}

	if info.IsDir() {
		if err := os.RemoveAll(path); err != nil {
			return command.Failuref("Error removing %s: %v", target, err)
		}
		return command.Success("Removed directory: " + target)
	}
	if err := os.Remove(path); err != nil {
		return command.Failuref("Error removing %s: %v", target, err)
	}
	return command.Success("Removed file: " + target)
}

type readFile struct{}

func (readFile) Name() string  { return "cat" }
func (readFile) Usage() string { return "cat <file>" }

func (readFile) Execute(_ context.Context, inv *command.Invocation) command.Result {
	name, ok := inv.Arg(0)
	if !ok {
		return command.Failure("No file specified")
	}
	data, err := os.ReadFile(inv.Session.Resolve(name))
	if err != nil {
		return command.Failuref("Error reading file: %v", err)
	}
	return command.Success(string(data))
}

type touch struct{}

func (touch) Name() string  { return "touch" }
func (touch) Usage() string { return "touch <file>" }

func (touch) Execute(_ context.Context, inv *command.Invocation) command.Result {
	name, ok := inv.Arg(0)
	if !ok {
		return command.Failure("No file specified")
	}
	path := inv.Session.Resolve(name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return command.Failuref("Error creating file: %v", err)
	}
	if err := f.Close(); err != nil {
		return command.Failuref("Error creating file: %v", err)
	}
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		return command.Failuref("Error creating file: %v", err)
	}
	return command.Success("Created file: " + name)
}
