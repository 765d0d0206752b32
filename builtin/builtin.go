// Package builtin provides the commands served by burrowd.
//
// Every path argument is taken relative to the session directory. Only cd
// touches the process working directory, and it does so inside the
// registry's directory bracket.
package builtin

import (
	"github.com/Paranoid-AF/burrow/audit"
	"github.com/Paranoid-AF/burrow/command"
	"github.com/Paranoid-AF/burrow/index"
)

// HistorySource returns recent audited requests of a session.
type HistorySource interface {
	Recent(session string, n int) ([]audit.Entry, error)
}

// Options configure the built-in commands.
type Options struct {
	// History backs the history command. Nil disables it.
	History HistorySource
	// HistoryLimit is the default number of history entries shown.
	HistoryLimit int
}

// Register adds every built-in command to reg.
func Register(reg *command.Registry, opts Options) {
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = 20
	}

	for _, cmd := range []command.Command{
		changeDir{},
		printDir{},
		listDir{},
		makeDir{},
		remove{},
		readFile{},
		touch{},
		unzip{},
		upload{},
		download{},
		uploadFolder{},
		whoami{},
		history{source: opts.History, limit: limit},
		exit{},
	} {
		reg.Register(cmd)
	}

	h := &help{reg: reg}
	reg.Register(h)
	h.idx = index.NewIndexer(reg.Names())
}
