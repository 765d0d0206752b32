package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"
)

const keyCtrlC = 3

// Editor reads command lines. On a terminal it puts stdin in raw mode and
// uses a term.Terminal for editing, history and tab completion; otherwise
// it reads plain lines.
type Editor struct {
	in       *os.File
	oldState *term.State
	term     *term.Terminal
	scanner  *bufio.Scanner
	out      io.Writer
}

// NewEditor returns an editor over in and out. names feeds tab completion.
func NewEditor(in *os.File, out io.Writer, prompt string, names []string) (*Editor, error) {
	if !term.IsTerminal(int(in.Fd())) {
		return &Editor{in: in, scanner: bufio.NewScanner(in), out: out}, nil
	}

	old, err := term.MakeRaw(int(in.Fd()))
	if err != nil {
		return nil, fmt.Errorf("raw mode: %w", err)
	}
	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{in, out}, prompt)
	t.AutoCompleteCallback = completer(names)

	return &Editor{in: in, oldState: old, term: t, out: t}, nil
}

// Interactive reports whether the editor drives a terminal.
func (e *Editor) Interactive() bool {
	return e.term != nil
}

// Output returns the writer for results. On a terminal it translates
// newlines for raw mode.
func (e *Editor) Output() io.Writer {
	return e.out
}

// ReadLine returns the next line, or io.EOF at end of input or Ctrl-D.
func (e *Editor) ReadLine() (string, error) {
	if e.term != nil {
		return e.term.ReadLine()
	}
	if !e.scanner.Scan() {
		if err := e.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return e.scanner.Text(), nil
}

// Close restores the terminal state.
func (e *Editor) Close() {
	if e.oldState != nil {
		term.Restore(int(e.in.Fd()), e.oldState)
	}
}

// completer completes the command name at the start of the line on Tab and
// clears the line on Ctrl-C.
func completer(names []string) func(line string, pos int, key rune) (string, int, bool) {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	return func(line string, pos int, key rune) (string, int, bool) {
		switch key {
		case keyCtrlC:
			return "", 0, true
		case '\t':
		default:
			return "", 0, false
		}

		head := line[:pos]
		if strings.ContainsAny(head, " \t") {
			return "", 0, false
		}
		var matches []string
		for _, n := range sorted {
			if strings.HasPrefix(n, head) {
				matches = append(matches, n)
			}
		}
		if len(matches) == 0 {
			return "", 0, false
		}
		completion := commonPrefix(matches)
		if len(matches) == 1 {
			completion += " "
		}
		if completion == head {
			return "", 0, false
		}
		return completion + line[pos:], len(completion), true
	}
}

func commonPrefix(words []string) string {
	prefix := words[0]
	for _, w := range words[1:] {
		for !strings.HasPrefix(w, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	return prefix
}
