package client

import (
	"errors"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ErrEmptyLine is returned by ParseLine for blank input.
var ErrEmptyLine = errors.New("empty command line")

// ParseLine splits a typed command line into a command name and arguments
// using shell quoting rules. Nothing is expanded: glob characters pass
// through literally, and parameter or command substitutions are rejected.
func ParseLine(line string) (string, []string, error) {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	prog, err := parser.Parse(strings.NewReader(line), "")
	if err != nil {
		return "", nil, err
	}
	if len(prog.Stmts) == 0 {
		return "", nil, ErrEmptyLine
	}
	if len(prog.Stmts) > 1 {
		return "", nil, errors.New("only one command per line is supported")
	}

	stmt := prog.Stmts[0]
	if stmt.Background || stmt.Negated || len(stmt.Redirs) > 0 {
		return "", nil, errors.New("redirections and job control are not supported")
	}
	call, ok := stmt.Cmd.(*syntax.CallExpr)
	if !ok || len(call.Assigns) > 0 {
		return "", nil, errors.New("only simple commands are supported")
	}

	fields := make([]string, 0, len(call.Args))
	for _, word := range call.Args {
		s, err := literalWord(word)
		if err != nil {
			return "", nil, err
		}
		fields = append(fields, s)
	}
	if len(fields) == 0 {
		return "", nil, ErrEmptyLine
	}
	return fields[0], fields[1:], nil
}

// literalWord unquotes a word made only of literals and quotes.
func literalWord(word *syntax.Word) (string, error) {
	var b strings.Builder
	if err := appendParts(&b, word.Parts, false); err != nil {
		return "", err
	}
	return b.String(), nil
}

func appendParts(b *strings.Builder, parts []syntax.WordPart, inDouble bool) error {
	for _, part := range parts {
		switch p := part.(type) {
		case *syntax.Lit:
			b.WriteString(unescapeLit(p.Value, inDouble))
		case *syntax.SglQuoted:
			b.WriteString(p.Value)
		case *syntax.DblQuoted:
			if err := appendParts(b, p.Parts, true); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported shell syntax at %s", part.Pos())
		}
	}
	return nil
}

// unescapeLit removes shell backslash escapes from a literal. Inside double
// quotes only \ " $ ` and newline are escapable.
func unescapeLit(s string, inDouble bool) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		next := s[i+1]
		if next == '\n' {
			i++
			continue
		}
		if inDouble && !strings.ContainsRune("\\\"$`", rune(next)) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte(next)
		i++
	}
	return b.String()
}
