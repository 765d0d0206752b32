package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	burrow "github.com/Paranoid-AF/burrow"
)

// printResponse writes a response message for a human: success messages
// as-is, errors prefixed.
func printResponse(w io.Writer, resp *burrow.Response) {
	if resp.OK() {
		if resp.Message != "" {
			fmt.Fprintln(w, resp.Message)
		}
		return
	}
	fmt.Fprintf(w, "error: %s\n", resp.Message)
}

// writeEntry appends one request/response exchange to a TOML transcript.
func writeEntry(w io.Writer, addr, name string, args []string, resp *burrow.Response) {
	fmt.Fprintf(w, "# %s\n\n", strings.Repeat("═", 60))

	fmt.Fprintln(w, "[[exchange]]")
	fmt.Fprintf(w, "timestamp = %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "server = %s\n", tomlQuote(addr))
	fmt.Fprintf(w, "command = %s\n", tomlQuote(name))
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = tomlQuote(a)
	}
	fmt.Fprintf(w, "args = [%s]\n", strings.Join(quoted, ", "))
	fmt.Fprintf(w, "status = %s\n", tomlQuote(resp.Status))
	fmt.Fprintf(w, "message = %s\n", tomlQuote(resp.Message))
	fmt.Fprintln(w)
}

// tomlQuote returns a TOML basic-string quoted value.
func tomlQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\u%04X`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
