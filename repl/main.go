// Command burrow is the burrow client.
//
// With a command it sends one request and prints the reply. Without one it
// starts an interactive session on a terminal, or reads one command per
// line from stdin.
//
// Usage:
//
//	burrow ls /srv            # one request
//	burrow upload notes.txt   # send a local file inline
//	burrow                    # interactive session
//	burrow < script.txt       # one command per line
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	burrow "github.com/Paranoid-AF/burrow"
	"github.com/Paranoid-AF/burrow/client"
)

const prompt = "burrow> "

// Version is set at build time via -ldflags.
var Version = "dev"

var errCommandFailed = errors.New("command failed")

type options struct {
	configFile string
	host       string
	port       int
	timeout    time.Duration
	transcript string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errCommandFailed) {
			fmt.Fprintln(os.Stderr, "burrow:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "burrow [command [args...]]",
		Short:         "Send commands to a burrowd daemon",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args)
		},
	}

	flags := cmd.Flags()
	flags.SetInterspersed(false)
	flags.StringVar(&opts.configFile, "config", "", "config file (default is "+burrow.ConfigPath()+")")
	flags.StringVar(&opts.host, "host", "", "daemon host (overrides config and $BURROW_HOST)")
	flags.IntVar(&opts.port, "port", 0, "daemon port (overrides config and $BURROW_PORT)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "connect timeout (default from config)")
	flags.StringVar(&opts.transcript, "transcript", "", "append every exchange to this TOML file")
	return cmd
}

func newClient(cmd *cobra.Command, opts *options) (*client.Client, error) {
	var cfg *burrow.Config
	var err error
	if opts.configFile != "" {
		cfg, err = burrow.LoadConfigFile(opts.configFile)
	} else {
		cfg, err = burrow.LoadConfig()
	}
	if err != nil {
		return nil, err
	}

	cfg.Server.Host = burrow.ResolveHost(cfg)
	cfg.Server.Port = burrow.ResolvePort(cfg)
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = opts.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = opts.port
	}
	connectTimeout := cfg.Client.ConnectTimeout.Duration
	if opts.timeout > 0 {
		connectTimeout = opts.timeout
	}

	return client.New(burrow.ResolveAddr(cfg),
		client.WithConnectTimeout(connectTimeout),
		client.WithReadTimeout(cfg.Client.ReadTimeout.Duration),
		client.WithMaxMessageSize(cfg.Server.MaxMessageBytes),
	), nil
}

func run(cmd *cobra.Command, opts *options, args []string) error {
	c, err := newClient(cmd, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	var transcript io.Writer = io.Discard
	if opts.transcript != "" {
		f, err := os.OpenFile(opts.transcript, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		transcript = f
	}

	ctx := cmd.Context()
	if len(args) > 0 {
		resp := send(ctx, c, args[0], args[1:])
		writeEntry(transcript, c.Addr(), args[0], args[1:], resp)
		if resp.OK() {
			printResponse(cmd.OutOrStdout(), resp)
			return nil
		}
		printResponse(cmd.ErrOrStderr(), resp)
		return errCommandFailed
	}

	editor, err := NewEditor(os.Stdin, cmd.OutOrStdout(), prompt, commandNames(ctx, c))
	if err != nil {
		return err
	}
	defer editor.Close()
	return repl(ctx, c, editor, transcript)
}

// send issues one request. upload reads the named local file and sends its
// content inline.
func send(ctx context.Context, c *client.Client, name string, args []string) *burrow.Response {
	if name == "upload" && len(args) > 0 {
		remote := ""
		if len(args) > 1 {
			remote = args[1]
		}
		return c.Upload(ctx, args[0], remote)
	}
	return c.SendCommand(ctx, name, args...)
}

type lineReader interface {
	ReadLine() (string, error)
	Output() io.Writer
	Interactive() bool
}

func repl(ctx context.Context, c *client.Client, editor lineReader, transcript io.Writer) error {
	out := editor.Output()
	if editor.Interactive() {
		fmt.Fprintf(out, "connected to %s; type help for commands, exit to quit\n", c.Addr())
	}

	for {
		line, err := editor.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		name, args, err := client.ParseLine(line)
		if errors.Is(err, client.ErrEmptyLine) {
			continue
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}

		resp := send(ctx, c, name, args)
		writeEntry(transcript, c.Addr(), name, args, resp)
		printResponse(out, resp)

		if name == "exit" && resp.OK() {
			return nil
		}
	}
}

// commandNames asks the daemon for its command list to drive completion.
// Failure only disables completion.
func commandNames(ctx context.Context, c *client.Client) []string {
	resp := c.SendCommand(ctx, "help")
	if !resp.OK() {
		return nil
	}
	return parseHelpNames(resp.Message)
}

// parseHelpNames extracts command names from help output, one per
// indented line.
func parseHelpNames(msg string) []string {
	var names []string
	for _, line := range strings.Split(msg, "\n") {
		if !strings.HasPrefix(line, "  ") {
			continue
		}
		if fields := strings.Fields(line); len(fields) > 0 {
			names = append(names, fields[0])
		}
	}
	return names
}
