// Command burrowd is the burrow daemon.
// It listens on TCP for length-prefixed JSON requests and runs each one as a
// registered command against the requesting connection's session.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	burrow "github.com/Paranoid-AF/burrow"
	"github.com/Paranoid-AF/burrow/audit"
	"github.com/Paranoid-AF/burrow/builtin"
	"github.com/Paranoid-AF/burrow/command"
	"github.com/Paranoid-AF/burrow/session"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// errCommandFailed signals a failed local command; the message is already printed.
var errCommandFailed = errors.New("command failed")

type options struct {
	configFile string
	host       string
	port       int
	root       string
	verbose    bool
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errCommandFailed) {
			fmt.Fprintln(os.Stderr, "burrowd:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "burrowd",
		Short:         "Serve burrow file-administration sessions over TCP",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default is "+burrow.ConfigPath()+")")
	flags.StringVar(&opts.host, "host", "", "address to bind (overrides config and $BURROW_HOST)")
	flags.IntVar(&opts.port, "port", 0, "TCP port to bind (overrides config and $BURROW_PORT)")
	flags.StringVar(&opts.root, "root", "", "initial session directory (default is the working directory)")
	flags.BoolVar(&opts.verbose, "verbose", false, "log every request and response")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newCommandsCmd(opts),
		newRunCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loadConfig applies the priority flag > env > file > default.
func loadConfig(cmd *cobra.Command, opts *options) (*burrow.Config, error) {
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
	cfg.Audit.Path = burrow.ResolveAuditPath(cfg)

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = opts.host
	}
	if flags.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if flags.Changed("root") {
		cfg.Server.Root = opts.root
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = opts.logFormat
	}
	return cfg, nil
}

// setup loads config, installs the logger and opens the audit log.
// The returned cleanup must be called on exit.
func setup(cmd *cobra.Command, opts *options, logOut io.Writer) (*burrow.Config, *audit.Log, func(), error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, nil, nil, err
	}

	logger, syncLog, err := newLogger(logOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(logger)

	for _, w := range burrow.ValidateConfig(cfg) {
		slog.Warn("config", "warning", w)
	}

	var log *audit.Log
	if cfg.Audit.Path != "" {
		log, err = audit.Open(cfg.Audit.Path)
		if err != nil {
			syncLog()
			return nil, nil, nil, err
		}
	}

	cleanup := func() {
		if log != nil {
			if err := log.Close(); err != nil {
				slog.Warn("failed to close audit log", "error", err)
			}
		}
		syncLog()
	}
	return cfg, log, cleanup, nil
}

// newRegistry builds the command registry served by the daemon.
func newRegistry(cfg *burrow.Config, log *audit.Log) *command.Registry {
	reg := command.NewRegistry()
	opts := builtin.Options{HistoryLimit: cfg.Audit.HistoryLimit}
	if log != nil {
		opts.History = log
	}
	builtin.Register(reg, opts)
	return reg
}

func runDaemon(cmd *cobra.Command, opts *options) error {
	cfg, log, cleanup, err := setup(cmd, opts, os.Stderr)
	if err != nil {
		return err
	}
	defer cleanup()

	reg := newRegistry(cfg, log)

	srvOpts := []Option{WithLogger(slog.Default())}
	if log != nil {
		srvOpts = append(srvOpts, WithRecorder(log))
	}
	srv, err := NewServer(cfg, reg, srvOpts...)
	if err != nil {
		slog.Error("failed to start server", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Serve)
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		srv.Stop()
		return nil
	})

	slog.Info("ready", "addr", srv.Addr().String(), "root", srv.Root(), "commands", reg.Len(), "audit", cfg.Audit.Path)
	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		return err
	}
	return nil
}

func newCommandsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List the commands the daemon serves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, cleanup, err := setup(cmd, opts, io.Discard)
			if err != nil {
				return err
			}
			defer cleanup()

			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(newRegistry(cfg, nil).Names(), "\n"))
			return nil
		},
	}
}

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run <command> [args...]",
		Short: "Run one command locally through the daemon's registry",
		Long: `Run one command locally, in a session rooted at --root or the current
directory. Commands that need a network connection fail in this mode.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, cleanup, err := setup(cmd, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer cleanup()

			dir := cfg.Server.Root
			if dir == "" {
				if dir, err = os.Getwd(); err != nil {
					return err
				}
			}

			reg := newRegistry(cfg, log)
			sess := session.New(dir, "")
			res := reg.Run(cmd.Context(), sess, &burrow.Request{Command: args[0], Args: args[1:]})

			if res.OK {
				if res.Message != "" {
					fmt.Fprintln(cmd.OutOrStdout(), res.Message)
				}
				return nil
			}
			fmt.Fprintln(cmd.ErrOrStderr(), res.Message)
			return errCommandFailed
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "burrowd", Version)
		},
	}
}
