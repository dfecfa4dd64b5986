package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
)

// Run is the CLI entrypoint used by cmd/lexion.
// It returns an error instead of calling os.Exit to keep defers effective and lint clean.
func Run(args []string) error {
	name := "serve"
	switch {
	case len(args) == 0:
	case args[0] == "help" || args[0] == "-h" || args[0] == "--help":
		printUsage(os.Stdout)
		return nil
	case !strings.HasPrefix(args[0], "-"):
		name, args = args[0], args[1:]
	}
	c, ok := lookupCommand(name)
	if !ok {
		printUsage(os.Stderr)
		return &UserError{Msg: "unknown command: " + name}
	}

	cfg, err := LoadConfig()
	if err != nil {
		return &UserError{Msg: "invalid configuration: " + err.Error(), Err: err}
	}
	if cfg.LogFormat == "" {
		// The server logs JSON; interactive commands log for humans.
		cfg.LogFormat = LogFormatPretty
		if c.name == "serve" {
			cfg.LogFormat = LogFormatJSON
		}
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("app.close.fail", "err", err)
		}
	}()

	return a.runCommand(ctx, c, args)
}

// runCommand restores the session (serve restores in the background) and
// dispatches to c.
func (a *App) runCommand(ctx context.Context, c command, args []string) error {
	if c.name != "serve" {
		if err := a.Restore(ctx); err != nil {
			a.log.Warn("session.restore.fail", "err", err)
		}
	}

	fs := newFlagSet(c, a.out)
	err := c.run(ctx, a, fs, args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	return err
}
