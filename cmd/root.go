package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"kiro-relay/internal/config"
	"kiro-relay/internal/logging"
	"kiro-relay/internal/storage"
)

const usage = `kiro-relay exposes Messages and Chat Completions endpoints backed by the Kiro assistant service.

Usage:
  kiro-relay <command> [flags]

Commands:
  serve        Start the HTTP server
  credential   Manage upstream credentials (add, list, enable, disable, check)
  apikey       Manage caller API keys (add, list)

Flags:
  -h, --help  Show this help message`

// stdout is swapped in tests.
var stdout io.Writer = os.Stdout

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return printUsage()
	}

	switch args[0] {
	case "serve":
		return serve(ctx, args[1:])
	case "credential":
		return credentialCommand(ctx, args[1:])
	case "apikey":
		return apikeyCommand(ctx, args[1:])
	case "help", "-h", "--help":
		return printUsage()
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
}

func printUsage() error {
	fmt.Fprintln(stdout, strings.TrimSpace(usage))
	return nil
}

// parseFlags parses args and reports whether help was requested.
func parseFlags(fs *flag.FlagSet, args []string, usageText string) (bool, error) {
	fs.SetOutput(io.Discard)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, usageText)
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stdout, usageText)
			return true, nil
		}
		return false, fmt.Errorf("parse %s flags: %w", fs.Name(), err)
	}
	return false, nil
}

type app struct {
	cfg    config.Config
	store  *storage.Store
	logger *slog.Logger
}

// openApp loads configuration, installs the logger and opens the database.
func openApp(ctx context.Context, cfgPath string) (*app, error) {
	if cfgPath == "" {
		return nil, errors.New("--config <path> is required")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Log)

	store, err := storage.Open(ctx, cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, store: store, logger: logger}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", "err", err)
	}
}
