package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"richter/internal/failure"
	appLog "richter/internal/log"
)

const version = "0.1.0"

// flagConfig holds global CLI flag values.
type flagConfig struct {
	dir        string
	configPath string
	logLevel   string
}

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		failure.Fatal(err)
	}
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		out := fs.Output()
		fmt.Fprintf(out, "richter %s - homework calendar cache\n\n", version)
		fmt.Fprintln(out, "Usage: richter [flags] [load|pull|export [-o file]|serve]")
		fmt.Fprintln(out)
		fs.PrintDefaults()
	}
}

func parseFlags(args []string) (flagConfig, []string, error) {
	var cfg flagConfig

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	fs := flag.NewFlagSet("richter", flag.ContinueOnError)
	fs.Usage = usage(fs)
	fs.StringVar(&cfg.dir, "dir", filepath.Join(home, ".richter"), "Profile directory holding calendar.yml and the cache")
	fs.StringVar(&cfg.configPath, "config", "", "Path to config file (default <dir>/config.yml)")
	fs.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	if err := fs.Parse(args); err != nil {
		return cfg, nil, err
	}
	if cfg.configPath == "" {
		cfg.configPath = filepath.Join(cfg.dir, "config.yml")
	}
	return cfg, fs.Args(), nil
}

// run parses args and dispatches to a subcommand. Output meant for the
// user goes to stdout; logs go to stderr.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags, rest, err := parseFlags(args)
	if err != nil {
		return failure.Wrap(failure.KindDeclaration, "Parsing Arguments", "Reading flags", err)
	}

	cmd := "load"
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	app, err := newApp(flags)
	if err != nil {
		return err
	}
	appLog.Debug("richter starting", "version", version, "command", cmd, "dir", flags.dir)

	switch cmd {
	case "load":
		return app.load(ctx, stdout)
	case "pull":
		return app.pull(ctx, stdout)
	case "export":
		return app.export(ctx, rest, stdout)
	case "serve":
		return app.serve(ctx)
	default:
		return failure.New(failure.KindDeclaration, "Parsing Arguments", "Reading command", fmt.Sprintf("unknown command %q", cmd))
	}
}
