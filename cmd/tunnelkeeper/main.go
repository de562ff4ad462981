// tunnelkeeper keeps the SSH tunnels listed in a configuration file up,
// reconnecting and re-forwarding whenever a connection is lost.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/borud/tunnelkeeper"
)

const defaultConfigPath = "rc.conf"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, logOutput io.Writer) error {
	flagSet := pflag.NewFlagSet("tunnelkeeper", pflag.ContinueOnError)
	checkInterval := flagSet.Duration("check-interval", tunnelkeeper.DefaultCheckInterval, "pause between health checks of a working connection")
	retryInterval := flagSet.Duration("retry-interval", tunnelkeeper.DefaultRetryInterval, "pause after a failed check or reconnect")
	dialTimeout := flagSet.Duration("dial-timeout", 0, "timeout for connect and handshake (0 means no timeout)")
	knownHosts := flagSet.String("known-hosts", "", "verify host keys against this known_hosts file (default: accept any host key)")
	useAgent := flagSet.Bool("agent", false, "also authenticate with keys from the SSH agent")
	logLevel := flagSet.String("log-level", "info", "log level: debug, info, warn or error")
	logFormat := flagSet.String("log-format", "text", "log format: text or json")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	configPath := defaultConfigPath
	switch flagSet.NArg() {
	case 0:
	case 1:
		configPath = flagSet.Arg(0)
	default:
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(1))
	}

	logger, err := newLogger(logOutput, *logLevel, *logFormat)
	if err != nil {
		return err
	}
	logger.Info("started", "config", configPath)

	opts := []tunnelkeeper.Option{
		tunnelkeeper.WithLogger(logger),
		tunnelkeeper.WithCheckInterval(*checkInterval),
		tunnelkeeper.WithRetryInterval(*retryInterval),
		tunnelkeeper.WithDialTimeout(*dialTimeout),
		tunnelkeeper.WithKnownHosts(*knownHosts),
	}
	if *useAgent {
		opts = append(opts, tunnelkeeper.WithAgent())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tunnelkeeper.RunFile(ctx, configPath, opts...); err != nil {
		return err
	}
	logger.Info("shut down")
	return nil
}

func newLogger(w io.Writer, level string, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q: want text or json", format)
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `tunnelkeeper keeps SSH port forwards open.

Usage:
  tunnelkeeper [flags] [config-file]

The config file defaults to %s. Each "user@host[:port] keyfile" line
starts a target; the "L bindPort:host:port" and "R bindPort:host:port"
lines that follow it are its local and remote forwards. Everything after
# is a comment.

Flags:
`, defaultConfigPath)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
