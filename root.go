package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sys/unix"

	"stsh/internal/config"
	"stsh/internal/logger"
	"stsh/internal/observability"
	"stsh/internal/repl"
	"stsh/internal/terminal"
)

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"prompt":      config.KeyPrompt,
	"log-level":   config.KeyLogLevel,
	"log-format":  config.KeyLogFormat,
	"status-addr": config.KeyStatusAddr,
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile string
		command string
	)

	cmd := &cobra.Command{
		Use:   "stsh",
		Short: "stsh is a Unix shell with job control",
		Long: `stsh reads command lines and runs them as jobs.

A line is a pipeline of commands separated by '|', optionally reading from
'< file', writing to '> file' or '>> file', and ending in '&' to run it in
the background. Every job gets its own process group.

Builtins:
  jobs                     list live jobs
  fg <job>                 continue a job in the foreground
  bg <job>                 continue a job in the background
  slay|halt|cont <pid>     kill, stop or continue one process
  slay|halt|cont <job> <i> the same, by job number and position
  quit, exit               leave the shell

Configuration:
  Settings come from flags, STSH_* environment variables (STSH_PROMPT,
  STSH_LOG_LEVEL, STSH_LOG_FORMAT, STSH_STATUS_ADDR) and $HOME/.stsh.yaml.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.stsh.yaml)")
	flags.String("prompt", "stsh> ", "prompt printed before each line on a terminal")
	flags.String("log-level", "warn", "log level: debug, info, warn or error")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("status-addr", "", "serve job status and metrics on this address")
	flags.StringVarP(&command, "command", "c", "", "run one command line and exit")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		v := config.NewViper(cfgFile)
		for flag, key := range flagKeys {
			if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
				return fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
		cfg, err := config.Load(v)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
			return err
		}

		ctx := logger.WithSessionID(cmd.Context(), logger.NewSessionID())
		base, err := logger.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
			return err
		}
		log := logger.FromContext(ctx, base)
		log.Debug("starting shell", "config", config.Used(v), "status_addr", cfg.StatusAddr)

		if err := run(ctx, cfg, command, log); err != nil {
			log.Error("shell failed", "error", err)
			return err
		}
		return nil
	}
	return cmd
}

// run wires the shell together and blocks until input ends, quit is typed or
// the shell is told to terminate.
func run(ctx context.Context, cfg *config.Config, command string, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, unix.SIGTERM, unix.SIGHUP)
	defer stop()

	var metricsHandler http.Handler
	if cfg.StatusAddr != "" {
		handler, shutdown, err := observability.InitMetrics()
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn("metrics shutdown", "error", err)
			}
		}()
		metricsHandler = handler
	}
	metrics, err := observability.NewMetrics(otel.Meter("stsh"))
	if err != nil {
		return err
	}

	tty := terminal.New(os.Stdin)
	opts := repl.Options{
		Prompt:         cfg.Prompt,
		Interactive:    tty.Interactive(),
		Terminal:       tty,
		Logger:         log,
		Metrics:        metrics,
		StatusAddr:     cfg.StatusAddr,
		MetricsHandler: metricsHandler,
	}
	if command != "" {
		opts.In = strings.NewReader(command + "\n")
		opts.Interactive = false
	}
	return repl.New(opts).Run(ctx)
}
