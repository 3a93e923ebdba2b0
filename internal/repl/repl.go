// Package repl ties the job table, reconciler, launcher and builtins into an
// interactive shell.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/oklog/run"
	"golang.org/x/sys/unix"

	"stsh/internal/builtins"
	"stsh/internal/executor"
	"stsh/internal/job"
	"stsh/internal/observability"
	"stsh/internal/parser"
	"stsh/internal/reconciler"
	"stsh/internal/status"
)

type Options struct {
	Prompt string
	// Interactive enables the prompt.
	Interactive bool

	In  io.Reader
	Out io.Writer
	Err io.Writer
	// Stdin, Stdout and Stderr are inherited by launched commands.
	Stdin, Stdout, Stderr *os.File

	Terminal executor.Terminal
	Spawner  executor.Spawner
	Reaper   reconciler.Reaper

	Logger  *slog.Logger
	Metrics *observability.Metrics

	// StatusAddr enables the HTTP status server.
	StatusAddr     string
	MetricsHandler http.Handler

	Kill func(pid int, sig unix.Signal) error
	Exit func(code int)
}

type Shell struct {
	prompt      string
	interactive bool
	in          io.Reader
	out         io.Writer
	errOut      io.Writer

	table      *job.Table
	launcher   *executor.Launcher
	builtins   *builtins.Dispatcher
	reconciler *reconciler.Reconciler
	status     *status.Server

	log  *slog.Logger
	kill func(pid int, sig unix.Signal) error
	exit func(code int)
}

func New(opts Options) *Shell {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Kill == nil {
		opts.Kill = unix.Kill
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}

	table := job.NewTable()
	launchOpts := []executor.Option{
		executor.WithStdio(opts.Stdin, opts.Stdout, opts.Stderr),
		executor.WithOutput(opts.Out),
		executor.WithLogger(opts.Logger),
		executor.WithMetrics(opts.Metrics),
	}
	if opts.Terminal != nil {
		launchOpts = append(launchOpts, executor.WithTerminal(opts.Terminal))
	}
	if opts.Spawner != nil {
		launchOpts = append(launchOpts, executor.WithSpawner(opts.Spawner))
	}
	launcher := executor.New(table, launchOpts...)

	dispatcher := builtins.New(table, launcher, opts.Out, opts.Logger)
	dispatcher.Kill = opts.Kill
	dispatcher.Exit = opts.Exit

	s := &Shell{
		prompt:      opts.Prompt,
		interactive: opts.Interactive,
		in:          opts.In,
		out:         opts.Out,
		errOut:      opts.Err,
		table:       table,
		launcher:    launcher,
		builtins:    dispatcher,
		reconciler:  reconciler.New(table, opts.Reaper, opts.Logger, opts.Metrics),
		log:         opts.Logger,
		kill:        opts.Kill,
		exit:        opts.Exit,
	}
	if opts.StatusAddr != "" {
		s.status = status.New(opts.StatusAddr, table, opts.MetricsHandler, opts.Logger)
	}
	return s
}

// Table exposes the job table, mainly for tests and the status layer.
func (s *Shell) Table() *job.Table {
	return s.table
}

// Run starts the reconciler, the signal forwarder, the status server when
// configured, and the read loop. It returns when input ends or ctx is done.
func (s *Shell) Run(ctx context.Context) error {
	sigchld, stopChld := reconciler.Notify()
	defer stopChld()

	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, unix.SIGINT, unix.SIGTSTP, unix.SIGQUIT)
	defer signal.Stop(sigs)

	var g run.Group
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return s.reconciler.Run(ctx, sigchld)
		}, func(error) {
			cancel()
		})
	}
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return s.forward(ctx, sigs)
		}, func(error) {
			cancel()
		})
	}
	if s.status != nil {
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return s.status.Run(ctx)
		}, func(error) {
			cancel()
		})
	}
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return s.loop(ctx)
		}, func(error) {
			cancel()
		})
	}

	err := g.Run()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Execute runs one line: builtins inside the shell, everything else as a job.
func (s *Shell) Execute(ctx context.Context, line string) error {
	p, err := parser.Parse(line)
	if err != nil {
		return err
	}
	if p.Empty() {
		return nil
	}
	if handled, err := s.builtins.Handle(p); handled {
		return err
	}
	_, err = s.launcher.Launch(ctx, p)
	return err
}

type readResult struct {
	line string
	err  error
}

// loop reads one line at a time. The next line is only requested once the
// previous one has been handled, so the shell never reads the terminal while
// a foreground job owns it. Without a terminal the input is shared with the
// children, so it is read a byte at a time and nothing past the current line
// is consumed.
func (s *Shell) loop(ctx context.Context) error {
	next := make(chan struct{})
	lines := make(chan readResult, 1)
	defer close(next)

	in := s.in
	if !s.interactive {
		in = byteReader{s.in}
	}
	reader := bufio.NewReader(in)
	go func() {
		for range next {
			line, err := reader.ReadString('\n')
			lines <- readResult{line, err}
		}
	}()

	for {
		s.printPrompt()
		next <- struct{}{}

		var r readResult
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r = <-lines:
		}

		if line := strings.TrimSpace(r.line); line != "" {
			if err := s.Execute(ctx, line); err != nil {
				fmt.Fprintln(s.errOut, err)
			}
		}
		if r.err != nil {
			if s.interactive {
				fmt.Fprintln(s.out)
			}
			if errors.Is(r.err, io.EOF) {
				return nil
			}
			return r.err
		}
	}
}

// byteReader never returns more than one byte per Read, which keeps a
// bufio.Reader from reading past the newline it is looking for.
type byteReader struct {
	r io.Reader
}

func (b byteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return b.r.Read(p)
}

func (s *Shell) printPrompt() {
	if s.interactive {
		fmt.Fprint(s.out, s.prompt)
	}
}

// forward relays SIGINT and SIGTSTP to the foreground job and exits on
// SIGQUIT.
func (s *Shell) forward(ctx context.Context, sigs <-chan os.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-sigs:
			switch sig {
			case unix.SIGQUIT:
				s.exit(0)
			case unix.SIGINT, unix.SIGTSTP:
				if !s.forwardToForeground(sig.(unix.Signal)) && s.interactive {
					// nothing to interrupt; start a fresh prompt
					fmt.Fprint(s.out, "\n"+s.prompt)
				}
			}
		}
	}
}

// forwardToForeground sends sig to the foreground job's process group only.
// It reports whether there was a foreground job.
func (s *Shell) forwardToForeground(sig unix.Signal) bool {
	s.table.Lock()
	defer s.table.Unlock()

	j, ok := s.table.ForegroundJob()
	if !ok || j.Pgid <= 0 {
		return false
	}
	if err := s.kill(-j.Pgid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		s.log.Warn("forward signal", "signal", sig.String(), "job", j.Number, "error", err)
	}
	return true
}
