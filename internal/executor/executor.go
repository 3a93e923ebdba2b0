// Package executor launches pipelines as jobs and runs the foreground wait.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"stsh/internal/job"
	"stsh/internal/observability"
	"stsh/internal/parser"
)

// Terminal transfers the controlling terminal.
type Terminal interface {
	Give(pgid int) error
	Reclaim() error
}

type Launcher struct {
	table   *job.Table
	spawner Spawner
	term    Terminal

	stdin  *os.File
	stdout *os.File
	stderr *os.File
	// out receives the "[n] pid ..." line for background jobs.
	out io.Writer

	log     *slog.Logger
	metrics *observability.Metrics
}

type Option func(*Launcher)

func WithSpawner(s Spawner) Option { return func(l *Launcher) { l.spawner = s } }

func WithTerminal(t Terminal) Option { return func(l *Launcher) { l.term = t } }

// WithStdio sets the descriptors stages inherit when they are not wired to a
// pipe or a redirection.
func WithStdio(stdin, stdout, stderr *os.File) Option {
	return func(l *Launcher) { l.stdin, l.stdout, l.stderr = stdin, stdout, stderr }
}

func WithOutput(w io.Writer) Option { return func(l *Launcher) { l.out = w } }

func WithLogger(log *slog.Logger) Option { return func(l *Launcher) { l.log = log } }

func WithMetrics(m *observability.Metrics) Option { return func(l *Launcher) { l.metrics = m } }

func New(table *job.Table, opts ...Option) *Launcher {
	l := &Launcher{
		table:   table,
		spawner: ForkExec{},
		term:    noTerminal{},
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		out:     os.Stdout,
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Launch starts every stage of p as one job. The table lock is held for the
// whole launch so the reconciler cannot see a child before its pid is
// recorded. Foreground jobs are waited for; background jobs are announced and
// left running.
//
// Stages that fail to start are reported as *LaunchError values joined into
// the returned error; stages that started are tracked regardless. The
// returned job is nil when no stage started.
func (l *Launcher) Launch(ctx context.Context, p parser.Pipeline) (*job.Job, error) {
	if p.Empty() {
		return nil, parser.ErrEmptyCommand
	}

	l.table.Lock()
	defer l.table.Unlock()

	placement := job.Foreground
	if p.Background {
		placement = job.Background
	}
	j := l.table.AddJob(placement)
	j.Text = p.Text

	errs := l.spawnAll(j, p)
	for _, err := range errs {
		var le *LaunchError
		if errors.As(err, &le) {
			l.metrics.LaunchFailed(ctx, le.Op)
		}
		l.log.Warn("launch failure", "job", j.Number, "error", err)
	}

	if len(j.Processes) == 0 {
		l.table.Synchronize(j)
		return nil, errors.Join(errs...)
	}

	l.metrics.JobLaunched(ctx, placement.String(), len(j.Processes))
	l.log.Debug("job launched", "job", j.Number, "pgid", j.Pgid, "pids", j.Pids(), "placement", placement.String())

	if p.Background {
		fmt.Fprintln(l.out, announce(j))
		return j, errors.Join(errs...)
	}

	if err := l.Foreground(j); err != nil {
		errs = append(errs, err)
	}
	return j, errors.Join(errs...)
}

// spawnAll creates the pipes and children for every stage. Every descriptor
// opened here is close-on-exec and closed in the parent once the stage that
// uses it has been spawned.
func (l *Launcher) spawnAll(j *job.Job, p parser.Pipeline) []error {
	var (
		errs     []error
		prevRead *os.File
	)
	n := len(p.Commands)
	defer func() {
		if prevRead != nil {
			prevRead.Close()
		}
	}()

	for i, c := range p.Commands {
		var (
			opened    []*os.File
			nextRead  *os.File
			stageFail error
		)
		stdin, stdout := l.stdin, l.stdout

		if i < n-1 {
			r, w, err := os.Pipe()
			if err != nil {
				errs = append(errs, &LaunchError{Stage: i, Op: "pipe", Err: err})
				// without the pipe no later stage can be wired
				break
			}
			nextRead = r
			opened = append(opened, w)
			stdout = w
		}
		if i > 0 {
			stdin = prevRead
		}

		if i == 0 && p.Input != "" {
			f, err := os.Open(p.Input)
			if err != nil {
				stageFail = &LaunchError{Stage: i, Op: "open", Path: p.Input, Err: err}
			} else {
				opened = append(opened, f)
				stdin = f
			}
		}
		if i == n-1 && p.Output != "" && stageFail == nil {
			flags := os.O_RDWR | os.O_CREATE | os.O_TRUNC
			if p.Append {
				flags = os.O_RDWR | os.O_CREATE | os.O_APPEND
			}
			f, err := os.OpenFile(p.Output, flags, 0o600)
			if err != nil {
				stageFail = &LaunchError{Stage: i, Op: "open", Path: p.Output, Err: err}
			} else {
				opened = append(opened, f)
				stdout = f
			}
		}

		if stageFail == nil {
			pid, err := l.spawnStage(j, c, [3]*os.File{stdin, stdout, l.stderr})
			if err != nil {
				stageFail = &LaunchError{Stage: i, Op: "fork/exec", Path: c.Name(), Err: err}
			} else {
				l.table.AddProcess(j, pid, c.Argv)
			}
		}
		if stageFail != nil {
			errs = append(errs, stageFail)
		}

		for _, f := range opened {
			f.Close()
		}
		if prevRead != nil {
			prevRead.Close()
		}
		prevRead = nextRead
	}
	return errs
}

func (l *Launcher) spawnStage(j *job.Job, c parser.Command, stdio [3]*os.File) (int, error) {
	files := make([]uintptr, len(stdio))
	for i, f := range stdio {
		files[i] = f.Fd()
	}
	// Pgid 0 makes the first child the group leader.
	return l.spawner.Spawn(resolve(c.Name()), c.Argv, files, j.Pgid)
}

// Foreground hands the terminal to j, sleeps until j stops or finishes and
// takes the terminal back. The caller must hold the table lock. Terminal
// errors are returned after the wait; they never cut it short.
func (l *Launcher) Foreground(j *job.Job) error {
	var errs []error
	if err := l.term.Give(j.Pgid); err != nil {
		errs = append(errs, fmt.Errorf("give terminal to job %d: %w", j.Number, err))
	}

	pid := j.Processes[0].Pid
	l.table.WaitUntil(func() bool {
		owner, ok := l.table.JobWithProcess(pid)
		return !ok || owner.Placement != job.Foreground
	})

	if err := l.term.Reclaim(); err != nil {
		errs = append(errs, fmt.Errorf("reclaim terminal: %w", err))
	}
	return errors.Join(errs...)
}

func announce(j *job.Job) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(strconv.Itoa(j.Number))
	b.WriteString("]")
	for _, pid := range j.Pids() {
		b.WriteString(" ")
		b.WriteString(strconv.Itoa(pid))
	}
	return b.String()
}

type noTerminal struct{}

func (noTerminal) Give(int) error { return nil }
func (noTerminal) Reclaim() error { return nil }
