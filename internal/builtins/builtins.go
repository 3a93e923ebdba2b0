package builtins

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"stsh/internal/job"
	"stsh/internal/parser"
)

// Foregrounder runs the foreground wait for a job. The caller holds the
// table lock.
type Foregrounder interface {
	Foreground(j *job.Job) error
}

// UserError is a mistake in a builtin invocation. The shell prints it and
// carries on.
type UserError struct {
	msg string
}

func (e *UserError) Error() string { return e.msg }

func userErrorf(format string, args ...any) error {
	return &UserError{msg: fmt.Sprintf(format, args...)}
}

var names = map[string]bool{
	"quit": true,
	"exit": true,
	"fg":   true,
	"bg":   true,
	"jobs": true,
	"slay": true,
	"halt": true,
	"cont": true,
}

// IsBuiltin reports whether name is handled inside the shell.
func IsBuiltin(name string) bool {
	return names[name]
}

type Dispatcher struct {
	table *job.Table
	fg    Foregrounder
	out   io.Writer
	log   *slog.Logger

	// Kill sends a signal; a negative pid addresses a process group.
	Kill func(pid int, sig unix.Signal) error
	// Exit ends the shell.
	Exit func(code int)
}

func New(table *job.Table, fg Foregrounder, out io.Writer, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		table: table,
		fg:    fg,
		out:   out,
		log:   log,
		Kill:  unix.Kill,
		Exit:  os.Exit,
	}
}

// Handle runs p if its first command is a builtin. handled is false when p
// should be launched instead.
func (d *Dispatcher) Handle(p parser.Pipeline) (handled bool, err error) {
	if p.Empty() {
		return false, nil
	}
	cmd := p.Commands[0]
	name, args := cmd.Name(), cmd.Args()
	if !IsBuiltin(name) {
		return false, nil
	}

	switch name {
	case "quit", "exit":
		d.Exit(0)
		return true, nil
	case "jobs":
		if len(args) != 0 {
			return true, userErrorf("jobs: Usage: jobs.")
		}
		d.table.Lock()
		defer d.table.Unlock()
		return true, d.table.Render(d.out)
	case "fg":
		return true, d.resume(name, args, job.Foreground)
	case "bg":
		return true, d.resume(name, args, job.Background)
	case "slay":
		return true, d.signalProcess(name, args, unix.SIGKILL)
	case "halt":
		return true, d.signalProcess(name, args, unix.SIGTSTP)
	case "cont":
		return true, d.signalProcess(name, args, unix.SIGCONT)
	default:
		return false, nil
	}
}

// resume moves a job to placement, marks its live members running and
// continues its process group. For the foreground it then waits the same way
// a freshly launched job is waited for.
func (d *Dispatcher) resume(name string, args []string, placement job.Placement) error {
	if len(args) != 1 {
		return userErrorf("%s: Usage: %s <job-number>.", name, name)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return userErrorf("%s %s: Job number must be a positive integer.", name, args[0])
	}

	d.table.Lock()
	defer d.table.Unlock()

	j, ok := d.table.Job(n)
	if !ok {
		return userErrorf("%s %d: No such job.", name, n)
	}
	j.Placement = placement
	for _, p := range j.Processes {
		if p.State != job.Terminated {
			p.State = job.Running
		}
	}
	d.table.Synchronize(j)

	// a no-op for a job that is already running
	if err := d.Kill(-j.Pgid, unix.SIGCONT); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("%s %d: continue process group %d: %w", name, n, j.Pgid, err)
	}
	d.log.Debug("job resumed", "job", j.Number, "placement", placement.String())

	if placement != job.Foreground {
		return nil
	}
	return d.fg.Foreground(j)
}

// signalProcess sends sig to one process named either by pid or by job
// number and position within the job.
func (d *Dispatcher) signalProcess(name string, args []string, sig unix.Signal) error {
	d.table.Lock()
	defer d.table.Unlock()

	pid, err := d.lookupProcess(name, args)
	if err != nil {
		return err
	}
	if err := d.Kill(pid, sig); err != nil {
		return fmt.Errorf("%s %d: %w", name, pid, err)
	}
	return nil
}

func (d *Dispatcher) lookupProcess(name string, args []string) (int, error) {
	switch len(args) {
	case 1:
		pid, err := strconv.Atoi(args[0])
		if err != nil || pid <= 0 {
			return 0, userErrorf("%s %s: Process id must be a positive integer.", name, args[0])
		}
		j, ok := d.table.JobWithProcess(pid)
		if !ok {
			return 0, userErrorf("%s %d: No such process.", name, pid)
		}
		if p, _ := j.Process(pid); p.State == job.Terminated {
			return 0, userErrorf("%s %d: No such process.", name, pid)
		}
		return pid, nil
	case 2:
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return 0, userErrorf("%s %s: Job number must be a positive integer.", name, args[0])
		}
		idx, err := strconv.Atoi(args[1])
		if err != nil || idx < 0 {
			return 0, userErrorf("%s %s %s: Process index must be a non-negative integer.", name, args[0], args[1])
		}
		j, ok := d.table.Job(n)
		if !ok {
			return 0, userErrorf("%s %d: No such job.", name, n)
		}
		if idx >= len(j.Processes) || j.Processes[idx].State == job.Terminated {
			return 0, userErrorf("%s %d %d: Job %d has no process with index %d.", name, n, idx, n, idx)
		}
		return j.Processes[idx].Pid, nil
	default:
		return 0, userErrorf("%s: Usage: %s <pid> | %s <job-number> <index>.", name, name, name)
	}
}
