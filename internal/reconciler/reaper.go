package reconciler

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Change is the kind of state change a child reported.
type Change int

const (
	Exited Change = iota
	Signaled
	StoppedBySignal
	Continued
)

func (c Change) String() string {
	switch c {
	case Exited:
		return "exited"
	case Signaled:
		return "killed"
	case StoppedBySignal:
		return "stopped"
	case Continued:
		return "continued"
	default:
		return "unknown"
	}
}

type Status struct {
	Pid    int
	Change Change
	// Code is the exit code for Exited.
	Code int
	// Signal is the terminating or stopping signal.
	Signal unix.Signal
}

// Reaper collects pending child status changes without blocking.
type Reaper interface {
	// Reap returns the next pending change of any child. ok is false when
	// nothing is pending.
	Reap() (st Status, ok bool, err error)
}

// WaitReaper reaps real children with wait4. Every child of the shell is a
// job member, including children that moved to another process group with
// setsid or setpgid, so it waits for any child.
type WaitReaper struct{}

func (WaitReaper) Reap() (Status, bool, error) {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ECHILD):
			return Status{}, false, nil
		case err != nil:
			return Status{}, false, err
		case pid <= 0:
			return Status{}, false, nil
		}
		return decode(pid, ws), true, nil
	}
}

func decode(pid int, ws unix.WaitStatus) Status {
	st := Status{Pid: pid}
	switch {
	case ws.Exited():
		st.Change = Exited
		st.Code = ws.ExitStatus()
	case ws.Signaled():
		st.Change = Signaled
		st.Signal = ws.Signal()
	case ws.Stopped():
		st.Change = StoppedBySignal
		st.Signal = ws.StopSignal()
	case ws.Continued():
		st.Change = Continued
	}
	return st
}
