package job

import (
	"strconv"
	"strings"
)

// State is the run state of a single process.
type State int

const (
	Running State = iota
	Stopped
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Placement says whether a job owns the terminal, runs without it, or is stopped.
type Placement int

const (
	Foreground Placement = iota
	Background
	Suspended
)

func (p Placement) String() string {
	switch p {
	case Foreground:
		return "foreground"
	case Background:
		return "background"
	case Suspended:
		return "stopped"
	default:
		return "unknown"
	}
}

type Process struct {
	Pid   int
	Argv  []string
	State State
}

// Command returns the argv joined with spaces.
func (p *Process) Command() string {
	return strings.Join(p.Argv, " ")
}

type Job struct {
	Number    int
	Pgid      int
	Placement Placement
	Processes []*Process
	// Text is the command line the job was created from.
	Text string
}

// Process returns the member with the given pid.
func (j *Job) Process(pid int) (*Process, bool) {
	for _, p := range j.Processes {
		if p.Pid == pid {
			return p, true
		}
	}
	return nil, false
}

func (j *Job) Pids() []int {
	pids := make([]int, 0, len(j.Processes))
	for _, p := range j.Processes {
		pids = append(pids, p.Pid)
	}
	return pids
}

// Terminated reports whether every member has terminated. A job with no
// members counts as terminated.
func (j *Job) Terminated() bool {
	for _, p := range j.Processes {
		if p.State != Terminated {
			return false
		}
	}
	return true
}

// Stopped reports whether every member that is still alive is stopped.
func (j *Job) Stopped() bool {
	alive := false
	for _, p := range j.Processes {
		switch p.State {
		case Running:
			return false
		case Stopped:
			alive = true
		}
	}
	return alive
}

// Line renders the job the way the jobs builtin prints it.
func (j *Job) Line() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(strconv.Itoa(j.Number))
	b.WriteString("]")
	for _, pid := range j.Pids() {
		b.WriteString(" ")
		b.WriteString(strconv.Itoa(pid))
	}
	b.WriteString(" (")
	b.WriteString(j.Placement.String())
	b.WriteString(")")
	return b.String()
}

// Summary is a copy of a job that is safe to use without the table lock.
type Summary struct {
	Number    int              `json:"number"`
	Pgid      int              `json:"pgid"`
	Placement string           `json:"placement"`
	Command   string           `json:"command"`
	Processes []ProcessSummary `json:"processes"`
}

type ProcessSummary struct {
	Pid     int    `json:"pid"`
	Command string `json:"command"`
	State   string `json:"state"`
}

func (j *Job) summary() Summary {
	s := Summary{
		Number:    j.Number,
		Pgid:      j.Pgid,
		Placement: j.Placement.String(),
		Command:   j.Text,
		Processes: make([]ProcessSummary, 0, len(j.Processes)),
	}
	for _, p := range j.Processes {
		s.Processes = append(s.Processes, ProcessSummary{
			Pid:     p.Pid,
			Command: p.Command(),
			State:   p.State.String(),
		})
	}
	return s
}
