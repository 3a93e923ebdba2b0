// Package job holds the shell's job table.
//
// The table is shared between the command loop and the reconciler that
// reacts to SIGCHLD. Its lock plays the role a blocked SIGCHLD plays in a C
// shell: every method except Lock, Unlock and Snapshot expects the caller to
// hold it. Wait and WaitUntil release the lock while sleeping, the way
// sigsuspend unblocks the signal.
package job

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
)

type Table struct {
	mu    sync.Mutex
	cond  *sync.Cond
	jobs  map[int]*Job
	byPid map[int]*Job
}

func NewTable() *Table {
	t := &Table{
		jobs:  make(map[int]*Job),
		byPid: make(map[int]*Job),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *Table) Lock()   { t.mu.Lock() }
func (t *Table) Unlock() { t.mu.Unlock() }

// Wait releases the lock until the next Broadcast, then reacquires it.
func (t *Table) Wait() { t.cond.Wait() }

func (t *Table) Broadcast() { t.cond.Broadcast() }

// WaitUntil sleeps until done returns true. done is evaluated with the lock
// held, once before the first sleep and again after every wake.
func (t *Table) WaitUntil(done func() bool) {
	for !done() {
		t.cond.Wait()
	}
}

// AddJob creates an empty job numbered one above the highest live job.
func (t *Table) AddJob(placement Placement) *Job {
	number := 1
	for n := range t.jobs {
		if n >= number {
			number = n + 1
		}
	}
	j := &Job{Number: number, Placement: placement}
	t.jobs[number] = j
	return j
}

// AddProcess appends a running process to j. The first process added becomes
// the process group leader.
func (t *Table) AddProcess(j *Job, pid int, argv []string) *Process {
	p := &Process{Pid: pid, Argv: argv, State: Running}
	if len(j.Processes) == 0 {
		j.Pgid = pid
	}
	j.Processes = append(j.Processes, p)
	t.byPid[pid] = j
	return p
}

// Synchronize recomputes j's placement from its members and drops j from the
// table once every member has terminated.
func (t *Table) Synchronize(j *Job) {
	if j.Terminated() {
		t.remove(j)
		return
	}
	if j.Stopped() {
		j.Placement = Suspended
		return
	}
	if j.Placement == Suspended {
		// continued from outside the shell
		j.Placement = Background
	}
}

func (t *Table) remove(j *Job) {
	if cur, ok := t.jobs[j.Number]; ok && cur == j {
		delete(t.jobs, j.Number)
	}
	for _, p := range j.Processes {
		if cur, ok := t.byPid[p.Pid]; ok && cur == j {
			delete(t.byPid, p.Pid)
		}
	}
}

func (t *Table) ContainsJob(number int) bool {
	_, ok := t.jobs[number]
	return ok
}

func (t *Table) Job(number int) (*Job, bool) {
	j, ok := t.jobs[number]
	return j, ok
}

func (t *Table) ContainsProcess(pid int) bool {
	_, ok := t.byPid[pid]
	return ok
}

func (t *Table) JobWithProcess(pid int) (*Job, bool) {
	j, ok := t.byPid[pid]
	return j, ok
}

func (t *Table) HasForegroundJob() bool {
	_, ok := t.ForegroundJob()
	return ok
}

func (t *Table) ForegroundJob() (*Job, bool) {
	for _, j := range t.jobs {
		if j.Placement == Foreground {
			return j, true
		}
	}
	return nil, false
}

func (t *Table) Len() int {
	return len(t.jobs)
}

// Jobs returns the live jobs in ascending job number order.
func (t *Table) Jobs() []*Job {
	jobs := make([]*Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		jobs = append(jobs, j)
	}
	slices.SortFunc(jobs, func(a, b *Job) int { return a.Number - b.Number })
	return jobs
}

// Pgids returns the process group of every live job that has one.
func (t *Table) Pgids() []int {
	var pgids []int
	for _, j := range t.Jobs() {
		if j.Pgid > 0 {
			pgids = append(pgids, j.Pgid)
		}
	}
	return pgids
}

func (t *Table) Render(w io.Writer) error {
	for _, j := range t.Jobs() {
		if _, err := fmt.Fprintln(w, j.Line()); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) String() string {
	var b strings.Builder
	_ = t.Render(&b)
	return b.String()
}

// Snapshot copies the table under its own lock.
func (t *Table) Snapshot() []Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	jobs := t.Jobs()
	out := make([]Summary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.summary())
	}
	return out
}
