// Package reconciler applies child status changes to the job table.
//
// It stands in for a SIGCHLD handler: Run waits for SIGCHLD on a channel,
// takes the table lock, drains every pending status, synchronizes the
// affected jobs and wakes anything blocked in Table.WaitUntil.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"stsh/internal/job"
	"stsh/internal/observability"
)

type Reconciler struct {
	table   *job.Table
	reaper  Reaper
	log     *slog.Logger
	metrics *observability.Metrics
}

func New(table *job.Table, reaper Reaper, log *slog.Logger, metrics *observability.Metrics) *Reconciler {
	if reaper == nil {
		reaper = WaitReaper{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Reconciler{table: table, reaper: reaper, log: log, metrics: metrics}
}

// Notify subscribes to SIGCHLD. The returned stop function unsubscribes.
func Notify() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGCHLD)
	return ch, func() { signal.Stop(ch) }
}

// Run reconciles once up front and then on every notification until ctx is
// done.
func (r *Reconciler) Run(ctx context.Context, notify <-chan os.Signal) error {
	r.Reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-notify:
			r.Reconcile(ctx)
		}
	}
}

// Reconcile drains all pending child status changes under the table lock and
// broadcasts to waiters. Logging happens after the lock is released.
func (r *Reconciler) Reconcile(ctx context.Context) {
	r.table.Lock()
	applied, err := r.Drain()
	r.table.Broadcast()
	r.table.Unlock()

	for _, st := range applied {
		r.log.Debug("child changed state",
			"pid", st.Pid,
			"change", st.Change.String(),
			"code", st.Code,
			"signal", st.Signal.String())
		r.metrics.ChildChanged(ctx, st.Change.String())
	}
	if err != nil {
		r.log.Warn("reaping children", "error", err)
	}
}

// Drain applies every pending status change. The caller must hold the table
// lock. A status for a pid the table does not know panics: the table and the
// kernel disagree about who our children are.
func (r *Reconciler) Drain() ([]Status, error) {
	var (
		applied []Status
		errs    []error
	)
	for {
		st, ok, err := r.reaper.Reap()
		if err != nil {
			errs = append(errs, fmt.Errorf("reap children: %w", err))
			break
		}
		if !ok {
			break
		}
		r.apply(st)
		applied = append(applied, st)
	}
	return applied, errors.Join(errs...)
}

func (r *Reconciler) apply(st Status) {
	j, ok := r.table.JobWithProcess(st.Pid)
	if !ok {
		panic(fmt.Sprintf("reconciler: pid %d is not in the job table", st.Pid))
	}
	p, ok := j.Process(st.Pid)
	if !ok {
		panic(fmt.Sprintf("reconciler: job %d has no process %d", j.Number, st.Pid))
	}
	switch st.Change {
	case Exited, Signaled:
		p.State = job.Terminated
	case StoppedBySignal:
		p.State = job.Stopped
	case Continued:
		p.State = job.Running
	}
	r.table.Synchronize(j)
}
