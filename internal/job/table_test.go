package job

import (
	"strings"
	"testing"
	"time"
)

func TestAddJobNumbering(t *testing.T) {
	table := NewTable()

	first := table.AddJob(Background)
	second := table.AddJob(Background)
	if first.Number != 1 || second.Number != 2 {
		t.Fatalf("expected job numbers 1 and 2, got %d and %d", first.Number, second.Number)
	}

	p := table.AddProcess(second, 200, []string{"sleep", "5"})
	p.State = Terminated
	table.Synchronize(second)
	if table.ContainsJob(2) {
		t.Fatalf("expected job 2 to be removed")
	}

	third := table.AddJob(Background)
	if third.Number != 2 {
		t.Fatalf("expected job number 2 to be reused, got %d", third.Number)
	}
}

func TestAddProcessSetsGroupAndIndex(t *testing.T) {
	table := NewTable()
	j := table.AddJob(Foreground)
	table.AddProcess(j, 101, []string{"sleep", "1"})
	table.AddProcess(j, 102, []string{"wc", "-l"})

	if j.Pgid != 101 {
		t.Fatalf("expected pgid 101, got %d", j.Pgid)
	}
	if len(j.Processes) != 2 {
		t.Fatalf("expected 2 processes, got %d", len(j.Processes))
	}
	for _, pid := range []int{101, 102} {
		owner, ok := table.JobWithProcess(pid)
		if !ok || owner != j {
			t.Fatalf("expected pid %d to map to job %d", pid, j.Number)
		}
	}
	if p, ok := j.Process(102); !ok || p.Command() != "wc -l" || p.State != Running {
		t.Fatalf("unexpected process 102: %+v", p)
	}
}

func TestSynchronizeRemovesOnlyWhenAllTerminated(t *testing.T) {
	table := NewTable()
	j := table.AddJob(Foreground)
	a := table.AddProcess(j, 11, []string{"a"})
	b := table.AddProcess(j, 12, []string{"b"})

	a.State = Terminated
	table.Synchronize(j)
	if !table.ContainsJob(j.Number) || !table.ContainsProcess(12) {
		t.Fatalf("job removed while a member is still running")
	}
	if j.Placement != Foreground {
		t.Fatalf("expected placement to stay foreground, got %v", j.Placement)
	}

	b.State = Terminated
	table.Synchronize(j)
	if table.ContainsJob(j.Number) {
		t.Fatalf("expected job to be removed once every member terminated")
	}
	if table.ContainsProcess(11) || table.ContainsProcess(12) {
		t.Fatalf("expected pid index entries to be removed")
	}
	if table.Len() != 0 {
		t.Fatalf("expected empty table, got %d jobs", table.Len())
	}
}

func TestSynchronizePlacement(t *testing.T) {
	table := NewTable()
	j := table.AddJob(Foreground)
	a := table.AddProcess(j, 21, []string{"a"})
	b := table.AddProcess(j, 22, []string{"b"})

	a.State = Stopped
	table.Synchronize(j)
	if j.Placement != Foreground {
		t.Fatalf("expected foreground while one member runs, got %v", j.Placement)
	}

	b.State = Terminated
	table.Synchronize(j)
	if j.Placement != Suspended {
		t.Fatalf("expected stopped once every live member is stopped, got %v", j.Placement)
	}
	if table.HasForegroundJob() {
		t.Fatalf("a stopped job must not count as foreground")
	}

	a.State = Running
	table.Synchronize(j)
	if j.Placement != Background {
		t.Fatalf("expected a job continued from outside to run in the background, got %v", j.Placement)
	}
}

func TestSynchronizeEmptyJobIsRemoved(t *testing.T) {
	table := NewTable()
	j := table.AddJob(Foreground)
	table.Synchronize(j)
	if table.ContainsJob(j.Number) {
		t.Fatalf("expected a job with no processes to be removed")
	}
}

func TestForegroundJob(t *testing.T) {
	table := NewTable()
	bg := table.AddJob(Background)
	table.AddProcess(bg, 31, []string{"sleep"})
	if table.HasForegroundJob() {
		t.Fatalf("unexpected foreground job")
	}

	fg := table.AddJob(Foreground)
	table.AddProcess(fg, 32, []string{"cat"})
	got, ok := table.ForegroundJob()
	if !ok || got != fg {
		t.Fatalf("expected job %d in the foreground", fg.Number)
	}
}

func TestPgidsSkipsJobsWithoutMembers(t *testing.T) {
	table := NewTable()
	a := table.AddJob(Background)
	table.AddProcess(a, 70, []string{"sleep"})
	table.AddJob(Foreground)
	c := table.AddJob(Background)
	table.AddProcess(c, 90, []string{"cat"})
	table.AddProcess(c, 91, []string{"wc"})

	got := table.Pgids()
	if len(got) != 2 || got[0] != 70 || got[1] != 90 {
		t.Fatalf("expected [70 90], got %v", got)
	}
}

func TestRender(t *testing.T) {
	table := NewTable()
	stopped := table.AddJob(Foreground)
	table.AddProcess(stopped, 41, []string{"vi"})
	bg := table.AddJob(Background)
	table.AddProcess(bg, 42, []string{"sleep", "30"})
	table.AddProcess(bg, 43, []string{"cat"})

	stopped.Processes[0].State = Stopped
	table.Synchronize(stopped)

	want := "[1] 41 (stopped)\n[2] 42 43 (background)\n"
	if got := table.String(); got != want {
		t.Fatalf("Render: got %q, want %q", got, want)
	}
}

func TestSnapshot(t *testing.T) {
	table := NewTable()
	table.Lock()
	j := table.AddJob(Background)
	j.Text = "sleep 30 &"
	table.AddProcess(j, 51, []string{"sleep", "30"})
	table.Unlock()

	snap := table.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 job in snapshot, got %d", len(snap))
	}
	s := snap[0]
	if s.Number != 1 || s.Pgid != 51 || s.Placement != "background" || s.Command != "sleep 30 &" {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if len(s.Processes) != 1 || s.Processes[0].State != "running" || !strings.HasPrefix(s.Processes[0].Command, "sleep") {
		t.Fatalf("unexpected process summary: %+v", s.Processes)
	}
}

func TestWaitUntilWakesOnBroadcast(t *testing.T) {
	table := NewTable()
	table.Lock()
	j := table.AddJob(Foreground)
	p := table.AddProcess(j, 61, []string{"sleep"})
	table.Unlock()

	go func() {
		time.Sleep(20 * time.Millisecond)
		table.Lock()
		// a wake that does not change the predicate
		table.Broadcast()
		table.Unlock()

		time.Sleep(20 * time.Millisecond)
		table.Lock()
		p.State = Stopped
		table.Synchronize(j)
		table.Broadcast()
		table.Unlock()
	}()

	done := make(chan struct{})
	go func() {
		table.Lock()
		table.WaitUntil(func() bool { return j.Placement != Foreground })
		table.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("WaitUntil did not return after the job stopped")
	}
	if j.Placement != Suspended {
		t.Fatalf("expected job to be stopped, got %v", j.Placement)
	}
}
