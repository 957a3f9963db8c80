package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/igorsilveira/codebot/pkg/audit"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"@hourly", time.Hour, false},
		{"@daily", 24 * time.Hour, false},
		{"@weekly", 7 * 24 * time.Hour, false},
		{"@every 5m", 5 * time.Minute, false},
		{"@every 1h30m", 90 * time.Minute, false},
		{"30s", 30 * time.Second, false},
		{"invalid", 0, true},
	}

	for _, tt := range tests {
		d, err := parseSchedule(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseSchedule(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if d != tt.expected {
			t.Errorf("parseSchedule(%q) = %v, want %v", tt.input, d, tt.expected)
		}
	}
}

func TestAddInvalidSchedule(t *testing.T) {
	s := New()
	for _, sched := range []string{"not-a-schedule", "-5s", "0s"} {
		err := s.Add(Job{
			Name:     "bad",
			Schedule: sched,
			Func:     func(ctx context.Context) error { return nil },
		})
		if err == nil {
			t.Errorf("Add(%q): expected error", sched)
		}
	}
}

func startScheduler(t *testing.T, s *Scheduler) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler did not stop")
		}
	}
}

func TestSchedulerRuns(t *testing.T) {
	s := New()
	var count atomic.Int32
	if err := s.Add(Job{
		Name:     "counter",
		Schedule: "@every 20ms",
		Func: func(ctx context.Context) error {
			count.Add(1)
			return nil
		},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	stop := startScheduler(t, s)
	time.Sleep(200 * time.Millisecond)
	stop()

	if c := count.Load(); c < 2 {
		t.Errorf("count = %d, expected at least 2", c)
	}
}

func TestRunAtStart(t *testing.T) {
	s := New()
	ran := make(chan struct{}, 1)
	s.Add(Job{Name: "boot", Schedule: "@daily", RunAtStart: true, Func: func(context.Context) error {
		ran <- struct{}{}
		return nil
	}})

	stop := startScheduler(t, s)
	defer stop()
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("RunAtStart job did not run")
	}
}

func TestSchedulerSkipsBusyJob(t *testing.T) {
	s := New()
	var running, maxRunning atomic.Int32
	release := make(chan struct{})

	s.Add(Job{
		Name:     "slow",
		Schedule: "5ms",
		Func: func(ctx context.Context) error {
			n := running.Add(1)
			if n > maxRunning.Load() {
				maxRunning.Store(n)
			}
			<-release
			running.Add(-1)
			return nil
		},
	})

	stop := startScheduler(t, s)
	time.Sleep(100 * time.Millisecond)
	if err := s.RunNow(context.Background(), "slow"); !errors.Is(err, ErrBusy) {
		t.Errorf("RunNow while running = %v, want ErrBusy", err)
	}
	close(release)
	stop()

	if m := maxRunning.Load(); m != 1 {
		t.Errorf("max concurrent runs = %d, want 1", m)
	}
}

func TestAddDuplicate(t *testing.T) {
	s := New()
	job := Job{Name: "dup", Schedule: "@hourly", Func: func(context.Context) error { return nil }}
	if err := s.Add(job); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(job); err == nil {
		t.Error("expected error for duplicate job name")
	}
}

func TestStartWithoutJobs(t *testing.T) {
	stop := startScheduler(t, New())
	stop()
}

func TestRunNow(t *testing.T) {
	s := New()
	var ran bool
	s.Add(Job{Name: "once", Schedule: "@daily", Func: func(context.Context) error {
		ran = true
		return nil
	}})

	if err := s.RunNow(context.Background(), "once"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if !ran {
		t.Error("job did not run")
	}
	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown job")
	}
}

type fakeSweeper struct {
	ttl time.Duration
	n   int
	err error
}

func (f *fakeSweeper) Sweep(olderThan time.Duration) (int, error) {
	f.ttl = olderThan
	return f.n, f.err
}

type countingAudit struct {
	events []string
}

func (c *countingAudit) Log(_ context.Context, eventType, _, _, _ string, _ any) error {
	c.events = append(c.events, eventType)
	return nil
}

func TestSweepJob(t *testing.T) {
	sw := &fakeSweeper{n: 3}
	rec := &countingAudit{}
	job := SweepJob("@hourly", sw, 24*time.Hour, rec)

	if err := job.Func(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sw.ttl != 24*time.Hour {
		t.Errorf("ttl = %s", sw.ttl)
	}
	if len(rec.events) != 1 || rec.events[0] != audit.EventSweep {
		t.Errorf("audit events = %v", rec.events)
	}

	sw.err = errors.New("disk gone")
	if err := job.Func(context.Background()); err == nil {
		t.Error("expected sweep error")
	}
}

type fakePruner struct {
	countingAudit
	before time.Time
}

func (f *fakePruner) Prune(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return 2, nil
}

func TestPruneAuditJob(t *testing.T) {
	p := &fakePruner{}
	job := PruneAuditJob("@daily", p, time.Hour)
	if err := job.Func(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if d := time.Since(p.before); d < time.Hour || d > time.Hour+time.Minute {
		t.Errorf("cutoff %s ago, want about an hour", d)
	}
	if len(p.events) != 1 || p.events[0] != audit.EventAuditPrune {
		t.Errorf("audit events = %v", p.events)
	}
}
