// Package scheduler runs the bot's periodic housekeeping jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/igorsilveira/codebot/pkg/telemetry"
)

var ErrBusy = errors.New("scheduler: job already running")

type Job struct {
	Name     string
	Schedule string
	Func     func(ctx context.Context) error
	// RunAtStart runs the job once as soon as the scheduler starts.
	RunAtStart bool
}

type entry struct {
	job   Job
	every time.Duration
	// held while the job runs; a tick that finds it held is skipped
	running sync.Mutex
}

// Scheduler runs each job on its own ticker. Jobs never overlap with
// themselves.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string
}

func New() *Scheduler {
	return &Scheduler{entries: make(map[string]*entry)}
}

func (s *Scheduler) Add(job Job) error {
	every, err := parseSchedule(job.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", job.Schedule, err)
	}
	if every <= 0 {
		return fmt.Errorf("scheduler: schedule %q must be positive", job.Schedule)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[job.Name]; dup {
		return fmt.Errorf("scheduler: duplicate job %q", job.Name)
	}
	s.entries[job.Name] = &entry{job: job, every: every}
	s.order = append(s.order, job.Name)
	return nil
}

// Start blocks until ctx is done and every in-flight job has returned.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.order))
	for _, name := range s.order {
		entries = append(entries, s.entries[name])
	}
	s.mu.Unlock()

	logger := telemetry.FromContext(ctx)
	logger.Info("scheduler started", slog.Int("jobs", len(entries)))

	g, ctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			if e.job.RunAtStart {
				s.run(ctx, e)
			}
			t := time.NewTicker(e.every)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					s.run(ctx, e)
				}
			}
		})
	}
	return g.Wait()
}

// RunNow runs the named job synchronously, outside its schedule. It returns
// ErrBusy when the job is already running.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: no job named %q", name)
	}
	if !e.running.TryLock() {
		return ErrBusy
	}
	defer e.running.Unlock()
	return e.job.Func(ctx)
}

func (s *Scheduler) run(ctx context.Context, e *entry) {
	logger := telemetry.FromContext(ctx).With(slog.String("job", e.job.Name))
	if !e.running.TryLock() {
		logger.Debug("scheduler: previous run still active, skipping")
		return
	}
	defer e.running.Unlock()

	start := time.Now()
	if err := e.job.Func(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		telemetry.Metrics.ErrorsTotal.WithLabelValues("housekeeping").Inc()
		logger.Error("scheduler: job failed", slog.String("err", err.Error()))
		return
	}
	logger.Debug("scheduler: job done", slog.Duration("elapsed", time.Since(start)))
}

func parseSchedule(s string) (time.Duration, error) {
	switch s {
	case "@hourly":
		return time.Hour, nil
	case "@daily":
		return 24 * time.Hour, nil
	case "@weekly":
		return 7 * 24 * time.Hour, nil
	}
	if rest, ok := strings.CutPrefix(s, "@every "); ok {
		return time.ParseDuration(rest)
	}
	return time.ParseDuration(s)
}
