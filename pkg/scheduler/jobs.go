package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/igorsilveira/codebot/pkg/audit"
	"github.com/igorsilveira/codebot/pkg/telemetry"
)

const (
	JobArtifactSweep = "artifact-sweep"
	JobAuditPrune    = "audit-prune"
)

// Sweeper removes sandbox artifacts older than a cutoff.
type Sweeper interface {
	Sweep(olderThan time.Duration) (int, error)
}

// Pruner deletes audit entries recorded before a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SweepJob deletes sandbox artifacts older than ttl and records the count. It
// also runs once at startup to clear what a previous process left behind.
func SweepJob(schedule string, sw Sweeper, ttl time.Duration, rec audit.Recorder) Job {
	if rec == nil {
		rec = audit.Nop{}
	}
	return Job{
		Name:       JobArtifactSweep,
		Schedule:   schedule,
		RunAtStart: true,
		Func: func(ctx context.Context) error {
			n, err := sw.Sweep(ttl)
			if err != nil {
				return fmt.Errorf("sweeping artifacts: %w", err)
			}
			if n > 0 {
				telemetry.FromContext(ctx).Info("artifacts removed", slog.Int("count", n))
				rec.Log(ctx, audit.EventSweep, "", "", "scheduler", map[string]int{"removed": n})
			}
			return nil
		},
	}
}

// PruneAuditJob keeps the audit log to the last retention. When p is also a
// Recorder the prune itself is recorded.
func PruneAuditJob(schedule string, p Pruner, retention time.Duration) Job {
	return Job{
		Name:     JobAuditPrune,
		Schedule: schedule,
		Func: func(ctx context.Context) error {
			n, err := p.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				return fmt.Errorf("pruning audit log: %w", err)
			}
			if n > 0 {
				telemetry.FromContext(ctx).Info("audit entries pruned", slog.Int64("count", n))
				if rec, ok := p.(audit.Recorder); ok {
					rec.Log(ctx, audit.EventAuditPrune, "", "", "scheduler", map[string]int64{"removed": n})
				}
			}
			return nil
		},
	}
}
