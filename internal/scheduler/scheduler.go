package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Pruner deletes audit records older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler runs periodic maintenance for the audit log.
type Scheduler struct {
	cron      *cron.Cron
	pruner    Pruner
	retention time.Duration
}

// New schedules audit pruning on a standard five-field cron schedule.
func New(pruner Pruner, retention time.Duration, schedule string) (*Scheduler, error) {
	if schedule == "" {
		schedule = "0 3 * * *"
	}
	s := &Scheduler{
		cron:      cron.New(),
		pruner:    pruner,
		retention: retention,
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.PruneNow(context.Background()) }); err != nil {
		return nil, eris.Wrapf(err, "scheduler: parse %q", schedule)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// PruneNow deletes records older than the retention window.
func (s *Scheduler) PruneNow(ctx context.Context) int64 {
	cutoff := time.Now().Add(-s.retention)
	n, err := s.pruner.Prune(ctx, cutoff)
	if err != nil {
		zap.L().Error("audit prune failed", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0
	}
	zap.L().Info("audit pruned", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return n
}
