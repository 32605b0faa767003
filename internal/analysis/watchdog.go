package analysis

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Watchdog periodically fails jobs whose progress stopped advancing, e.g.
// after a process crash mid-job. Recovery is a fresh StartJob.
type Watchdog struct {
	repo       Repository
	staleAfter time.Duration
	cron       *cron.Cron
	log        *zap.Logger
}

func NewWatchdog(repo Repository, schedule string, staleAfter time.Duration, log *zap.Logger) (*Watchdog, error) {
	if log == nil {
		log = zap.NewNop()
	}
	w := &Watchdog{
		repo:       repo,
		staleAfter: staleAfter,
		cron:       cron.New(),
		log:        log,
	}
	if _, err := w.cron.AddFunc(schedule, w.sweep); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Watchdog) Start() { w.cron.Start() }

// Stop halts scheduling; the returned context is done when an in-flight
// sweep finishes.
func (w *Watchdog) Stop() context.Context { return w.cron.Stop() }

func (w *Watchdog) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := w.repo.FailStaleJobs(ctx, w.staleAfter)
	if err != nil {
		w.log.Error("stale job sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		w.log.Warn("marked stale analysis jobs as failed", zap.Int64("count", n))
	}
}
