package archiver

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	mSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archiver_sweeps_total", Help: "Archival sweeps executed",
	})
	mErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "archiver_errors_total", Help: "Archival sweeps that returned an error",
	})
	mDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "archiver_sweep_duration_seconds", Help: "Archival sweep duration",
		Buckets: prometheus.DefBuckets,
	})
)

type Archiver interface {
	ArchiveOldLogs(ctx context.Context, daysOld int) (int, error)
}

// Runner periodically removes delivered, read and failed records older than DaysOld.
type Runner struct {
	Log     *zap.Logger
	Ledger  Archiver
	Every   time.Duration
	DaysOld int
}

func New(log *zap.Logger, ledger Archiver, every time.Duration, daysOld int) *Runner {
	if every <= 0 {
		every = time.Hour
	}
	if daysOld <= 0 {
		daysOld = 90
	}
	return &Runner{Log: log, Ledger: ledger, Every: every, DaysOld: daysOld}
}

func (r *Runner) sweep(ctx context.Context) int {
	start := time.Now()
	defer func() { mDur.Observe(time.Since(start).Seconds()) }()
	mSweeps.Inc()

	n, err := r.Ledger.ArchiveOldLogs(ctx, r.DaysOld)
	if err != nil {
		if ctx.Err() == nil {
			mErr.Inc()
			r.Log.Warn("archive sweep failed", zap.Int("deleted", n), zap.Error(err))
		}
		return n
	}
	if n > 0 {
		r.Log.Info("archived old records", zap.Int("deleted", n), zap.Int("days_old", r.DaysOld))
	}
	return n
}

func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Every)
	defer ticker.Stop()

	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}
