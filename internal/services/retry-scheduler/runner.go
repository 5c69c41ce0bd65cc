package retryscheduler

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	mFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retry_scheduler_eligible_fetched_total", Help: "Retry-eligible records fetched from storage",
	})
	mQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retry_scheduler_queued_total", Help: "Records moved back to pending with a dispatch event",
	})
	mSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retry_scheduler_skipped_total", Help: "Records no longer retryable when locked",
	})
	mErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retry_scheduler_errors_total", Help: "Errors in retry scheduler loop",
	})
	mLoopDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "retry_scheduler_loop_duration_seconds", Help: "Retry scheduler tick duration",
		Buckets: prometheus.DefBuckets,
	})
)

type Runner struct {
	Log        *zap.Logger
	UC         *Usecase
	Tick       time.Duration
	BatchLimit int
}

func New(log *zap.Logger, uc *Usecase, tick time.Duration, batchLimit int) *Runner {
	if tick <= 0 {
		tick = time.Minute
	}
	return &Runner{Log: log, UC: uc, Tick: tick, BatchLimit: batchLimit}
}

func (r *Runner) tick(ctx context.Context) {
	start := time.Now()
	res, err := r.UC.Tick(ctx, r.BatchLimit)
	if err != nil && ctx.Err() == nil {
		mErr.Inc()
		r.Log.Warn("tick error", zap.Error(err))
	}
	if res.Fetched > 0 {
		mFetched.Add(float64(res.Fetched))
		mQueued.Add(float64(res.Queued))
		mSkipped.Add(float64(res.Skipped))
		if res.Errors > 0 {
			mErr.Add(float64(res.Errors))
		}
		r.Log.Debug("retry batch", zap.Int("fetched", res.Fetched), zap.Int("queued", res.Queued),
			zap.Int("skipped", res.Skipped), zap.Int("errors", res.Errors))
	}
	mLoopDur.Observe(time.Since(start).Seconds())
}

func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Tick)
	defer ticker.Stop()

	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}
