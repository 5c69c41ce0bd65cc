package reportconsumer

import (
	"context"
	"errors"

	kafkax "github.com/NordCoder/Deliverus/internal/repository/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	mConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "report_consumer_messages_consumed_total", Help: "Delivery reports consumed",
	})
	mApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "report_consumer_applied_total", Help: "Delivery reports applied to the ledger",
	})
	mDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_consumer_dropped_total", Help: "Delivery reports skipped without retry",
	}, []string{"reason"})
	mErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "report_consumer_errors_total", Help: "Errors",
	})
)

type Subscriber interface {
	Consume(ctx context.Context, h kafkax.Handler) error
}

type Runner struct {
	log *zap.Logger
	sub Subscriber
	h   *Handler
}

func NewRunner(log *zap.Logger, sub Subscriber, tr Translator) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{log: log, sub: sub, h: &Handler{Translator: tr, Log: log}}
}

func (r *Runner) Run(ctx context.Context) error {
	if err := r.sub.Consume(ctx, kafkax.JSONHandler(r.h.Handle)); err != nil && !errors.Is(err, context.Canceled) {
		mErrors.Inc()
		r.log.Warn("kafka consume", zap.Error(err))
		return err
	}
	return ctx.Err()
}
