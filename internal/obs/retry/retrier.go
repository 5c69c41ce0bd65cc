package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Backoff interface {
	Next(attempt int) time.Duration
}

type ExpoJitter struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

func (b ExpoJitter) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(b.Base) * math.Pow(2, float64(attempt))
	if b.Max > 0 && time.Duration(d) > b.Max {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		j := 1 + (rand.Float64()*2-1)*b.Jitter
		d *= j
	}
	return time.Duration(d)
}

// Policy describes how Do retries fn. A nil Backoff retries immediately.
type Policy struct {
	Name      string
	Attempts  int
	Backoff   Backoff
	Retryable func(error) bool
	OnAttempt func(attempt int, err error)
	OnExhaust func(lastErr error)
}

var (
	retryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_attempts_total",
		Help: "Calls made by retry.Do, first call included.",
	}, []string{"name"})
	retryOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_outcomes_total",
		Help: "Finished retry.Do runs by outcome (ok, exhausted, permanent, canceled).",
	}, []string{"name", "outcome"})
	retryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retry_duration_seconds",
		Help:    "Wall time of retry.Do including backoff waits.",
		Buckets: prometheus.DefBuckets,
	}, []string{"name"})
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Do returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do runs fn until it succeeds, fails permanently, runs out of attempts or ctx is done.
func Do(ctx context.Context, fn func() error, p Policy) error {
	name := p.Name
	if name == "" {
		name = "default"
	}
	attempts := max(p.Attempts, 1)
	retryable := p.Retryable
	if retryable == nil {
		retryable = func(err error) bool { return err != nil }
	}

	start := time.Now()
	finish := func(outcome string, err error) error {
		retryOutcomes.WithLabelValues(name, outcome).Inc()
		retryLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
		return err
	}
	span := trace.SpanFromContext(ctx)

	for i := 0; ; i++ {
		err := fn()
		retryAttempts.WithLabelValues(name).Inc()
		if err == nil {
			return finish("ok", nil)
		}
		if p.OnAttempt != nil {
			p.OnAttempt(i, err)
		}
		if span.IsRecording() {
			span.AddEvent("retry.attempt", trace.WithAttributes(
				attribute.Int("retry.attempt", i+1),
				attribute.String("retry.name", name),
				attribute.String("retry.error", err.Error()),
			))
		}

		permanent := IsPermanent(err)
		if permanent || !retryable(err) || i == attempts-1 {
			if p.OnExhaust != nil {
				p.OnExhaust(err)
			}
			if permanent {
				return finish("permanent", err)
			}
			return finish("exhausted", err)
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff.Next(i)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return finish("canceled", ctx.Err())
		case <-t.C:
		}
	}
}
