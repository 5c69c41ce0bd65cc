package retryscheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const defaultLimit = 100

type Retrier interface {
	Retry(ctx context.Context, id int64, actor notification.Actor) (*notification.Record, error)
}

type BulkResult struct {
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}

type TickResult struct {
	Fetched int
	Queued  int
	Skipped int
	Errors  int
}

type Usecase struct {
	Repo    notification.RecordRepo
	Ledger  Retrier
	Tx      notification.Transactor
	Events  notification.RetryPublisher
	Clk     notification.Clock
	Limiter *rate.Limiter
}

// NewUC wires the scheduler. events may be nil when nothing should be dispatched
// and limiter may be nil for unthrottled re-dispatch.
func NewUC(repo notification.RecordRepo, ledger Retrier, tx notification.Transactor, events notification.RetryPublisher, clk notification.Clock, limiter *rate.Limiter) *Usecase {
	if clk == nil {
		clk = notification.SystemClock{}
	}
	return &Usecase{Repo: repo, Ledger: ledger, Tx: tx, Events: events, Clk: clk, Limiter: limiter}
}

// GetRetryEligible lists failed records under the attempt cap whose backoff has elapsed,
// oldest first.
func (u *Usecase) GetRetryEligible(ctx context.Context, limit int) ([]*notification.Record, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	out, err := u.Repo.FetchRetryEligible(ctx, u.Clk.Now(), notification.MaxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch retry eligible: %w", err)
	}
	return out, nil
}

// BulkRetry retries every id independently. Ids that are missing or not retryable are
// skipped; storage failures are skipped too and reported together once the loop ends.
func (u *Usecase) BulkRetry(ctx context.Context, ids []int64, actor notification.Actor) (BulkResult, error) {
	if actor.Source == "" {
		actor.Source = notification.SourceCaller
	}
	ctx, span := otel.Tracer("retryscheduler.uc").Start(ctx, "retryscheduler.bulk_retry",
		trace.WithAttributes(attribute.Int("bulk.size", len(ids))),
	)
	defer span.End()

	var (
		res  BulkResult
		errs []error
	)
	for _, id := range ids {
		_, err := u.retryOne(ctx, id, actor)
		switch {
		case err == nil:
			res.Queued++
		case errors.Is(err, notification.ErrNotRetryable), errors.Is(err, notification.ErrNotFound):
			res.Skipped++
		default:
			res.Skipped++
			errs = append(errs, fmt.Errorf("retry %d: %w", id, err))
		}
	}
	span.SetAttributes(attribute.Int("bulk.queued", res.Queued), attribute.Int("bulk.skipped", res.Skipped))
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
	}
	return res, err
}

// Tick retries one batch of eligible records and enqueues their dispatch events.
func (u *Usecase) Tick(ctx context.Context, limit int) (TickResult, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	tr := otel.Tracer("retryscheduler.uc")
	ctxTick, span := tr.Start(ctx, "retryscheduler.tick",
		trace.WithAttributes(attribute.Int("batch.limit", limit)),
	)
	defer span.End()

	var res TickResult
	due, err := u.GetRetryEligible(ctxTick, limit)
	if err != nil {
		span.RecordError(err)
		res.Errors++
		return res, err
	}
	res.Fetched = len(due)
	span.SetAttributes(attribute.Int("batch.fetched", len(due)))

	actor := notification.Actor{Source: notification.SourceScheduler}
	for _, r := range due {
		if u.Limiter != nil {
			if err := u.Limiter.Wait(ctxTick); err != nil {
				return res, err
			}
		}
		ctxOne, sp := tr.Start(ctxTick, "retryscheduler.retry",
			trace.WithAttributes(
				attribute.Int64("notification.id", r.ID),
				attribute.Int("notification.retry_count", r.RetryCount),
			),
		)
		_, err := u.retryOne(ctxOne, r.ID, actor)
		switch {
		case err == nil:
			res.Queued++
			sp.SetAttributes(attribute.String("retry.status", "queued"))
		case errors.Is(err, notification.ErrNotRetryable), errors.Is(err, notification.ErrNotFound):
			res.Skipped++
			sp.SetAttributes(attribute.String("retry.status", "skipped"))
		default:
			res.Errors++
			sp.RecordError(err)
			sp.SetAttributes(attribute.String("retry.status", "error"))
		}
		sp.End()
	}

	span.SetAttributes(
		attribute.Int("batch.queued", res.Queued),
		attribute.Int("batch.errors", res.Errors),
	)
	return res, nil
}

// Retry moves one failed record back to pending and enqueues its dispatch event atomically.
func (u *Usecase) Retry(ctx context.Context, id int64, actor notification.Actor) (*notification.Record, error) {
	if actor.Source == "" {
		actor.Source = notification.SourceCaller
	}
	return u.retryOne(ctx, id, actor)
}

func (u *Usecase) retryOne(ctx context.Context, id int64, actor notification.Actor) (*notification.Record, error) {
	var out *notification.Record
	err := u.Tx.WithTx(ctx, func(ctx context.Context) error {
		r, err := u.Ledger.Retry(ctx, id, actor)
		if err != nil {
			return err
		}
		out = r
		if u.Events == nil {
			return nil
		}
		return u.Events.PublishRetryRequested(ctx, notification.RetryRequest{
			NotificationID: r.ID,
			Channel:        r.Channel,
			Recipient:      r.Recipient,
			RetryCount:     r.RetryCount,
			RequestedAt:    u.Clk.Now(),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
