package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/NordCoder/Deliverus/internal/obs"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultArchiveBatch = 500

var (
	mTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transitions_total", Help: "Status transitions applied to notification records.",
	}, []string{"status", "source"})
	mRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transitions_rejected_total", Help: "Transitions refused by the state machine.",
	}, []string{"status"})
	mArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_archived_records_total", Help: "Records removed by the archival sweep.",
	})
)

type AttemptRequest struct {
	Subject            notification.SubjectRef `json:"subject"`
	NotificationTypeID *int64                  `json:"notification_type_id,omitempty"`
	TemplateID         *int64                  `json:"template_id,omitempty"`
	Channel            notification.Channel    `json:"channel" validate:"required,oneof=whatsapp email sms"`
	Recipient          string                  `json:"recipient" validate:"required,max=255"`
	SubjectLine        string                  `json:"subject_line,omitempty" validate:"max=255"`
	MessageContent     string                  `json:"message_content" validate:"required"`
	VariablesUsed      map[string]any          `json:"variables_used,omitempty"`
	SentBy             *string                 `json:"sent_by,omitempty"`
}

type Ledger struct {
	records  notification.RecordRepo
	tracking notification.TrackingRepo
	tx       notification.Transactor
	clk      notification.Clock
	log      *zap.Logger
	validate *validator.Validate

	archiveBatch int
}

type Option func(*Ledger)

func WithClock(c notification.Clock) Option { return func(l *Ledger) { l.clk = c } }

func WithArchiveBatch(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.archiveBatch = n
		}
	}
}

func New(records notification.RecordRepo, tracking notification.TrackingRepo, tx notification.Transactor, log *zap.Logger, opts ...Option) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Ledger{
		records:      records,
		tracking:     tracking,
		tx:           tx,
		clk:          notification.SystemClock{},
		log:          log,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		archiveBatch: defaultArchiveBatch,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Ledger) Now() time.Time { return l.clk.Now() }

// LogAttempt persists a pending record. No tracking entry is written for creation.
func (l *Ledger) LogAttempt(ctx context.Context, req AttemptRequest, actor notification.Actor) (*notification.Record, error) {
	ctx, span := otel.Tracer("ledger.uc").Start(ctx, "ledger.log_attempt",
		trace.WithAttributes(attribute.String("notification.channel", string(req.Channel))),
	)
	defer span.End()

	if err := l.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", notification.ErrInvalidArgument, err)
	}

	r := notification.NewRecord(req.Subject, req.Channel, req.Recipient, req.MessageContent, l.clk.Now())
	r.NotificationTypeID = req.NotificationTypeID
	r.TemplateID = req.TemplateID
	r.SubjectLine = req.SubjectLine
	r.VariablesUsed = req.VariablesUsed
	r.SentBy = req.SentBy
	if r.SentBy == nil && actor.ID != "" {
		id := actor.ID
		r.SentBy = &id
	}

	if err := l.records.Create(ctx, r); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("log attempt: %w", err)
	}
	span.SetAttributes(attribute.Int64("notification.id", r.ID))
	obs.WithTrace(ctx, l.log).Debug("attempt logged",
		zap.Int64("id", r.ID), zap.String("channel", string(r.Channel)), zap.String("subject_type", r.Subject.Type))
	return r, nil
}

func (l *Ledger) MarkSent(ctx context.Context, id int64, providerResponse map[string]any, actor notification.Actor) (*notification.Record, error) {
	return l.transition(ctx, id, notification.StatusSent, providerResponse, actor, func(r *notification.Record, now time.Time) error {
		return r.MarkSent(now, providerResponse)
	})
}

func (l *Ledger) MarkDelivered(ctx context.Context, id int64, providerStatus map[string]any, actor notification.Actor) (*notification.Record, error) {
	return l.transition(ctx, id, notification.StatusDelivered, providerStatus, actor, func(r *notification.Record, now time.Time) error {
		return r.MarkDelivered(now, providerStatus)
	})
}

func (l *Ledger) MarkRead(ctx context.Context, id int64, providerStatus map[string]any, actor notification.Actor) (*notification.Record, error) {
	return l.transition(ctx, id, notification.StatusRead, providerStatus, actor, func(r *notification.Record, now time.Time) error {
		return r.MarkRead(now, providerStatus)
	})
}

func (l *Ledger) MarkFailed(ctx context.Context, id int64, errorMessage string, providerResponse map[string]any, actor notification.Actor) (*notification.Record, error) {
	status := map[string]any{"error": errorMessage}
	for k, v := range providerResponse {
		status[k] = v
	}
	return l.transition(ctx, id, notification.StatusFailed, status, actor, func(r *notification.Record, now time.Time) error {
		return r.MarkFailed(now, errorMessage, providerResponse)
	})
}

// Retry moves a failed record back to pending. Resending is left to the transport layer.
func (l *Ledger) Retry(ctx context.Context, id int64, actor notification.Actor) (*notification.Record, error) {
	return l.transition(ctx, id, notification.StatusPending, nil, actor, func(r *notification.Record, now time.Time) error {
		return r.Retry(now)
	})
}

func (l *Ledger) RetryNotification(ctx context.Context, id int64, actor notification.Actor) (bool, error) {
	if _, err := l.Retry(ctx, id, actor); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Ledger) transition(
	ctx context.Context,
	id int64,
	to notification.Status,
	providerStatus map[string]any,
	actor notification.Actor,
	apply func(r *notification.Record, now time.Time) error,
) (*notification.Record, error) {
	if actor.Source == "" {
		actor.Source = notification.SourceCaller
	}
	ctx, span := otel.Tracer("ledger.uc").Start(ctx, "ledger.transition",
		trace.WithAttributes(
			attribute.Int64("notification.id", id),
			attribute.String("notification.to", string(to)),
			attribute.String("actor.source", string(actor.Source)),
		),
	)
	defer span.End()

	var out *notification.Record
	err := l.tx.WithTx(ctx, func(ctx context.Context) error {
		r, err := l.records.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		prev := r.Status
		now := l.clk.Now()
		if err := apply(r, now); err != nil {
			return err
		}
		if err := l.records.Update(ctx, r); err != nil {
			return err
		}
		entry := &notification.TrackingEntry{
			RecordID:       r.ID,
			Status:         r.Status,
			TrackedAt:      now,
			ProviderStatus: providerStatus,
			Metadata:       entryMetadata(prev, actor),
		}
		if err := l.tracking.Append(ctx, entry); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		span.RecordError(err)
		log := obs.WithTrace(ctx, l.log)
		switch {
		case errors.Is(err, notification.ErrInvalidTransition), errors.Is(err, notification.ErrNotRetryable):
			mRejected.WithLabelValues(string(to)).Inc()
			log.Debug("transition rejected", zap.Int64("id", id), zap.String("to", string(to)), zap.Error(err))
		case errors.Is(err, notification.ErrNotFound):
		default:
			log.Error("transition failed", zap.Int64("id", id), zap.String("to", string(to)), zap.Error(err))
		}
		return nil, err
	}
	mTransitions.WithLabelValues(string(to), string(actor.Source)).Inc()
	return out, nil
}

func entryMetadata(prev notification.Status, a notification.Actor) map[string]any {
	md := map[string]any{
		"previous_status": string(prev),
		"source":          string(a.Source),
	}
	put := func(k, v string) {
		if v != "" {
			md[k] = v
		}
	}
	put("actor_id", a.ID)
	put("request_id", a.RequestID)
	put("ip", a.IP)
	put("user_agent", a.UserAgent)
	return md
}

// ArchiveOldLogs deletes sent, delivered and read records created more than daysOld days ago.
// Ids are read in keyset batches and every delete re-checks status and age, so records that
// changed in between are kept.
func (l *Ledger) ArchiveOldLogs(ctx context.Context, daysOld int) (int, error) {
	if daysOld < 1 {
		return 0, fmt.Errorf("%w: daysOld must be >= 1, got %d", notification.ErrInvalidArgument, daysOld)
	}
	ctx, span := otel.Tracer("ledger.uc").Start(ctx, "ledger.archive",
		trace.WithAttributes(attribute.Int("archive.days_old", daysOld)),
	)
	defer span.End()

	cutoff := l.clk.Now().Add(-time.Duration(daysOld) * 24 * time.Hour)
	var (
		total  int
		lastID int64
	)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		ids, err := l.records.ListArchivable(ctx, cutoff, lastID, l.archiveBatch)
		if err != nil {
			span.RecordError(err)
			return total, fmt.Errorf("list archivable: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		n, err := l.records.DeleteArchivable(ctx, ids, cutoff)
		if err != nil {
			span.RecordError(err)
			return total, fmt.Errorf("delete archivable: %w", err)
		}
		total += n
		lastID = ids[len(ids)-1]
	}

	mArchived.Add(float64(total))
	span.SetAttributes(attribute.Int("archive.deleted", total))
	obs.WithTrace(ctx, l.log).Info("archive sweep done",
		zap.Int("days_old", daysOld), zap.Time("cutoff", cutoff), zap.Int("deleted", total))
	return total, nil
}

func (l *Ledger) GetHistory(ctx context.Context, subject notification.SubjectRef, f notification.HistoryFilter) (*notification.Page, error) {
	if subject.Type == "" || subject.ID == "" {
		return nil, fmt.Errorf("%w: subject type and id are required", notification.ErrInvalidArgument)
	}
	if f.Channel != nil && !f.Channel.Valid() {
		return nil, fmt.Errorf("%w: unknown channel %q", notification.ErrInvalidArgument, *f.Channel)
	}
	if f.Status != nil && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", notification.ErrInvalidArgument, *f.Status)
	}
	f = f.Normalize()

	items, total, err := l.records.ListBySubject(ctx, subject, f)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return notification.NewPage(items, f, total), nil
}

func (l *Ledger) Get(ctx context.Context, id int64) (*notification.Record, error) {
	return l.records.GetByID(ctx, id)
}

func (l *Ledger) Tracking(ctx context.Context, id int64) ([]*notification.TrackingEntry, error) {
	if _, err := l.records.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return l.tracking.ListByRecord(ctx, id)
}
