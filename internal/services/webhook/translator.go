package webhook

import (
	"context"
	"strings"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/NordCoder/Deliverus/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const DefaultFailureMessage = "Delivery failed (webhook)"

var (
	mReports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_status_reports_total", Help: "Provider status reports by normalised status.",
	}, []string{"status"})
	mUnrecognised = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_unrecognised_status_total", Help: "Provider status reports with an unknown status string.",
	})
)

// Ledger is the subset of the ledger used by the translator.
type Ledger interface {
	Get(ctx context.Context, id int64) (*notification.Record, error)
	MarkDelivered(ctx context.Context, id int64, providerStatus map[string]any, actor notification.Actor) (*notification.Record, error)
	MarkRead(ctx context.Context, id int64, providerStatus map[string]any, actor notification.Actor) (*notification.Record, error)
	MarkFailed(ctx context.Context, id int64, errorMessage string, providerResponse map[string]any, actor notification.Actor) (*notification.Record, error)
}

type Translator struct {
	ledger Ledger
	log    *zap.Logger
}

func New(ledger Ledger, log *zap.Logger) *Translator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Translator{ledger: ledger, log: log}
}

// Apply maps an external provider status onto a ledger transition. Unknown status
// strings are logged and the record is returned unchanged.
func (t *Translator) Apply(ctx context.Context, id int64, externalStatus string, payload map[string]any, actor notification.Actor) (*notification.Record, error) {
	if actor.Source == "" {
		actor.Source = notification.SourceWebhook
	}
	status := strings.ToLower(strings.TrimSpace(externalStatus))

	ctx, span := otel.Tracer("webhook.translator").Start(ctx, "webhook.apply",
		trace.WithAttributes(
			attribute.Int64("notification.id", id),
			attribute.String("webhook.status", status),
		),
	)
	defer span.End()

	var (
		rec *notification.Record
		err error
	)
	switch notification.Status(status) {
	case notification.StatusDelivered:
		rec, err = t.ledger.MarkDelivered(ctx, id, payload, actor)
	case notification.StatusRead:
		rec, err = t.ledger.MarkRead(ctx, id, payload, actor)
	case notification.StatusFailed:
		rec, err = t.ledger.MarkFailed(ctx, id, FailureMessage(payload), payload, actor)
	default:
		rec, err = t.ledger.Get(ctx, id)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		mUnrecognised.Inc()
		obs.WithTrace(ctx, t.log).Warn("unrecognised webhook status",
			zap.Int64("id", id), zap.String("status", externalStatus), zap.String("source", string(actor.Source)))
		return rec, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	mReports.WithLabelValues(status).Inc()
	return rec, nil
}

// FailureMessage extracts payload.error as a string or as an object carrying "message".
func FailureMessage(payload map[string]any) string {
	switch e := payload["error"].(type) {
	case string:
		if e != "" {
			return e
		}
	case map[string]any:
		if m, ok := e["message"].(string); ok && m != "" {
			return m
		}
	}
	return DefaultFailureMessage
}
