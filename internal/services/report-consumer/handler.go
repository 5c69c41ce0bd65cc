package reportconsumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	kafkax "github.com/NordCoder/Deliverus/internal/repository/kafka"
	"go.uber.org/zap"
)

// DeliveryReport is one provider status report read from the delivery-report topic.
type DeliveryReport struct {
	NotificationID int64          `json:"notification_id"`
	Status         string         `json:"status"`
	ProviderData   map[string]any `json:"provider_data"`
	RequestID      string         `json:"request_id,omitempty"`
}

type Translator interface {
	Apply(ctx context.Context, id int64, externalStatus string, payload map[string]any, actor notification.Actor) (*notification.Record, error)
}

type Handler struct {
	Translator Translator
	Log        *zap.Logger
}

// Handle applies a report. Reports that can never succeed are returned as
// kafkax.ErrMalformed so the consumer commits past them.
func (h *Handler) Handle(ctx context.Context, key []byte, rep *DeliveryReport) error {
	mConsumed.Inc()
	if rep.NotificationID <= 0 {
		mDropped.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: report without notification_id", kafkax.ErrMalformed)
	}

	actor := notification.Actor{
		Source:    notification.SourceReport,
		ID:        string(key),
		RequestID: rep.RequestID,
	}
	_, err := h.Translator.Apply(ctx, rep.NotificationID, rep.Status, rep.ProviderData, actor)
	switch {
	case err == nil:
		mApplied.Inc()
		return nil
	case errors.Is(err, notification.ErrNotFound):
		mDropped.WithLabelValues("not_found").Inc()
		return fmt.Errorf("%w: %v", kafkax.ErrMalformed, err)
	case errors.Is(err, notification.ErrInvalidTransition):
		mDropped.WithLabelValues("invalid_transition").Inc()
		h.Log.Debug("stale delivery report", zap.Int64("id", rep.NotificationID), zap.String("status", rep.Status))
		return fmt.Errorf("%w: %v", kafkax.ErrMalformed, err)
	default:
		mErrors.Inc()
		return fmt.Errorf("apply report %d: %w", rep.NotificationID, err)
	}
}
