package kafka

import (
	"context"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
)

var _ notification.RetryPublisher = (*RetryEventsKafka)(nil)

// RetryEventsKafka publishes retry_requested events keyed by record id, so all
// attempts of one record land on the same partition.
type RetryEventsKafka struct {
	p *Producer
}

func NewRetryEventsKafka(p *Producer) *RetryEventsKafka { return &RetryEventsKafka{p: p} }

func (e *RetryEventsKafka) PublishRetryRequested(ctx context.Context, req notification.RetryRequest) error {
	return e.p.PublishJSON(ctx, KeyFromInt64(req.NotificationID), req)
}
