package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/NordCoder/Deliverus/internal/domain/outbox"
)

var _ notification.RetryPublisher = OutboxEvents{}

// OutboxEvents turns retry requests into outbox rows. Called inside the retry
// transaction, the event commits or rolls back together with the record.
type OutboxEvents struct{ R outbox.Repository }

func RetryKey(id int64, retryCount int) string {
	return fmt.Sprintf("retry:%d:%d", id, retryCount)
}

func (e OutboxEvents) PublishRetryRequested(ctx context.Context, req notification.RetryRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal retry request: %w", err)
	}
	return e.R.Enqueue(ctx, RetryKey(req.NotificationID, req.RetryCount), outbox.KindRetryRequested, data)
}
