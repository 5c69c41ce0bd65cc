package notification

import (
	"context"
	"time"
)

type RecordRepo interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id int64) (*Record, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*Record, error)
	Update(ctx context.Context, r *Record) error
	ListBySubject(ctx context.Context, subject SubjectRef, f HistoryFilter) ([]*Record, int, error)
	FetchRetryEligible(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*Record, error)
	// ListArchivable returns up to limit ids greater than afterID, ascending.
	ListArchivable(ctx context.Context, before time.Time, afterID int64, limit int) ([]int64, error)
	// DeleteArchivable re-checks status and age for every id before deleting.
	DeleteArchivable(ctx context.Context, ids []int64, before time.Time) (int, error)
}

type TrackingRepo interface {
	Append(ctx context.Context, e *TrackingEntry) error
	ListByRecord(ctx context.Context, recordID int64) ([]*TrackingEntry, error)
}

// StatsRepo is read-only. Aggregations are restricted to created_at within the range.
type StatsRepo interface {
	CountByStatus(ctx context.Context, r DateRange) (map[Status]int64, error)
	CountByChannel(ctx context.Context, r DateRange) (map[Channel]int64, error)
	CountFailed(ctx context.Context) (current, permanent int64, err error)
	TopTemplates(ctx context.Context, r DateRange, n int) ([]Bucket, error)
	TopNotificationTypes(ctx context.Context, r DateRange, n int) ([]Bucket, error)
}

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RetryRequest is handed to the transport layer once a record is moved back to pending.
type RetryRequest struct {
	NotificationID int64     `json:"notification_id"`
	Channel        Channel   `json:"channel"`
	Recipient      string    `json:"recipient"`
	RetryCount     int       `json:"retry_count"`
	RequestedAt    time.Time `json:"requested_at"`
}

type RetryPublisher interface {
	PublishRetryRequested(ctx context.Context, req RetryRequest) error
}
