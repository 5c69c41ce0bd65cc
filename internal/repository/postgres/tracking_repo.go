package postgres

import (
	"context"
	"fmt"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
)

var _ notification.TrackingRepo = (*TrackingRepoImpl)(nil)

// TrackingRepoImpl is append-only. Rows disappear only through the FK cascade.
type TrackingRepoImpl struct{ db *DB }

func NewTrackingRepo(db *DB) *TrackingRepoImpl { return &TrackingRepoImpl{db: db} }

const (
	qTrackingInsert = `
INSERT INTO delivery_tracking_entries (notification_record_id, status, tracked_at, provider_status, metadata)
VALUES ($1, $2, $3, $4, $5)
RETURNING id;`

	qTrackingByRecord = `
SELECT id, notification_record_id, status, tracked_at, provider_status, metadata
FROM delivery_tracking_entries
WHERE notification_record_id = $1
ORDER BY tracked_at, id;`
)

func (r *TrackingRepoImpl) Append(ctx context.Context, e *notification.TrackingEntry) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	ps, err := marshalJSON(e.ProviderStatus)
	if err != nil {
		return fmt.Errorf("encode provider_status: %w", err)
	}
	md, err := marshalJSON(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	eq := r.db.execQueryer(ctx)
	if err := eq.QueryRow(ctx, qTrackingInsert, e.RecordID, string(e.Status), e.TrackedAt.UTC(), ps, md).Scan(&e.ID); err != nil {
		return wrapErr("insert tracking entry", err)
	}
	return nil
}

func (r *TrackingRepoImpl) ListByRecord(ctx context.Context, recordID int64) ([]*notification.TrackingEntry, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qTrackingByRecord, recordID)
	if err != nil {
		return nil, wrapErr("query tracking", err)
	}
	defer rows.Close()

	var out []*notification.TrackingEntry
	for rows.Next() {
		var (
			e      notification.TrackingEntry
			status string
			ps, md []byte
		)
		if err := rows.Scan(&e.ID, &e.RecordID, &status, &e.TrackedAt, &ps, &md); err != nil {
			return nil, wrapErr("scan tracking", err)
		}
		e.Status = notification.Status(status)
		if e.ProviderStatus, err = unmarshalJSON(ps); err != nil {
			return nil, fmt.Errorf("decode provider_status: %w", err)
		}
		if e.Metadata, err = unmarshalJSON(md); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("rows", err)
	}
	return out, nil
}
