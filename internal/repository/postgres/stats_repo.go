package postgres

import (
	"context"
	"fmt"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/jackc/pgx/v5"
)

var _ notification.StatsRepo = (*StatsRepoImpl)(nil)

type StatsRepoImpl struct{ db *DB }

func NewStatsRepo(db *DB) *StatsRepoImpl { return &StatsRepoImpl{db: db} }

// $1 and $2 are the optional range bounds.
const rangeCond = `($1::timestamptz IS NULL OR created_at >= $1) AND ($2::timestamptz IS NULL OR created_at <= $2)`

const (
	qStatsByStatus = `
SELECT status, count(*)
FROM notification_records
WHERE ` + rangeCond + `
GROUP BY status;`

	qStatsByChannel = `
SELECT channel, count(*)
FROM notification_records
WHERE ` + rangeCond + `
GROUP BY channel;`

	qStatsFailed = `
SELECT count(*),
       count(*) FILTER (WHERE retry_count >= $1)
FROM notification_records
WHERE status = 'failed';`

	qStatsTopTemplates = `
SELECT template_id, count(*) AS cnt
FROM notification_records
WHERE template_id IS NOT NULL AND ` + rangeCond + `
GROUP BY template_id
ORDER BY cnt DESC, template_id
LIMIT $3;`

	qStatsTopTypes = `
SELECT notification_type_id, count(*) AS cnt
FROM notification_records
WHERE notification_type_id IS NOT NULL AND ` + rangeCond + `
GROUP BY notification_type_id
ORDER BY cnt DESC, notification_type_id
LIMIT $3;`
)

func (r *StatsRepoImpl) CountByStatus(ctx context.Context, dr notification.DateRange) (map[notification.Status]int64, error) {
	out := map[notification.Status]int64{}
	err := r.grouped(ctx, qStatsByStatus, dr, func(k string, n int64) { out[notification.Status(k)] = n })
	return out, err
}

func (r *StatsRepoImpl) CountByChannel(ctx context.Context, dr notification.DateRange) (map[notification.Channel]int64, error) {
	out := map[notification.Channel]int64{}
	err := r.grouped(ctx, qStatsByChannel, dr, func(k string, n int64) { out[notification.Channel(k)] = n })
	return out, err
}

func (r *StatsRepoImpl) grouped(ctx context.Context, q string, dr notification.DateRange, put func(string, int64)) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, q, utcPtr(dr.From), utcPtr(dr.To))
	if err != nil {
		return wrapErr("stats group", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			k string
			n int64
		)
		if err := rows.Scan(&k, &n); err != nil {
			return wrapErr("stats scan", err)
		}
		put(k, n)
	}
	return wrapErr("rows", rows.Err())
}

func (r *StatsRepoImpl) CountFailed(ctx context.Context) (int64, int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var current, permanent int64
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qStatsFailed, notification.MaxAttempts).Scan(&current, &permanent); err != nil {
		return 0, 0, wrapErr("stats failed", err)
	}
	return current, permanent, nil
}

func (r *StatsRepoImpl) TopTemplates(ctx context.Context, dr notification.DateRange, n int) ([]notification.Bucket, error) {
	return r.top(ctx, qStatsTopTemplates, dr, n)
}

func (r *StatsRepoImpl) TopNotificationTypes(ctx context.Context, dr notification.DateRange, n int) ([]notification.Bucket, error) {
	return r.top(ctx, qStatsTopTypes, dr, n)
}

func (r *StatsRepoImpl) top(ctx context.Context, q string, dr notification.DateRange, n int) ([]notification.Bucket, error) {
	if n <= 0 {
		return nil, nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, q, utcPtr(dr.From), utcPtr(dr.To), n)
	if err != nil {
		return nil, wrapErr("stats top", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (notification.Bucket, error) {
		var b notification.Bucket
		err := row.Scan(&b.ID, &b.Count)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("stats top: %w", wrapErr("scan", err))
	}
	return out, nil
}
