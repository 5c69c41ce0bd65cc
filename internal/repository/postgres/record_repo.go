package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/jackc/pgx/v5"
)

var _ notification.RecordRepo = (*RecordRepoImpl)(nil)

type RecordRepoImpl struct{ db *DB }

func NewRecordRepo(db *DB) *RecordRepoImpl { return &RecordRepoImpl{db: db} }

const recordColumns = `
id, subject_type, subject_id, notification_type_id, template_id, channel, recipient, subject,
message_content, variables_used, status, sent_by, retry_count, next_retry_at, error_message,
provider_response, sent_at, delivered_at, read_at, created_at, updated_at`

const (
	qRecordInsert = `
INSERT INTO notification_records (
    subject_type, subject_id, notification_type_id, template_id, channel, recipient, subject,
    message_content, variables_used, status, sent_by, retry_count, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
RETURNING id;`

	qRecordGet = `SELECT` + recordColumns + `
FROM notification_records
WHERE id = $1;`

	qRecordGetForUpdate = `SELECT` + recordColumns + `
FROM notification_records
WHERE id = $1
FOR UPDATE;`

	qRecordUpdate = `
UPDATE notification_records
SET status = $2,
    retry_count = $3,
    next_retry_at = $4,
    error_message = $5,
    provider_response = $6,
    sent_at = $7,
    delivered_at = $8,
    read_at = $9,
    updated_at = $10
WHERE id = $1;`

	qRecordRetryEligible = `SELECT` + recordColumns + `
FROM notification_records
WHERE status = 'failed'
  AND retry_count < $2
  AND (next_retry_at IS NULL OR next_retry_at <= $1)
ORDER BY created_at, id
LIMIT $3;`

	qRecordArchivable = `
SELECT id
FROM notification_records
WHERE id > $1
  AND status IN ('sent', 'delivered', 'read')
  AND created_at < $2
ORDER BY id
LIMIT $3;`

	qRecordDeleteArchivable = `
DELETE FROM notification_records
WHERE id = ANY($1)
  AND status IN ('sent', 'delivered', 'read')
  AND created_at < $2;`
)

func scanFull(row pgx.Row, r *notification.Record) error {
	var (
		channel, status string
		vars, resp      []byte
	)
	if err := row.Scan(
		&r.ID,
		&r.Subject.Type,
		&r.Subject.ID,
		&r.NotificationTypeID,
		&r.TemplateID,
		&channel,
		&r.Recipient,
		&r.SubjectLine,
		&r.MessageContent,
		&vars,
		&status,
		&r.SentBy,
		&r.RetryCount,
		&r.NextRetryAt,
		&r.ErrorMessage,
		&resp,
		&r.SentAt,
		&r.DeliveredAt,
		&r.ReadAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return wrapErr("scan record", err)
	}
	r.Channel = notification.Channel(channel)
	r.Status = notification.Status(status)

	var err error
	if r.VariablesUsed, err = unmarshalJSON(vars); err != nil {
		return fmt.Errorf("decode variables_used: %w", err)
	}
	if r.ProviderResponse, err = unmarshalJSON(resp); err != nil {
		return fmt.Errorf("decode provider_response: %w", err)
	}
	return nil
}

func (r *RecordRepoImpl) Create(ctx context.Context, rec *notification.Record) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	vars, err := marshalJSON(rec.VariablesUsed)
	if err != nil {
		return fmt.Errorf("encode variables_used: %w", err)
	}

	eq := r.db.execQueryer(ctx)
	if err := eq.QueryRow(ctx, qRecordInsert,
		rec.Subject.Type,
		rec.Subject.ID,
		rec.NotificationTypeID,
		rec.TemplateID,
		string(rec.Channel),
		rec.Recipient,
		rec.SubjectLine,
		rec.MessageContent,
		vars,
		string(rec.Status),
		rec.SentBy,
		rec.RetryCount,
		rec.CreatedAt.UTC(),
	).Scan(&rec.ID); err != nil {
		return wrapErr("insert record", err)
	}
	return nil
}

func (r *RecordRepoImpl) GetByID(ctx context.Context, id int64) (*notification.Record, error) {
	return r.get(ctx, qRecordGet, id)
}

func (r *RecordRepoImpl) GetForUpdate(ctx context.Context, id int64) (*notification.Record, error) {
	return r.get(ctx, qRecordGetForUpdate, id)
}

func (r *RecordRepoImpl) get(ctx context.Context, q string, id int64) (*notification.Record, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var rec notification.Record
	if err := scanFull(r.db.execQueryer(ctx).QueryRow(ctx, q, id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RecordRepoImpl) Update(ctx context.Context, rec *notification.Record) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	resp, err := marshalJSON(rec.ProviderResponse)
	if err != nil {
		return fmt.Errorf("encode provider_response: %w", err)
	}

	eq := r.db.execQueryer(ctx)
	cmd, err := eq.Exec(ctx, qRecordUpdate,
		rec.ID,
		string(rec.Status),
		rec.RetryCount,
		utcPtr(rec.NextRetryAt),
		rec.ErrorMessage,
		resp,
		utcPtr(rec.SentAt),
		utcPtr(rec.DeliveredAt),
		utcPtr(rec.ReadAt),
		rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return wrapErr("update record", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RecordRepoImpl) ListBySubject(ctx context.Context, subject notification.SubjectRef, f notification.HistoryFilter) ([]*notification.Record, int, error) {
	f = f.Normalize()
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	where, args := historyWhere(subject, f)
	eq := r.db.execQueryer(ctx)

	var total int
	if err := eq.QueryRow(ctx, "SELECT count(*) FROM notification_records WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapErr("count history", err)
	}

	args = append(args, f.PageSize, f.Offset())
	q := fmt.Sprintf("SELECT%s\nFROM notification_records\nWHERE %s\nORDER BY created_at DESC, id DESC\nLIMIT $%d OFFSET $%d;",
		recordColumns, where, len(args)-1, len(args))

	out, err := r.queryRecords(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func historyWhere(subject notification.SubjectRef, f notification.HistoryFilter) (string, []any) {
	conds := []string{"subject_type = $1", "subject_id = $2"}
	args := []any{subject.Type, subject.ID}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Channel != nil {
		add("channel = $%d", string(*f.Channel))
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.CreatedAfter != nil {
		add("created_at >= $%d", f.CreatedAfter.UTC())
	}
	if f.CreatedBefore != nil {
		add("created_at <= $%d", f.CreatedBefore.UTC())
	}
	return strings.Join(conds, " AND "), args
}

func (r *RecordRepoImpl) FetchRetryEligible(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*notification.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	return r.queryRecords(ctx, qRecordRetryEligible, now.UTC(), maxAttempts, limit)
}

func (r *RecordRepoImpl) queryRecords(ctx context.Context, q string, args ...any) ([]*notification.Record, error) {
	rows, err := r.db.execQueryer(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, wrapErr("query records", err)
	}
	defer rows.Close()

	var out []*notification.Record
	for rows.Next() {
		var rec notification.Record
		if err := scanFull(rows, &rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("rows", err)
	}
	return out, nil
}

func (r *RecordRepoImpl) ListArchivable(ctx context.Context, before time.Time, afterID int64, limit int) ([]int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.execQueryer(ctx).Query(ctx, qRecordArchivable, afterID, before.UTC(), limit)
	if err != nil {
		return nil, wrapErr("list archivable", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, wrapErr("list archivable", err)
	}
	return ids, nil
}

func (r *RecordRepoImpl) DeleteArchivable(ctx context.Context, ids []int64, before time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.execQueryer(ctx).Exec(ctx, qRecordDeleteArchivable, ids, before.UTC())
	if err != nil {
		return 0, wrapErr("delete archivable", err)
	}
	return int(cmd.RowsAffected()), nil
}
