package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
)

var (
	_ notification.RecordRepo   = (*RecordRepo)(nil)
	_ notification.TrackingRepo = (*TrackingRepo)(nil)
)

type RecordRepo struct{ s *Store }

func (r *RecordRepo) Create(ctx context.Context, rec *notification.Record) error {
	defer r.s.lock(ctx)()

	r.s.nextRecordID++
	rec.ID = r.s.nextRecordID
	r.s.records[rec.ID] = rec.Clone()
	return nil
}

func (r *RecordRepo) GetByID(ctx context.Context, id int64) (*notification.Record, error) {
	defer r.s.lock(ctx)()

	rec, ok := r.s.records[id]
	if !ok {
		return nil, notification.ErrNotFound
	}
	return rec.Clone(), nil
}

// GetForUpdate relies on the store mutex held by the surrounding transaction.
func (r *RecordRepo) GetForUpdate(ctx context.Context, id int64) (*notification.Record, error) {
	return r.GetByID(ctx, id)
}

func (r *RecordRepo) Update(ctx context.Context, rec *notification.Record) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.records[rec.ID]; !ok {
		return notification.ErrNotFound
	}
	r.s.records[rec.ID] = rec.Clone()
	return nil
}

func (r *RecordRepo) ListBySubject(ctx context.Context, subject notification.SubjectRef, f notification.HistoryFilter) ([]*notification.Record, int, error) {
	f = f.Normalize()
	defer r.s.lock(ctx)()

	var matched []*notification.Record
	for _, rec := range r.s.records {
		if rec.Subject != subject || !matchHistory(rec, f) {
			continue
		}
		matched = append(matched, rec)
	}
	slices.SortFunc(matched, func(a, b *notification.Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	total := len(matched)
	start := min(f.Offset(), total)
	end := min(start+f.PageSize, total)
	out := make([]*notification.Record, 0, end-start)
	for _, rec := range matched[start:end] {
		out = append(out, rec.Clone())
	}
	return out, total, nil
}

func matchHistory(rec *notification.Record, f notification.HistoryFilter) bool {
	if f.Channel != nil && rec.Channel != *f.Channel {
		return false
	}
	if f.Status != nil && rec.Status != *f.Status {
		return false
	}
	if f.CreatedAfter != nil && rec.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && rec.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	return true
}

func (r *RecordRepo) FetchRetryEligible(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*notification.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	defer r.s.lock(ctx)()

	var out []*notification.Record
	for _, rec := range r.s.records {
		if rec.Status != notification.StatusFailed || rec.RetryCount >= maxAttempts {
			continue
		}
		if rec.NextRetryAt != nil && rec.NextRetryAt.After(now) {
			continue
		}
		out = append(out, rec.Clone())
	}
	slices.SortFunc(out, func(a, b *notification.Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func archivable(rec *notification.Record, before time.Time) bool {
	return rec.Status.Successful() && rec.CreatedAt.Before(before)
}

func (r *RecordRepo) ListArchivable(ctx context.Context, before time.Time, afterID int64, limit int) ([]int64, error) {
	defer r.s.lock(ctx)()

	var ids []int64
	for id, rec := range r.s.records {
		if id > afterID && archivable(rec, before) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *RecordRepo) DeleteArchivable(ctx context.Context, ids []int64, before time.Time) (int, error) {
	defer r.s.lock(ctx)()

	deleted := map[int64]bool{}
	for _, id := range ids {
		if rec, ok := r.s.records[id]; ok && archivable(rec, before) {
			delete(r.s.records, id)
			deleted[id] = true
		}
	}
	if len(deleted) > 0 {
		r.s.entries = slices.DeleteFunc(r.s.entries, func(e *notification.TrackingEntry) bool {
			return deleted[e.RecordID]
		})
	}
	return len(deleted), nil
}

type TrackingRepo struct{ s *Store }

func (r *TrackingRepo) Append(ctx context.Context, e *notification.TrackingEntry) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.records[e.RecordID]; !ok {
		return notification.ErrNotFound
	}
	r.s.nextEntryID++
	e.ID = r.s.nextEntryID
	r.s.entries = append(r.s.entries, cloneEntry(e))
	return nil
}

func (r *TrackingRepo) ListByRecord(ctx context.Context, recordID int64) ([]*notification.TrackingEntry, error) {
	defer r.s.lock(ctx)()

	var out []*notification.TrackingEntry
	for _, e := range r.s.entries {
		if e.RecordID == recordID {
			out = append(out, cloneEntry(e))
		}
	}
	return out, nil
}
