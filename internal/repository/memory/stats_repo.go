package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/NordCoder/Deliverus/internal/domain/outbox"
)

var (
	_ notification.StatsRepo = (*StatsRepo)(nil)
	_ outbox.Repository      = (*OutboxRepo)(nil)
)

type StatsRepo struct{ s *Store }

func inRange(t time.Time, dr notification.DateRange) bool {
	if dr.From != nil && t.Before(*dr.From) {
		return false
	}
	if dr.To != nil && t.After(*dr.To) {
		return false
	}
	return true
}

func (r *StatsRepo) CountByStatus(ctx context.Context, dr notification.DateRange) (map[notification.Status]int64, error) {
	defer r.s.lock(ctx)()

	out := map[notification.Status]int64{}
	for _, rec := range r.s.records {
		if inRange(rec.CreatedAt, dr) {
			out[rec.Status]++
		}
	}
	return out, nil
}

func (r *StatsRepo) CountByChannel(ctx context.Context, dr notification.DateRange) (map[notification.Channel]int64, error) {
	defer r.s.lock(ctx)()

	out := map[notification.Channel]int64{}
	for _, rec := range r.s.records {
		if inRange(rec.CreatedAt, dr) {
			out[rec.Channel]++
		}
	}
	return out, nil
}

func (r *StatsRepo) CountFailed(ctx context.Context) (int64, int64, error) {
	defer r.s.lock(ctx)()

	var current, permanent int64
	for _, rec := range r.s.records {
		if rec.Status != notification.StatusFailed {
			continue
		}
		current++
		if rec.PermanentlyFailed() {
			permanent++
		}
	}
	return current, permanent, nil
}

func (r *StatsRepo) TopTemplates(ctx context.Context, dr notification.DateRange, n int) ([]notification.Bucket, error) {
	return r.top(ctx, dr, n, func(rec *notification.Record) *int64 { return rec.TemplateID })
}

func (r *StatsRepo) TopNotificationTypes(ctx context.Context, dr notification.DateRange, n int) ([]notification.Bucket, error) {
	return r.top(ctx, dr, n, func(rec *notification.Record) *int64 { return rec.NotificationTypeID })
}

func (r *StatsRepo) top(ctx context.Context, dr notification.DateRange, n int, key func(*notification.Record) *int64) ([]notification.Bucket, error) {
	if n <= 0 {
		return nil, nil
	}
	defer r.s.lock(ctx)()

	counts := map[int64]int64{}
	for _, rec := range r.s.records {
		if k := key(rec); k != nil && inRange(rec.CreatedAt, dr) {
			counts[*k]++
		}
	}
	out := make([]notification.Bucket, 0, len(counts))
	for id, c := range counts {
		out = append(out, notification.Bucket{ID: id, Count: c})
	}
	slices.SortFunc(out, func(a, b notification.Bucket) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

type OutboxRepo struct{ s *Store }

func (r *OutboxRepo) Enqueue(ctx context.Context, key string, kind outbox.Kind, data []byte) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.messages[key]; ok {
		return nil
	}
	now := r.s.now()
	r.s.messages[key] = &outbox.Message{
		IdempotencyKey: key,
		Kind:           kind,
		Data:           slices.Clone(data),
		Status:         outbox.StatusCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return nil
}

func (r *OutboxRepo) PickBatch(ctx context.Context, batch int, inProgressTTL time.Duration) ([]outbox.Message, error) {
	defer r.s.lock(ctx)()

	now := r.s.now()
	var cand []*outbox.Message
	for _, m := range r.s.messages {
		switch {
		case m.Status == outbox.StatusCreated:
		case m.Status == outbox.StatusInProgress && m.UpdatedAt.Before(now.Add(-inProgressTTL)):
		default:
			continue
		}
		cand = append(cand, m)
	}
	slices.SortFunc(cand, func(a, b *outbox.Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if len(cand) > batch {
		cand = cand[:batch]
	}
	out := make([]outbox.Message, 0, len(cand))
	for _, m := range cand {
		m.Status = outbox.StatusInProgress
		m.UpdatedAt = now
		out = append(out, *m)
	}
	return out, nil
}

func (r *OutboxRepo) MarkSuccess(ctx context.Context, keys []string) error {
	defer r.s.lock(ctx)()

	for _, k := range keys {
		if m, ok := r.s.messages[k]; ok {
			m.Status = outbox.StatusSuccess
			m.UpdatedAt = r.s.now()
		}
	}
	return nil
}

// Messages returns a copy of every queued message in creation order.
func (r *OutboxRepo) Messages() []outbox.Message {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]outbox.Message, 0, len(r.s.messages))
	for _, m := range r.s.messages {
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b outbox.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.IdempotencyKey, b.IdempotencyKey)
	})
	return out
}
