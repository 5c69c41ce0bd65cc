package notification

import (
	"maps"
	"time"
)

// transitions lists the destinations reachable through the mark* operations.
// failed -> pending is not listed: it only happens through Retry.
var transitions = map[Status][]Status{
	StatusPending:   {StatusSent, StatusDelivered, StatusRead, StatusFailed},
	StatusSent:      {StatusSent, StatusDelivered, StatusRead, StatusFailed},
	StatusDelivered: {StatusDelivered, StatusRead},
	StatusRead:      {StatusRead},
	StatusFailed:    {StatusFailed},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func NewRecord(subject SubjectRef, channel Channel, recipient, message string, at time.Time) *Record {
	return &Record{
		Subject:        subject,
		Channel:        channel,
		Recipient:      recipient,
		MessageContent: message,
		Status:         StatusPending,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

func (r *Record) CanRetry() bool {
	return r.Status == StatusFailed && r.RetryCount < MaxAttempts
}

// PermanentlyFailed marks records excluded from automatic scheduling.
func (r *Record) PermanentlyFailed() bool {
	return r.Status == StatusFailed && r.RetryCount >= MaxAttempts
}

func (r *Record) MarkSent(at time.Time, providerResponse map[string]any) error {
	if err := r.allow(StatusSent); err != nil {
		return err
	}
	at = r.notBefore(at)
	if r.SentAt == nil {
		r.SentAt = &at
	}
	r.finish(StatusSent, at, providerResponse)
	return nil
}

// MarkDelivered backfills sentAt when the provider skipped the sent report.
func (r *Record) MarkDelivered(at time.Time, providerStatus map[string]any) error {
	if err := r.allow(StatusDelivered); err != nil {
		return err
	}
	at = r.notBefore(at)
	if r.DeliveredAt == nil {
		r.DeliveredAt = &at
	}
	if r.SentAt == nil {
		t := *r.DeliveredAt
		r.SentAt = &t
	}
	r.finish(StatusDelivered, at, providerStatus)
	return nil
}

// MarkRead backfills deliveredAt and sentAt to keep the timestamps ordered.
func (r *Record) MarkRead(at time.Time, providerStatus map[string]any) error {
	if err := r.allow(StatusRead); err != nil {
		return err
	}
	at = r.notBefore(at)
	if r.ReadAt == nil {
		r.ReadAt = &at
	}
	if r.DeliveredAt == nil {
		t := *r.ReadAt
		r.DeliveredAt = &t
	}
	if r.SentAt == nil {
		t := *r.DeliveredAt
		r.SentAt = &t
	}
	r.finish(StatusRead, at, providerStatus)
	return nil
}

func (r *Record) MarkFailed(at time.Time, errorMessage string, providerResponse map[string]any) error {
	if err := r.allow(StatusFailed); err != nil {
		return err
	}
	r.RetryCount++
	r.NextRetryAt = nil
	if d, ok := NextRetryDelay(r.RetryCount); ok {
		next := at.Add(d)
		r.NextRetryAt = &next
	}
	msg := errorMessage
	r.ErrorMessage = &msg
	r.finish(StatusFailed, at, providerResponse)
	return nil
}

// Retry moves a failed record back to pending so the transport can resend it.
func (r *Record) Retry(at time.Time) error {
	if !r.CanRetry() {
		return ErrNotRetryable
	}
	r.Status = StatusPending
	r.ErrorMessage = nil
	r.NextRetryAt = nil
	r.UpdatedAt = at
	return nil
}

func (r *Record) allow(to Status) error {
	if !CanTransition(r.Status, to) {
		return &TransitionError{From: r.Status, To: to}
	}
	return nil
}

func (r *Record) finish(to Status, at time.Time, payload map[string]any) {
	r.Status = to
	if len(payload) > 0 {
		r.ProviderResponse = payload
	}
	r.UpdatedAt = at
}

// notBefore clamps at to the latest lifecycle timestamp already recorded.
func (r *Record) notBefore(at time.Time) time.Time {
	for _, t := range []*time.Time{r.SentAt, r.DeliveredAt, r.ReadAt} {
		if t != nil && t.After(at) {
			at = *t
		}
	}
	return at
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.NotificationTypeID = clonePtr(r.NotificationTypeID)
	cp.TemplateID = clonePtr(r.TemplateID)
	cp.SentBy = clonePtr(r.SentBy)
	cp.NextRetryAt = clonePtr(r.NextRetryAt)
	cp.ErrorMessage = clonePtr(r.ErrorMessage)
	cp.SentAt = clonePtr(r.SentAt)
	cp.DeliveredAt = clonePtr(r.DeliveredAt)
	cp.ReadAt = clonePtr(r.ReadAt)
	cp.VariablesUsed = maps.Clone(r.VariablesUsed)
	cp.ProviderResponse = maps.Clone(r.ProviderResponse)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
