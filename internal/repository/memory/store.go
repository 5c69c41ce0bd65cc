// Package memory is an in-process implementation of the ledger ports. It backs
// unit tests and the "memory" storage driver of the binaries.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/NordCoder/Deliverus/internal/domain/outbox"
)

type Store struct {
	mu sync.Mutex

	nextRecordID int64
	nextEntryID  int64
	records      map[int64]*notification.Record
	entries      []*notification.TrackingEntry
	messages     map[string]*outbox.Message

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		records:  map[int64]*notification.Record{},
		messages: map[string]*outbox.Message{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Records() *RecordRepo { return &RecordRepo{s: s} }
func (s *Store) Tracking() *TrackingRepo { return &TrackingRepo{s: s} }
func (s *Store) Stats() *StatsRepo { return &StatsRepo{s: s} }
func (s *Store) Outbox() *OutboxRepo { return &OutboxRepo{s: s} }
func (s *Store) Transactor() *Transactor { return &Transactor{s: s} }

type txKey struct{}

// lock takes the store mutex unless ctx already runs inside WithTx.
func (s *Store) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type snapshot struct {
	nextRecordID int64
	nextEntryID  int64
	records      map[int64]*notification.Record
	entries      []*notification.TrackingEntry
	messages     map[string]*outbox.Message
}

func (s *Store) snapshot() snapshot {
	recs := make(map[int64]*notification.Record, len(s.records))
	for id, r := range s.records {
		recs[id] = r.Clone()
	}
	msgs := make(map[string]*outbox.Message, len(s.messages))
	for k, m := range s.messages {
		cp := *m
		msgs[k] = &cp
	}
	return snapshot{
		nextRecordID: s.nextRecordID,
		nextEntryID:  s.nextEntryID,
		records:      recs,
		entries:      append([]*notification.TrackingEntry(nil), s.entries...),
		messages:     msgs,
	}
}

func (s *Store) restore(sn snapshot) {
	s.nextRecordID = sn.nextRecordID
	s.nextEntryID = sn.nextEntryID
	s.records = sn.records
	s.entries = sn.entries
	s.messages = sn.messages
}

var _ notification.Transactor = (*Transactor)(nil)

// Transactor serialises transactions on the store mutex and restores the
// previous state when fn fails. Nested calls join the outer transaction.
type Transactor struct{ s *Store }

func (t *Transactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) == t.s {
		return fn(ctx)
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	sn := t.s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			t.s.restore(sn)
			panic(p)
		}
		if err != nil {
			t.s.restore(sn)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, t.s)); err != nil {
		return fmt.Errorf("tx: %w", err)
	}
	return nil
}

func cloneEntry(e *notification.TrackingEntry) *notification.TrackingEntry {
	cp := *e
	cp.ProviderStatus = maps.Clone(e.ProviderStatus)
	cp.Metadata = maps.Clone(e.Metadata)
	return &cp
}
