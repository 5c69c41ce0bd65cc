package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/NordCoder/Deliverus/internal/obs/retry"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestRetryEvents_PublishesJSONKeyedByID(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{w: w, topic: "deliverus.retry.requested", log: zap.NewNop()}
	ev := NewRetryEventsKafka(p)

	req := notification.RetryRequest{NotificationID: 42, Channel: notification.ChannelEmail, Recipient: "a@b.c", RetryCount: 2}
	require.NoError(t, ev.PublishRetryRequested(context.Background(), req))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("42"), w.msgs[0].Key)
	var got notification.RetryRequest
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, req.NotificationID, got.NotificationID)
	assert.Equal(t, req.RetryCount, got.RetryCount)
}

func TestProducer_WriteError(t *testing.T) {
	boom := errors.New("leader not available")
	p := &Producer{w: &fakeWriter{err: boom}, topic: "t", log: zap.NewNop()}
	assert.ErrorIs(t, p.PublishJSON(context.Background(), nil, map[string]int{"a": 1}), boom)
}

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type report struct {
	ID     int64  `json:"notification_id"`
	Status string `json:"status"`
}

func TestConsumer_RetriesFailedMessageBeforeCommitting(t *testing.T) {
	rd := &fakeReader{queue: []kafka.Message{
		{Offset: 1, Value: []byte(`{"notification_id": 1, "status": "delivered"}`)},
		{Offset: 2, Value: []byte(`not json`)},
		{Offset: 3, Value: []byte(`{"notification_id": 3, "status": "read"}`)},
		{Offset: 4, Value: []byte(`{"notification_id": 4, "status": "read"}`)},
	}}
	c := &Consumer{reader: rd, log: zap.NewNop(), cfg: &ConsumerConfig{}, backoff: retry.ExpoJitter{Base: time.Millisecond}}

	var seen []int64
	failures := 1
	h := JSONHandler(func(_ context.Context, _ []byte, m *report) error {
		seen = append(seen, m.ID)
		if m.ID == 3 && failures > 0 {
			failures--
			return errors.New("storage down")
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := c.Consume(ctx, h)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []int64{1, 3, 3, 4}, seen)
	assert.Equal(t, []int64{1, 2, 3, 4}, rd.committed)
}

func TestConsumer_NeverCommitsPastUnhandledMessage(t *testing.T) {
	rd := &fakeReader{queue: []kafka.Message{
		{Offset: 10, Value: []byte(`{"notification_id": 1, "status": "delivered"}`)},
		{Offset: 11, Value: []byte(`{"notification_id": 2, "status": "delivered"}`)},
	}}
	c := &Consumer{reader: rd, log: zap.NewNop(), cfg: &ConsumerConfig{}, backoff: retry.ExpoJitter{Base: time.Millisecond, Max: 5 * time.Millisecond}}

	attempts := map[int64]int{}
	h := JSONHandler(func(_ context.Context, _ []byte, m *report) error {
		attempts[m.ID]++
		if m.ID == 1 {
			return errors.New("storage down")
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Consume(ctx, h)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, attempts[1], 1)
	assert.Zero(t, attempts[2])
	assert.Empty(t, rd.committed)
}

func TestEnsureTopic_NoBrokers(t *testing.T) {
	assert.ErrorIs(t, EnsureTopic(context.Background(), nil, TopicSpec{Name: "x"}, nil), ErrNoBrokers)
}
