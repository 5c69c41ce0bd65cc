package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/NordCoder/Deliverus/internal/domain/outbox"
	"github.com/NordCoder/Deliverus/internal/obs/retry"
	"github.com/NordCoder/Deliverus/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu    sync.Mutex
	fails int
	got   []notification.RetryRequest
}

func (p *recordingPublisher) PublishRetryRequested(_ context.Context, req notification.RetryRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fails > 0 {
		p.fails--
		return errors.New("broker unavailable")
	}
	p.got = append(p.got, req)
	return nil
}

func quickPolicy(attempts int) retry.Policy {
	return retry.Policy{Attempts: attempts, Backoff: retry.ExpoJitter{Base: time.Millisecond, Max: 2 * time.Millisecond}}
}

func enqueue(t *testing.T, repo outbox.Repository, key string, req notification.RetryRequest) {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, repo.Enqueue(context.Background(), key, outbox.KindRetryRequested, data))
}

func TestRunner_ProcessBatchDispatchesAndMarks(t *testing.T) {
	s := memory.NewStore()
	pub := &recordingPublisher{fails: 1}
	r := NewOutboxRunner(zap.NewNop(), s.Outbox(), MakeGlobalOutboxHandler(pub, quickPolicy(3)), Config{BatchSize: 10})

	enqueue(t, s.Outbox(), "retry:1:1", notification.RetryRequest{NotificationID: 1, RetryCount: 1})
	enqueue(t, s.Outbox(), "retry:2:2", notification.RetryRequest{NotificationID: 2, RetryCount: 2})

	n := r.ProcessBatch(context.Background())

	assert.Equal(t, 2, n)
	require.Len(t, pub.got, 2)
	for _, m := range s.Outbox().Messages() {
		assert.Equal(t, outbox.StatusSuccess, m.Status)
	}
}

func TestRunner_FailedMessagesStayInProgress(t *testing.T) {
	s := memory.NewStore()
	pub := &recordingPublisher{fails: 10}
	r := NewOutboxRunner(zap.NewNop(), s.Outbox(), MakeGlobalOutboxHandler(pub, quickPolicy(2)), Config{BatchSize: 10})
	enqueue(t, s.Outbox(), "retry:1:1", notification.RetryRequest{NotificationID: 1})

	assert.Zero(t, r.ProcessBatch(context.Background()))
	assert.Equal(t, outbox.StatusInProgress, s.Outbox().Messages()[0].Status)
}

func TestRunner_UndecodablePayloadIsNotRetried(t *testing.T) {
	calls := 0
	h := WrapKindHandler(func(ctx context.Context, data []byte) error {
		calls++
		var req notification.RetryRequest
		return json.Unmarshal(data, &req)
	}, quickPolicy(5))

	err := h(context.Background(), []byte("{"))
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunner_UnknownKind(t *testing.T) {
	_, err := MakeGlobalOutboxHandler(&recordingPublisher{}, quickPolicy(1))(outbox.Kind(99))
	assert.Error(t, err)
}

func TestRunner_RunStopsWithContext(t *testing.T) {
	s := memory.NewStore()
	r := NewOutboxRunner(zap.NewNop(), s.Outbox(), MakeGlobalOutboxHandler(&recordingPublisher{}, quickPolicy(1)),
		Config{Workers: 2, WaitTime: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGlobalHandler_BadPayloadIsPermanent(t *testing.T) {
	pub := &recordingPublisher{}
	h, err := MakeGlobalOutboxHandler(pub, quickPolicy(5))(outbox.KindRetryRequested)
	require.NoError(t, err)

	err = h(context.Background(), []byte(`{"notification_id": "x"}`))
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err))
	assert.Empty(t, pub.got)
}
