package reportconsumer

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	kafkax "github.com/NordCoder/Deliverus/internal/repository/kafka"
	"github.com/NordCoder/Deliverus/internal/repository/memory"
	"github.com/NordCoder/Deliverus/internal/services/ledger"
	"github.com/NordCoder/Deliverus/internal/services/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setup(t *testing.T) (*Handler, *ledger.Ledger, *notification.Record) {
	t.Helper()
	s := memory.NewStore()
	l := ledger.New(s.Records(), s.Tracking(), s.Transactor(), nil,
		ledger.WithClock(memory.NewClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))))
	r, err := l.LogAttempt(context.Background(), ledger.AttemptRequest{
		Subject: notification.SubjectRef{Type: "user", ID: "5"}, Channel: notification.ChannelWhatsApp,
		Recipient: "+4470000", MessageContent: "hi",
	}, notification.Actor{})
	require.NoError(t, err)
	return &Handler{Translator: webhook.New(l, nil), Log: zap.NewNop()}, l, r
}

func TestHandle_AppliesReport(t *testing.T) {
	h, l, r := setup(t)
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, []byte("provider-x"), &DeliveryReport{
		NotificationID: r.ID, Status: "Read", RequestID: "rq-1",
	}))

	got, err := l.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusRead, got.Status)

	entries, err := l.Tracking(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "report", entries[0].Metadata["source"])
	assert.Equal(t, "provider-x", entries[0].Metadata["actor_id"])
	assert.Equal(t, "rq-1", entries[0].Metadata["request_id"])
}

func TestHandle_PermanentErrorsAreMalformed(t *testing.T) {
	h, _, r := setup(t)
	ctx := context.Background()

	err := h.Handle(ctx, nil, &DeliveryReport{NotificationID: 0, Status: "read"})
	assert.ErrorIs(t, err, kafkax.ErrMalformed)

	err = h.Handle(ctx, nil, &DeliveryReport{NotificationID: 404, Status: "read"})
	assert.ErrorIs(t, err, kafkax.ErrMalformed)

	require.NoError(t, h.Handle(ctx, nil, &DeliveryReport{NotificationID: r.ID, Status: "read"}))
	err = h.Handle(ctx, nil, &DeliveryReport{NotificationID: r.ID, Status: "failed"})
	assert.ErrorIs(t, err, kafkax.ErrMalformed)
}

func TestHandle_EmptyStatusLeavesRecordUnchanged(t *testing.T) {
	h, l, r := setup(t)
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, nil, &DeliveryReport{NotificationID: r.ID, Status: "  "}))

	got, err := l.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusPending, got.Status)
	entries, err := l.Tracking(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type brokenTranslator struct{}

func (brokenTranslator) Apply(context.Context, int64, string, map[string]any, notification.Actor) (*notification.Record, error) {
	return nil, notification.NewStorageError("get", errors.New("conn refused"))
}

func TestHandle_StorageErrorIsRetryable(t *testing.T) {
	h := &Handler{Translator: brokenTranslator{}, Log: zap.NewNop()}
	err := h.Handle(context.Background(), nil, &DeliveryReport{NotificationID: 1, Status: "delivered"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, kafkax.ErrMalformed)
	assert.ErrorIs(t, err, notification.ErrStorage)
}

type fakeSub struct{ msgs [][]byte }

func (f *fakeSub) Consume(ctx context.Context, h kafkax.Handler) error {
	for _, m := range f.msgs {
		_ = h(ctx, nil, m)
	}
	return context.Canceled
}

func TestRunner_DecodesJSON(t *testing.T) {
	_, l, r := setup(t)
	sub := &fakeSub{msgs: [][]byte{
		[]byte(`{"notification_id": ` + strconv.FormatInt(r.ID, 10) + `, "status": "delivered", "provider_data": {"sid": "SM1"}}`),
	}}
	run := NewRunner(nil, sub, webhook.New(l, nil))

	assert.NoError(t, run.Run(context.Background()))

	got, err := l.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusDelivered, got.Status)
	assert.Equal(t, "SM1", got.ProviderResponse["sid"])
}
