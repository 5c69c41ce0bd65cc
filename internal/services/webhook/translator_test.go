package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/NordCoder/Deliverus/internal/repository/memory"
	"github.com/NordCoder/Deliverus/internal/services/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func setup(t *testing.T) (*Translator, *ledger.Ledger, *notification.Record, *observer.ObservedLogs) {
	t.Helper()
	s := memory.NewStore()
	l := ledger.New(s.Records(), s.Tracking(), s.Transactor(), nil,
		ledger.WithClock(memory.NewClock(time.Date(2025, 2, 2, 9, 0, 0, 0, time.UTC))))
	r, err := l.LogAttempt(context.Background(), ledger.AttemptRequest{
		Subject:        notification.SubjectRef{Type: "invoice", ID: "77"},
		Channel:        notification.ChannelWhatsApp,
		Recipient:      "+911234567890",
		MessageContent: "Your invoice",
	}, notification.Actor{})
	require.NoError(t, err)

	core, logs := observer.New(zap.WarnLevel)
	return New(l, zap.New(core)), l, r, logs
}

func TestApply_DeliveredFromPending(t *testing.T) {
	tr, l, r, _ := setup(t)

	got, err := tr.Apply(context.Background(), r.ID, "delivered", map[string]any{"status": "delivered"}, notification.Actor{})
	require.NoError(t, err)

	assert.Equal(t, notification.StatusDelivered, got.Status)
	require.NotNil(t, got.SentAt)
	assert.Equal(t, *got.DeliveredAt, *got.SentAt)

	es, err := l.Tracking(context.Background(), r.ID)
	require.NoError(t, err)
	require.Len(t, es, 1)
	assert.Equal(t, "webhook", es[0].Metadata["source"])
}

func TestApply_CaseInsensitive(t *testing.T) {
	tr, _, r, _ := setup(t)

	got, err := tr.Apply(context.Background(), r.ID, "  READ ", nil, notification.Actor{})
	require.NoError(t, err)
	assert.Equal(t, notification.StatusRead, got.Status)
	assert.NotNil(t, got.DeliveredAt)
}

func TestApply_FailedMessages(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{"string", map[string]any{"error": "number unreachable"}, "number unreachable"},
		{"object", map[string]any{"error": map[string]any{"code": 131026, "message": "undeliverable"}}, "undeliverable"},
		{"missing", map[string]any{"foo": "bar"}, DefaultFailureMessage},
		{"nil", nil, DefaultFailureMessage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr, _, r, _ := setup(t)
			got, err := tr.Apply(context.Background(), r.ID, "failed", tc.payload, notification.Actor{})
			require.NoError(t, err)
			assert.Equal(t, notification.StatusFailed, got.Status)
			assert.Equal(t, tc.want, *got.ErrorMessage)
			assert.Equal(t, 1, got.RetryCount)
		})
	}
}

func TestApply_UnrecognisedStatus(t *testing.T) {
	tr, l, r, logs := setup(t)

	got, err := tr.Apply(context.Background(), r.ID, "queued_at_carrier", nil, notification.Actor{})
	require.NoError(t, err)
	assert.Equal(t, notification.StatusPending, got.Status)

	es, err := l.Tracking(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Empty(t, es)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "unrecognised webhook status", logs.All()[0].Message)
}

func TestApply_UnknownID(t *testing.T) {
	tr, _, _, _ := setup(t)

	_, err := tr.Apply(context.Background(), 404, "delivered", nil, notification.Actor{})
	assert.ErrorIs(t, err, notification.ErrNotFound)
	_, err = tr.Apply(context.Background(), 404, "whatever", nil, notification.Actor{})
	assert.ErrorIs(t, err, notification.ErrNotFound)
}

func TestApply_InvalidTransitionSurfaces(t *testing.T) {
	tr, _, r, _ := setup(t)
	_, err := tr.Apply(context.Background(), r.ID, "read", nil, notification.Actor{})
	require.NoError(t, err)

	_, err = tr.Apply(context.Background(), r.ID, "delivered", nil, notification.Actor{})
	assert.ErrorIs(t, err, notification.ErrInvalidTransition)
}
