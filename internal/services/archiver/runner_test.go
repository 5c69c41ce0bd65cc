package archiver

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/NordCoder/Deliverus/internal/repository/memory"
	"github.com/NordCoder/Deliverus/internal/services/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingArchiver struct {
	calls atomic.Int32
	days  atomic.Int32
	err   error
}

func (c *countingArchiver) ArchiveOldLogs(_ context.Context, daysOld int) (int, error) {
	c.calls.Add(1)
	c.days.Store(int32(daysOld))
	return 0, c.err
}

func TestNew_Defaults(t *testing.T) {
	r := New(zap.NewNop(), &countingArchiver{}, 0, 0)
	assert.Equal(t, time.Hour, r.Every)
	assert.Equal(t, 90, r.DaysOld)
}

func TestRun_SweepsUntilCancelled(t *testing.T) {
	a := &countingArchiver{}
	r := New(zap.NewNop(), a, 10*time.Millisecond, 30)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	err := r.Run(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, a.calls.Load(), int32(2))
	assert.Equal(t, int32(30), a.days.Load())
}

func TestRun_ErrorDoesNotStopLoop(t *testing.T) {
	a := &countingArchiver{err: errors.New("db down")}
	r := New(zap.NewNop(), a, 10*time.Millisecond, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)
	assert.GreaterOrEqual(t, a.calls.Load(), int32(2))
}

func TestSweep_DeletesOldTerminalRecords(t *testing.T) {
	s := memory.NewStore()
	clk := memory.NewClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	l := ledger.New(s.Records(), s.Tracking(), s.Transactor(), nil, ledger.WithClock(clk))
	ctx := context.Background()

	old, err := l.LogAttempt(ctx, ledger.AttemptRequest{
		Subject: notification.SubjectRef{Type: "user", ID: "1"}, Channel: notification.ChannelEmail,
		Recipient: "a@b.c", MessageContent: "hi",
	}, notification.Actor{})
	require.NoError(t, err)
	_, err = l.MarkDelivered(ctx, old.ID, nil, notification.Actor{})
	require.NoError(t, err)

	clk.Advance(40 * 24 * time.Hour)

	r := New(zap.NewNop(), l, time.Hour, 30)
	assert.Equal(t, 1, r.sweep(ctx))

	_, err = l.Get(ctx, old.ID)
	assert.ErrorIs(t, err, notification.ErrNotFound)
}
