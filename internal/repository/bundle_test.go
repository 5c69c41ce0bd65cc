package repository

import (
	"context"
	"testing"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	pg "github.com/NordCoder/Deliverus/internal/repository/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpen_Memory(t *testing.T) {
	b, err := Open(context.Background(), DriverMemory, pg.Config{}, zap.NewNop())
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	r := notification.NewRecord(notification.SubjectRef{Type: "user", ID: "1"}, notification.ChannelSMS, "+1", "m", notification.SystemClock{}.Now())
	require.NoError(t, b.Tx.WithTx(ctx, func(ctx context.Context) error { return b.Records.Create(ctx, r) }))

	got, err := b.Records.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusPending, got.Status)
	assert.Nil(t, b.Health)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mongo", pg.Config{}, zap.NewNop())
	assert.ErrorContains(t, err, "mongo")
}
