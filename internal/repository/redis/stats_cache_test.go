package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/NordCoder/Deliverus/internal/services/stats"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T) (*StatsCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := NewClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStatsCache(rdb, "deliverus:stats:"), mr
}

func TestStatsCache_MissIsNotAnError(t *testing.T) {
	c, _ := newCache(t)
	rep, ok, err := c.Get(context.Background(), "nothing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, rep)
}

func TestStatsCache_SetGetWithPrefixAndTTL(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	rep := &stats.Report{
		Total:        3,
		ByStatus:     map[notification.Status]int64{notification.StatusSent: 2, notification.StatusFailed: 1},
		SuccessRate:  2.0 / 3.0,
		TopTemplates: []notification.Bucket{{ID: 7, Count: 3}},
		GeneratedAt:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, c.Set(ctx, "all:5", rep, time.Minute))

	assert.True(t, mr.Exists("deliverus:stats:all:5"))
	assert.False(t, mr.Exists("all:5"))
	assert.Equal(t, time.Minute, mr.TTL("deliverus:stats:all:5"))

	got, ok, err := c.Get(ctx, "all:5")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rep.Total, got.Total)
	assert.Equal(t, rep.ByStatus, got.ByStatus)
	assert.InDelta(t, rep.SuccessRate, got.SuccessRate, 1e-12)
	assert.Equal(t, rep.TopTemplates, got.TopTemplates)
	assert.True(t, rep.GeneratedAt.Equal(got.GeneratedAt))

	mr.FastForward(time.Minute + time.Second)
	_, ok, err = c.Get(ctx, "all:5")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatsCache_CorruptEntry(t *testing.T) {
	c, mr := newCache(t)
	require.NoError(t, mr.Set("deliverus:stats:bad", "{not json"))
	_, ok, err := c.Get(context.Background(), "bad")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestNewClient_BadURL(t *testing.T) {
	_, err := NewClient(context.Background(), "://nope")
	assert.Error(t, err)
}
