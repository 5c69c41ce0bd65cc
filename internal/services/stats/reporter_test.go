package stats

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/NordCoder/Deliverus/internal/repository/memory"
	"github.com/NordCoder/Deliverus/internal/services/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var start = time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func seed(t *testing.T) (*memory.Store, *memory.Clock) {
	t.Helper()
	s := memory.NewStore()
	c := memory.NewClock(start)
	l := ledger.New(s.Records(), s.Tracking(), s.Transactor(), nil, ledger.WithClock(c))
	ctx := context.Background()

	mk := func(ch notification.Channel, tpl, typ int64) int64 {
		r, err := l.LogAttempt(ctx, ledger.AttemptRequest{
			Subject:            notification.SubjectRef{Type: "user", ID: "u1"},
			Channel:            ch,
			Recipient:          "r",
			MessageContent:     "m",
			TemplateID:         ptr(tpl),
			NotificationTypeID: ptr(typ),
		}, notification.Actor{})
		require.NoError(t, err)
		return r.ID
	}

	a := mk(notification.ChannelEmail, 1, 10)
	b := mk(notification.ChannelEmail, 1, 10)
	cc := mk(notification.ChannelSMS, 2, 10)
	d := mk(notification.ChannelWhatsApp, 3, 20)
	_, err := l.MarkSent(ctx, a, nil, notification.Actor{})
	require.NoError(t, err)
	_, err = l.MarkRead(ctx, b, nil, notification.Actor{})
	require.NoError(t, err)
	_, err = l.MarkFailed(ctx, cc, "x", nil, notification.Actor{})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = l.MarkFailed(ctx, d, "x", nil, notification.Actor{})
		require.NoError(t, err)
	}
	c.Advance(48 * time.Hour)
	mk(notification.ChannelSMS, 2, 30)
	return s, c
}

func TestReport_AllTime(t *testing.T) {
	s, c := seed(t)
	rep, err := New(s.Stats(), nil, 0, c, nil).Report(context.Background(), notification.DateRange{}, 2)
	require.NoError(t, err)

	assert.Equal(t, int64(5), rep.Total)
	assert.Equal(t, int64(1), rep.ByStatus[notification.StatusSent])
	assert.Equal(t, int64(1), rep.ByStatus[notification.StatusRead])
	assert.Equal(t, int64(2), rep.ByStatus[notification.StatusFailed])
	assert.Equal(t, int64(1), rep.ByStatus[notification.StatusPending])
	assert.Equal(t, int64(0), rep.ByStatus[notification.StatusDelivered])
	assert.Equal(t, int64(2), rep.ByChannel[notification.ChannelSMS])
	assert.InDelta(t, 0.4, rep.SuccessRate, 1e-9)
	assert.Equal(t, int64(2), rep.CurrentlyFailed)
	assert.Equal(t, int64(1), rep.PermanentlyFailed)
	assert.Equal(t, []notification.Bucket{{ID: 1, Count: 2}, {ID: 2, Count: 2}}, rep.TopTemplates)
	assert.Equal(t, []notification.Bucket{{ID: 10, Count: 3}, {ID: 20, Count: 1}}, rep.TopNotificationTypes)
}

func TestReport_RangeLimitsCountsButNotFailed(t *testing.T) {
	s, c := seed(t)
	dr := notification.DateRange{From: ptr(start.Add(24 * time.Hour))}

	rep, err := New(s.Stats(), nil, 0, c, nil).Report(context.Background(), dr, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(1), rep.Total)
	assert.Zero(t, rep.SuccessRate)
	assert.Equal(t, int64(2), rep.CurrentlyFailed)
	assert.Equal(t, []notification.Bucket{{ID: 2, Count: 1}}, rep.TopTemplates)
}

func TestReport_Empty(t *testing.T) {
	s := memory.NewStore()
	rep, err := New(s.Stats(), nil, 0, nil, nil).Report(context.Background(), notification.DateRange{}, 5)
	require.NoError(t, err)
	assert.Zero(t, rep.Total)
	assert.Zero(t, rep.SuccessRate)
	assert.NotNil(t, rep.TopTemplates)
	assert.Len(t, rep.ByStatus, 5)
}

func TestReport_InvertedRange(t *testing.T) {
	s := memory.NewStore()
	_, err := New(s.Stats(), nil, 0, nil, nil).Report(context.Background(),
		notification.DateRange{From: ptr(start.Add(time.Hour)), To: ptr(start)}, 5)
	assert.ErrorIs(t, err, notification.ErrInvalidArgument)
}

type mapCache struct {
	items  map[string]*Report
	getErr error
	sets   int
}

func (m *mapCache) Get(_ context.Context, key string) (*Report, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	r, ok := m.items[key]
	return r, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, r *Report, _ time.Duration) error {
	m.sets++
	m.items[key] = r
	return nil
}

func TestReport_Cache(t *testing.T) {
	s, c := seed(t)
	cache := &mapCache{items: map[string]*Report{}}
	rep := New(s.Stats(), cache, time.Minute, c, nil)

	first, err := rep.Report(context.Background(), notification.DateRange{}, 5)
	require.NoError(t, err)
	c.Advance(time.Second)
	second, err := rep.Report(context.Background(), notification.DateRange{}, 5)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, cache.sets)

	cache.getErr = errors.New("redis down")
	third, err := rep.Report(context.Background(), notification.DateRange{}, 5)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Equal(t, first.Total, third.Total)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "stats:v1:-:-:5", CacheKey(notification.DateRange{}, 5))
	assert.Equal(t, "stats:v1:2025-05-05T00:00:00Z:-:3", CacheKey(notification.DateRange{From: ptr(start)}, 3))
}

func TestExportXLSX(t *testing.T) {
	s, c := seed(t)
	rep, err := New(s.Stats(), nil, 0, c, nil).Report(context.Background(), notification.DateRange{}, 5)
	require.NoError(t, err)

	data, err := ExportXLSX(rep)
	require.NoError(t, err)

	xl, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = xl.Close() }()

	assert.Equal(t, []string{sheetSummary, sheetTop}, xl.GetSheetList())
	v, err := xl.GetCellValue(sheetSummary, "B4")
	require.NoError(t, err)
	assert.Equal(t, "5", v)
	rows, err := xl.GetRows(sheetTop)
	require.NoError(t, err)
	assert.Len(t, rows, 1+3+3)
}
