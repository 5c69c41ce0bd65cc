package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, Policy{Name: "test_success", Attempts: 5, Backoff: ExpoJitter{Base: time.Millisecond}})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	exhausted := false
	err := Do(context.Background(), func() error {
		calls++
		return fatal
	}, Policy{
		Name:      "test_fatal",
		Attempts:  5,
		Retryable: func(err error) bool { return !errors.Is(err, fatal) },
		OnExhaust: func(error) { exhausted = true },
	})

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
	assert.True(t, exhausted)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, func() error { return errors.New("x") },
		Policy{Name: "test_ctx", Attempts: 3, Backoff: ExpoJitter{Base: time.Hour}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExpoJitter_Caps(t *testing.T) {
	b := ExpoJitter{Base: 100 * time.Millisecond, Max: time.Second}
	assert.Equal(t, 100*time.Millisecond, b.Next(0))
	assert.Equal(t, 400*time.Millisecond, b.Next(2))
	assert.Equal(t, time.Second, b.Next(10))

	j := ExpoJitter{Base: time.Second, Jitter: 0.5}
	for i := 0; i < 50; i++ {
		d := j.Next(0)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	bad := errors.New("bad payload")
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return Permanent(bad)
	}, Policy{Name: "test_permanent", Attempts: 5, Backoff: ExpoJitter{Base: time.Hour}})

	assert.ErrorIs(t, err, bad)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
	assert.Nil(t, Permanent(nil))
	assert.False(t, IsPermanent(bad))
}
