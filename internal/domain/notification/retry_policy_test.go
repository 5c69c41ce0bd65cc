package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRetryDelay(t *testing.T) {
	cases := []struct {
		count int
		want  time.Duration
		ok    bool
	}{
		{0, 0, false},
		{1, time.Hour, true},
		{2, 4 * time.Hour, true},
		{3, 24 * time.Hour, true},
		{4, 0, false},
		{-1, 0, false},
	}
	for _, tc := range cases {
		d, ok := NextRetryDelay(tc.count)
		assert.Equal(t, tc.ok, ok, "count %d", tc.count)
		assert.Equal(t, tc.want, d, "count %d", tc.count)
	}
}
