package croneval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}

func TestDueFiresOncePerSlot(t *testing.T) {
	assert := assert.New(t)

	// Every minute, ticked at 12:00:30 with no prior run
	now := ts(t, "2025-06-01T12:00:30Z")
	due, scheduledAt, err := Due("*/1 * * * *", now, nil, DefaultWindow)
	assert.NoError(err)
	assert.True(due)
	assert.Equal(ts(t, "2025-06-01T12:00:00Z"), scheduledAt)

	// Second tick inside the same slot: consumed by lastRun
	lastRun := scheduledAt
	due, _, err = Due("*/1 * * * *", ts(t, "2025-06-01T12:00:45Z"), &lastRun, DefaultWindow)
	assert.NoError(err)
	assert.False(due)

	// Next slot fires again
	due, scheduledAt, err = Due("*/1 * * * *", ts(t, "2025-06-01T12:01:10Z"), &lastRun, DefaultWindow)
	assert.NoError(err)
	assert.True(due)
	assert.Equal(ts(t, "2025-06-01T12:01:00Z"), scheduledAt)
}

func TestDueStaleScheduleOutsideWindow(t *testing.T) {
	assert := assert.New(t)

	// Daily at 08:00, ticked at noon: the 08:00 slot is long stale
	due, _, err := Due("0 8 * * *", ts(t, "2025-06-01T12:00:00Z"), nil, DefaultWindow)
	assert.NoError(err)
	assert.False(due)

	// Ticked 30s after the slot: inside the window
	due, scheduledAt, err := Due("0 8 * * *", ts(t, "2025-06-01T08:00:30Z"), nil, DefaultWindow)
	assert.NoError(err)
	assert.True(due)
	assert.Equal(ts(t, "2025-06-01T08:00:00Z"), scheduledAt)
}

func TestDueLastRunInFutureOfSlot(t *testing.T) {
	assert := assert.New(t)

	// lastRun after the scheduled moment means the slot was consumed
	lastRun := ts(t, "2025-06-01T08:00:05Z")
	due, _, err := Due("0 8 * * *", ts(t, "2025-06-01T08:00:40Z"), &lastRun, DefaultWindow)
	assert.NoError(err)
	assert.False(due)
}

func TestDueInvalidExpression(t *testing.T) {
	_, _, err := Due("not a cron", time.Now(), nil, DefaultWindow)
	assert.Error(t, err)
}

func TestDueZeroWindowUsesDefault(t *testing.T) {
	due, _, err := Due("*/1 * * * *", ts(t, "2025-06-01T12:00:10Z"), nil, 0)
	assert.NoError(t, err)
	assert.True(t, due)
}

func TestPrevious(t *testing.T) {
	assert := assert.New(t)
	sched, err := Parse("*/5 * * * *")
	assert.NoError(err)

	now := ts(t, "2025-06-01T12:07:00Z")
	prev, ok := Previous(sched, now, now.Add(-10*time.Minute))
	assert.True(ok)
	assert.Equal(ts(t, "2025-06-01T12:05:00Z"), prev)

	// No scheduled moment inside a tiny window
	prev, ok = Previous(sched, now, now.Add(-time.Minute))
	assert.False(ok)
	assert.True(prev.IsZero())
}
