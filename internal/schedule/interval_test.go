package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return v
}

func TestParseInterval(t *testing.T) {
	iv, err := ParseInterval("Weekly")
	require.NoError(t, err)
	assert.Equal(t, Monday, iv)
	_, err = ParseInterval("fortnightly")
	require.Error(t, err)
}

func TestIsDueDailyAcrossBoundary(t *testing.T) {
	r := NewResolver(nil)
	last := ts(t, "2025-05-01T00:30:00Z")
	assert.True(t, r.IsDue("daily", ts(t, "2025-05-02T01:05:00Z"), last))
	assert.False(t, r.IsDue("daily", ts(t, "2025-05-01T23:59:00Z"), last))
}

func TestIsDueDailyAfterBoundaryWithinSameDay(t *testing.T) {
	r := NewResolver(nil)
	assert.False(t, r.IsDue("daily", ts(t, "2025-05-02T00:59:00Z"), ts(t, "2025-05-01T01:00:30Z")))
	assert.True(t, r.IsDue("daily", ts(t, "2025-05-02T01:00:00Z"), ts(t, "2025-05-01T01:00:30Z")))
}

func TestIsDueFiresOnceAfterDowntime(t *testing.T) {
	r := NewResolver(nil)
	last := ts(t, "2025-05-01T01:00:00Z")
	now := ts(t, "2025-05-09T12:00:00Z")
	require.True(t, r.IsDue("daily", now, last))
	// Having run at now, the same day's boundary must not fire again.
	assert.False(t, r.IsDue("daily", now.Add(time.Hour), now))
}

func TestIsDueHourly(t *testing.T) {
	r := NewResolver(nil)
	last := ts(t, "2025-05-01T10:00:20Z")
	assert.False(t, r.IsDue("hourly", ts(t, "2025-05-01T10:59:59Z"), last))
	assert.True(t, r.IsDue("hourly", ts(t, "2025-05-01T11:00:00Z"), last))
}

func TestIsDueMonday(t *testing.T) {
	r := NewResolver(nil)
	// 2025-05-05 is a Monday.
	last := ts(t, "2025-04-28T01:00:10Z")
	assert.False(t, r.IsDue("monday", ts(t, "2025-05-05T00:30:00Z"), last))
	assert.True(t, r.IsDue("monday", ts(t, "2025-05-05T01:00:00Z"), last))
	assert.True(t, r.IsDue("weekly", ts(t, "2025-05-07T09:00:00Z"), last))
	assert.False(t, r.IsDue("monday", ts(t, "2025-05-11T23:00:00Z"), ts(t, "2025-05-05T01:00:10Z")))
}

func TestIsDueMonthly(t *testing.T) {
	r := NewResolver(nil)
	last := ts(t, "2025-04-01T01:00:05Z")
	assert.False(t, r.IsDue("monthly", ts(t, "2025-05-01T00:59:00Z"), last))
	assert.True(t, r.IsDue("monthly", ts(t, "2025-05-01T01:00:00Z"), last))
	assert.False(t, r.IsDue("monthly", ts(t, "2025-05-20T00:00:00Z"), ts(t, "2025-05-01T01:00:05Z")))
}

func TestIsDueMinutelyAndNeverRun(t *testing.T) {
	r := NewResolver(nil)
	now := ts(t, "2025-05-01T10:00:00Z")
	assert.True(t, r.IsDue("minutely", now, now))
	assert.True(t, r.IsDue("monthly", now, time.Time{}))
}

func TestIsDueUnknownInterval(t *testing.T) {
	r := NewResolver(nil)
	assert.False(t, r.IsDue("yearly", ts(t, "2025-05-01T10:00:00Z"), time.Time{}))
}

func TestIsDueUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	r := NewResolver(loc)
	// 23:30Z is 01:30 local on the next day, past the local boundary.
	last := ts(t, "2025-05-01T00:00:00Z")
	assert.True(t, r.IsDue("daily", ts(t, "2025-05-01T23:30:00Z"), last))
	assert.False(t, NewResolver(nil).IsDue("daily", ts(t, "2025-05-01T23:30:00Z"), last))
}

func TestLastBoundary(t *testing.T) {
	r := NewResolver(nil)
	assert.Equal(t, ts(t, "2025-05-01T01:00:00Z"), r.LastBoundary(Daily, ts(t, "2025-05-02T00:30:00Z")))
	assert.Equal(t, ts(t, "2025-04-01T01:00:00Z"), r.LastBoundary(Monthly, ts(t, "2025-05-01T00:30:00Z")))
	assert.Equal(t, ts(t, "2025-04-28T01:00:00Z"), r.LastBoundary(Monday, ts(t, "2025-05-05T00:30:00Z")))
}
