package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseIntervalDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"30s", 30 * time.Second, true},
		{"15m", 15 * time.Minute, true},
		{"1h", time.Hour, true},
		{"4H", 4 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"1w", 7 * 24 * time.Hour, true},
		{" 30m ", 30 * time.Minute, true},
		{"", 0, false},
		{"h", 0, false},
		{"0m", 0, false},
		{"-1h", 0, false},
		{"1x", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseIntervalDuration(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestDailyNextRun(t *testing.T) {
	s := &DailyScheduler{Hour: 16, Minute: 30, Location: time.UTC}

	// Before today's slot: fires today.
	now := time.Date(2025, 6, 9, 10, 0, 0, 0, time.UTC) // Monday
	assert.Equal(t, time.Date(2025, 6, 9, 16, 30, 0, 0, time.UTC), s.nextRun(now))

	// After today's slot: fires tomorrow.
	now = time.Date(2025, 6, 9, 17, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 10, 16, 30, 0, 0, time.UTC), s.nextRun(now))
}

func TestDailyNextRunSkipsVetoedDays(t *testing.T) {
	s := &DailyScheduler{
		Hour:     16,
		Location: time.UTC,
		ShouldRun: func(day time.Time) bool {
			return day.Weekday() != time.Saturday && day.Weekday() != time.Sunday
		},
	}
	// Friday evening rolls over the weekend to Monday.
	now := time.Date(2025, 6, 6, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 9, 16, 0, 0, 0, time.UTC), s.nextRun(now))
}
