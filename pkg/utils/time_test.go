package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNow(t *testing.T) {
	got := Now()

	assert.WithinDuration(t, time.Now().UTC(), got, 10*time.Millisecond)
	assert.Equal(t, time.UTC, got.Location())
}

func TestUnixToTime(t *testing.T) {
	tests := []struct {
		name      string
		timestamp int64
		expected  time.Time
	}{
		{
			name:      "epoch seconds",
			timestamp: 1704067200,
			expected:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "zero maps to zero time",
			timestamp: 0,
			expected:  time.Time{},
		},
		{
			name:      "negative maps to zero time",
			timestamp: -42,
			expected:  time.Time{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, UnixToTime(tc.timestamp))
		})
	}
}

func TestFormatISO8601(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Time
		expected string
	}{
		{
			name:     "utc input",
			input:    time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC),
			expected: "2024-06-15T09:30:00Z",
		},
		{
			name:     "offset input converted to utc",
			input:    time.Date(2024, 6, 15, 16, 30, 0, 0, time.FixedZone("WIB", 7*60*60)),
			expected: "2024-06-15T09:30:00Z",
		},
		{
			name:     "sub-second precision dropped",
			input:    time.Date(2024, 6, 15, 9, 30, 0, 987000000, time.UTC),
			expected: "2024-06-15T09:30:00Z",
		},
		{
			name:     "zero time",
			input:    time.Time{},
			expected: "0001-01-01T00:00:00Z",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, FormatISO8601(tc.input))
		})
	}
}
