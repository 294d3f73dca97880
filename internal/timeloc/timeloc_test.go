package timeloc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbsoluteRoundTrip(t *testing.T) {
	l := MustNew(DefaultZone)

	tests := []struct {
		name    string
		date    int
		minutes int
		wantUTC time.Time
	}{
		{name: "winter EST", date: 20240115, minutes: 8*60 + 30, wantUTC: time.Date(2024, 1, 15, 13, 30, 0, 0, time.UTC)},
		{name: "summer EDT", date: 20240715, minutes: 8*60 + 30, wantUTC: time.Date(2024, 7, 15, 12, 30, 0, 0, time.UTC)},
		{name: "midnight", date: 20240715, minutes: 0, wantUTC: time.Date(2024, 7, 15, 4, 0, 0, 0, time.UTC)},
		{name: "late evening", date: 20241231, minutes: 23*60 + 59, wantUTC: time.Date(2025, 1, 1, 4, 59, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := l.Absolute(tt.date, tt.minutes)
			assert.True(t, tt.wantUTC.Equal(got), "want %v got %v", tt.wantUTC, got.UTC())

			date, minutes := l.Civil(got)
			assert.Equal(t, tt.date, date)
			assert.Equal(t, tt.minutes, minutes)
		})
	}
}

func TestAbsoluteAcrossDSTChange(t *testing.T) {
	l := MustNew(DefaultZone)

	// 2024-03-10: clocks jump from 02:00 EST to 03:00 EDT.
	before := l.Absolute(20240310, 60)
	after := l.Absolute(20240310, 4*60)
	assert.Equal(t, time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC), before.UTC())
	assert.Equal(t, time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC), after.UTC())

	// 2024-11-03: clocks fall back from 02:00 EDT to 01:00 EST.
	fall := l.Absolute(20241103, 6*60)
	assert.Equal(t, time.Date(2024, 11, 3, 11, 0, 0, 0, time.UTC), fall.UTC())
}

func TestAbsoluteRollsPastMidnight(t *testing.T) {
	l := MustNew(DefaultZone)

	got := l.Absolute(20240715, 1440+25)
	assert.Equal(t, time.Date(2024, 7, 16, 4, 25, 0, 0, time.UTC), got.UTC())

	date, minutes := l.Civil(got)
	assert.Equal(t, 20240716, date)
	assert.Equal(t, 25, minutes)
}

func TestAbsoluteIgnoresHostZone(t *testing.T) {
	l := MustNew(DefaultZone)
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	got := l.Absolute(20240715, 9*60)
	date, minutes := l.Civil(got.In(tokyo))
	assert.Equal(t, 20240715, date)
	assert.Equal(t, 9*60, minutes)
}

func TestServiceDate(t *testing.T) {
	l := MustNew(DefaultZone)
	// 02:30 UTC on the 16th is still the evening of the 15th in New York.
	assert.Equal(t, 20240715, l.ServiceDate(time.Date(2024, 7, 16, 2, 30, 0, 0, time.UTC)))
}

func TestDateHelpers(t *testing.T) {
	assert.Equal(t, 20240229, PreviousDate(20240301))
	assert.Equal(t, 20231231, PreviousDate(20240101))
	assert.Equal(t, 20240102, AddDays(20231231, 2))

	y, m, d := SplitDate(20240715)
	assert.Equal(t, []int{2024, 7, 15}, []int{y, m, d})
}

func TestParseClock(t *testing.T) {
	tests := map[string]int{
		"10:35 PM": 22*60 + 35,
		"10:35PM":  22*60 + 35,
		"12:05 AM": 5,
		"07:15":    7*60 + 15,
	}
	for in, want := range tests {
		got, err := ParseClock(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseClock("soon")
	assert.Error(t, err)
}

func TestNewRejectsUnknownZone(t *testing.T) {
	_, err := New("Mars/Olympus_Mons")
	assert.Error(t, err)
}
