package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRealClock(t *testing.T) {
	before := time.Now()
	got := RealClock{}.Now()
	assert.False(t, got.Before(before))
	assert.InDelta(t, time.Now().Unix(), RealClock{}.Unix(), 1)
}

func TestMockClock_SetAndAdvance(t *testing.T) {
	start := time.Date(2024, 6, 15, 8, 30, 0, 0, time.UTC)
	c := NewMockClock(start)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Unix(), c.Unix())

	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())

	c.Advance(-30 * time.Second)
	assert.Equal(t, start.Add(time.Minute), c.Now())

	later := time.Date(2024, 12, 25, 12, 0, 0, 0, time.UTC)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}

func TestMockClock_Concurrent(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				c.Advance(time.Second)
				_ = c.Now()
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, int64(800), c.Unix())
}

func TestPinnedClock(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}

	tests := []struct {
		name   string
		value  string
		want   time.Time
		system bool
	}{
		{name: "rfc3339", value: "2024-03-10T06:59:00Z", want: time.Date(2024, 3, 10, 6, 59, 0, 0, time.UTC)},
		{name: "local wall time", value: "2024-07-04 09:15:00", want: time.Date(2024, 7, 4, 9, 15, 0, 0, ny)},
		{name: "date only", value: " 2024-07-04\n", want: time.Date(2024, 7, 4, 0, 0, 0, 0, ny)},
		{name: "garbage falls back", value: "yesterday", system: true},
		{name: "unset falls back", value: "", system: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TRIPCARDS_NOW", tt.value)
			c := NewPinnedClock("TRIPCARDS_NOW", ny, nil)
			got := c.Now()
			if tt.system {
				assert.WithinDuration(t, time.Now(), got, 5*time.Second)
				return
			}
			assert.True(t, tt.want.Equal(got), "want %v got %v", tt.want, got)
		})
	}
}
