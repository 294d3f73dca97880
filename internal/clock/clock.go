// Package clock abstracts the wall clock so arrival math can be pinned in tests
// and replayed against a fixed instant in staging.
package clock

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Clock is the time source used by adapters, caches and the reconciler.
// It also satisfies gcache.Clock.
type Clock interface {
	Now() time.Time
	// Unix returns the current time in seconds, the unit every arrival uses.
	Unix() int64
}

// RealClock reads the system time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Unix() int64 { return time.Now().Unix() }

// MockClock is a settable, goroutine-safe clock for tests.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *MockClock) Unix() int64 {
	return m.Now().Unix()
}

// Set moves the clock to t.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Advance moves the clock by d. Negative durations move it backwards.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// PinnedClock reads "now" from an environment variable, falling back to the
// system time when the variable is unset or unparsable. Operators use it to
// replay a recorded feed against the instant it was captured.
type PinnedClock struct {
	envVar   string
	location *time.Location
	logger   *slog.Logger

	warnOnce sync.Once
}

func NewPinnedClock(envVar string, location *time.Location, logger *slog.Logger) *PinnedClock {
	if logger == nil {
		logger = slog.Default()
	}
	return &PinnedClock{envVar: envVar, location: location, logger: logger}
}

func (p *PinnedClock) Now() time.Time {
	raw := os.Getenv(p.envVar)
	if raw == "" {
		return time.Now()
	}
	t, err := p.parse(raw)
	if err != nil {
		p.warnOnce.Do(func() {
			p.logger.Warn("pinned clock value unusable, using system time",
				slog.String("env_var", p.envVar), slog.String("error", err.Error()))
		})
		return time.Now()
	}
	return t
}

func (p *PinnedClock) Unix() int64 { return p.Now().Unix() }

func (p *PinnedClock) parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if p.location == nil {
		return time.Time{}, errors.New("timezone not configured")
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, p.location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time %q: expected RFC3339 or YYYY-MM-DD[ HH:MM:SS]", s)
}
