// Package reconcile merges live arrivals into a scheduled list.
package reconcile

import (
	"sort"
	"time"

	"tripcards.app/internal/models"
)

const (
	DefaultWindow = 20 * time.Minute
	DefaultGrace  = 5 * time.Minute
	DefaultLimit  = 3
)

type Options struct {
	Now time.Time
	// Window is the correlation window. Zero disables correlation, so live
	// arrivals are only appended.
	Window time.Duration
	// Grace keeps a scheduled entry this long after its time.
	Grace time.Duration
	Limit int
}

// Merge replaces each scheduled entry that correlates with a live arrival,
// appends the live arrivals that correlate with nothing, drops departed
// entries, then sorts and truncates. Neither input is modified.
//
// A live arrival correlates with the closest unreplaced scheduled entry within
// the window. A live arrival for a trip already present as live replaces that
// entry, so merging the same arrival twice changes nothing.
func Merge(scheduled, live []models.Arrival, opts Options) []models.Arrival {
	out := make([]models.Arrival, 0, len(scheduled)+len(live))
	for _, a := range scheduled {
		if a.Status == "" {
			a.Status = models.StatusScheduled
		}
		out = append(out, a)
	}

	for _, a := range live {
		a.Status = models.StatusLive
		if i := sameTrip(out, a); i >= 0 {
			out[i] = a
			continue
		}
		if i := closestScheduled(out, a.Time, opts.Window); i >= 0 {
			out[i] = a
			continue
		}
		out = append(out, a)
	}

	out = dropDeparted(out, opts.Now, opts.Grace)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sameTrip(list []models.Arrival, a models.Arrival) int {
	if a.SourceTripID == "" {
		return -1
	}
	for i, b := range list {
		if b.Status == models.StatusLive && b.SourceTripID == a.SourceTripID {
			return i
		}
	}
	return -1
}

// closestScheduled picks the nearest scheduled entry, the earlier one on a tie.
func closestScheduled(list []models.Arrival, t int64, window time.Duration) int {
	if window <= 0 {
		return -1
	}
	limit := int64(window / time.Second)
	best, bestDiff := -1, int64(-1)
	for i, b := range list {
		if b.Status != models.StatusScheduled {
			continue
		}
		diff := b.Time - t
		if diff < 0 {
			diff = -diff
		}
		if diff > limit {
			continue
		}
		if best < 0 || diff < bestDiff || (diff == bestDiff && b.Time < list[best].Time) {
			best, bestDiff = i, diff
		}
	}
	return best
}

// dropDeparted removes scheduled entries older than now-grace and live entries
// older than now.
func dropDeparted(list []models.Arrival, now time.Time, grace time.Duration) []models.Arrival {
	liveCutoff := now.Unix()
	scheduledCutoff := now.Add(-grace).Unix()
	kept := list[:0]
	for _, a := range list {
		switch {
		case a.Status == models.StatusLive && a.Time < liveCutoff:
		case a.Status == models.StatusScheduled && a.Time < scheduledCutoff:
		default:
			kept = append(kept, a)
		}
	}
	return kept
}
