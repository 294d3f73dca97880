package topology

import (
	"fmt"
	"sort"
	"time"

	"tripcards.app/internal/models"
)

// TimetableEntry describes one route's service pattern from a station as a
// first/last departure and a fixed headway.
type TimetableEntry struct {
	RouteID        string         `json:"routeId"`
	Headsign       string         `json:"headsign"`
	DirectionID    int            `json:"directionId"`
	Days           string         `json:"days"`
	First          string         `json:"first"`
	Last           string         `json:"last"`
	HeadwayMinutes int            `json:"headwayMinutes"`
	RunMinutes     map[string]int `json:"runMinutes"`

	first, last int
}

// Timetable is the representative per-station table used when a snapshot is
// missing or unreadable.
type Timetable struct {
	families map[string]map[string][]TimetableEntry
}

func loadTimetable() (*Timetable, error) {
	var doc struct {
		Families map[string]map[string][]TimetableEntry `json:"families"`
	}
	if err := readJSON("static_timetable.json", &doc); err != nil {
		return nil, err
	}
	for family, stations := range doc.Families {
		for stop, entries := range stations {
			for i := range entries {
				e := &entries[i]
				var err error
				if e.first, err = clockMinutes(e.First); err != nil {
					return nil, fmt.Errorf("%s/%s first: %w", family, stop, err)
				}
				if e.last, err = clockMinutes(e.Last); err != nil {
					return nil, fmt.Errorf("%s/%s last: %w", family, stop, err)
				}
				if e.HeadwayMinutes <= 0 {
					return nil, fmt.Errorf("%s/%s: headway must be positive", family, stop)
				}
			}
		}
	}
	return &Timetable{families: doc.Families}, nil
}

func clockMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// TimetableQuery selects departures from the static table.
type TimetableQuery struct {
	Family      string
	Origin      string
	Destination string
	ServiceDate int
	Weekday     time.Weekday
	DirectionID *int
	RouteID     string
}

// Departures expands matching entries into trips for one service date, in
// departure order.
func (t *Timetable) Departures(q TimetableQuery) []models.ScheduledTrip {
	var out []models.ScheduledTrip
	for _, e := range t.families[q.Family][q.Origin] {
		if !e.runsOn(q.Weekday) {
			continue
		}
		if q.RouteID != "" && q.RouteID != e.RouteID {
			continue
		}
		if q.DirectionID != nil && *q.DirectionID != e.DirectionID {
			continue
		}
		run, reaches := e.RunMinutes[q.Destination]
		if q.Destination != "" && !reaches {
			continue
		}
		for m := e.first; m <= e.last; m += e.HeadwayMinutes {
			trip := models.ScheduledTrip{
				TripID:        fmt.Sprintf("static:%s:%s:%04d", e.RouteID, q.Origin, m),
				RouteID:       e.RouteID,
				Headsign:      e.Headsign,
				DirectionID:   e.DirectionID,
				OriginMinutes: m,
				ServiceDate:   q.ServiceDate,
			}
			if q.Destination != "" {
				dest := m + run
				trip.DestMinutes = &dest
			}
			out = append(out, trip)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OriginMinutes < out[j].OriginMinutes })
	return out
}

// HasStation reports whether the static table covers origin for family.
func (t *Timetable) HasStation(family, origin string) bool {
	_, ok := t.families[family][origin]
	return ok
}

func (e TimetableEntry) runsOn(d time.Weekday) bool {
	weekend := d == time.Saturday || d == time.Sunday
	switch e.Days {
	case "weekday":
		return !weekend
	case "weekend":
		return weekend
	default:
		return true
	}
}
