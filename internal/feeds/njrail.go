package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tripcards.app/internal/cache"
	"tripcards.app/internal/metrics"
	"tripcards.app/internal/models"
	"tripcards.app/internal/timeloc"
)

// njtTimeLayout is the civil-time format NJ Transit uses for every timestamp.
const njtTimeLayout = "02-Jan-2006 03:04:05 PM"

// NJRailAdapter reads departures with their remaining stops for one station.
type NJRailAdapter struct {
	session njtSession
	loc     timeloc.Localizer
}

func NewNJRailAdapter(cfg NJTConfig, tokens *cache.TokenCache, loc timeloc.Localizer, client *http.Client, m *metrics.Metrics, logger *slog.Logger) *NJRailAdapter {
	return &NJRailAdapter{
		session: njtSession{
			upstream:  newUpstream("njt_rail", client, m, logger),
			cfg:       cfg,
			family:    NJRailTokenFamily,
			loginPath: "getToken",
			tokens:    tokens,
		},
		loc: loc,
	}
}

func (a *NJRailAdapter) Name() string { return a.session.name }

type njRailSchedule struct {
	Station string        `json:"STATION_2CHAR"`
	Items   []njRailTrain `json:"ITEMS"`
}

type njRailTrain struct {
	TrainID         string       `json:"TRAIN_ID"`
	Line            string       `json:"LINE"`
	LineCode        string       `json:"LINECODE"`
	Destination     string       `json:"DESTINATION"`
	Track           string       `json:"TRACK"`
	ScheduledDepart string       `json:"SCHED_DEP_DATE"`
	SecondsLate     string       `json:"SEC_LATE"`
	Stops           []njRailStop `json:"STOPS"`
}

type njRailStop struct {
	Station  string `json:"STATION_2CHAR"`
	Time     string `json:"TIME"`
	Departed string `json:"DEPARTED"`
}

func (a *NJRailAdapter) Fetch(ctx context.Context, q models.Query) (updates []RawTripUpdate, err error) {
	start := time.Now()
	defer func() { a.session.observe(start, err) }()

	body, err := a.session.post(ctx, "getScheduleWithStops", url.Values{"station": {q.StopID}})
	if err != nil {
		return nil, err
	}

	var sched njRailSchedule
	if err := json.Unmarshal(body, &sched); err != nil {
		return nil, fmt.Errorf("%w: njt rail schedule: %v", ErrDecode, err)
	}
	origin := q.StopID
	if sched.Station != "" {
		origin = sched.Station
	}

	updates = make([]RawTripUpdate, 0, len(sched.Items))
	for _, train := range sched.Items {
		u, err := a.toUpdate(origin, train)
		if err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func (a *NJRailAdapter) toUpdate(origin string, train njRailTrain) (RawTripUpdate, error) {
	u := RawTripUpdate{
		TripID:   train.TrainID,
		RouteID:  train.LineCode,
		Headsign: strings.TrimSpace(html.UnescapeString(train.Destination)),
	}
	if train.Line != "" && train.Line != train.LineCode {
		u.RouteAliases = []string{train.Line}
	}

	departs, err := parseNJTTime(a.loc, train.ScheduledDepart)
	if err != nil {
		return RawTripUpdate{}, err
	}
	if late, err := strconv.ParseInt(strings.TrimSpace(train.SecondsLate), 10, 64); err == nil && late > 0 {
		departs += late
	}
	originStop := StopTimeUpdate{
		StopID:        origin,
		Sequence:      intPtr(0),
		DepartureTime: int64Ptr(departs),
		Track:         strings.TrimSpace(train.Track),
	}

	seenOrigin := false
	for i, stop := range train.Stops {
		if stop.Station == origin {
			originStop.Sequence = intPtr(i + 1)
			u.StopTimeUpdates = append(u.StopTimeUpdates, originStop)
			seenOrigin = true
			continue
		}
		s := StopTimeUpdate{StopID: stop.Station, Sequence: intPtr(i + 1)}
		if stop.Time != "" {
			at, err := parseNJTTime(a.loc, stop.Time)
			if err != nil {
				return RawTripUpdate{}, err
			}
			s.ArrivalTime = int64Ptr(at)
		}
		u.StopTimeUpdates = append(u.StopTimeUpdates, s)
	}
	if !seenOrigin {
		u.StopTimeUpdates = append([]StopTimeUpdate{originStop}, u.StopTimeUpdates...)
	}
	return u, nil
}

// parseNJTTime reads a civil NJ Transit timestamp in the service timezone.
func parseNJTTime(loc timeloc.Localizer, s string) (int64, error) {
	t, err := time.Parse(njtTimeLayout, strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: njt time %q: %v", ErrDecode, s, err)
	}
	date := timeloc.JoinDate(t.Year(), int(t.Month()), t.Day())
	abs := loc.Absolute(date, t.Hour()*60+t.Minute())
	return abs.Unix() + int64(t.Second()), nil
}
