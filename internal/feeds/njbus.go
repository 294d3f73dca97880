package feeds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"tripcards.app/internal/cache"
	"tripcards.app/internal/clock"
	"tripcards.app/internal/metrics"
	"tripcards.app/internal/models"
	"tripcards.app/internal/timeloc"
)

// NJBusAdapter reads the departure board of one NJ Transit bus stop.
type NJBusAdapter struct {
	session njtSession
	loc     timeloc.Localizer
	clock   clock.Clock
}

func NewNJBusAdapter(cfg NJTConfig, tokens *cache.TokenCache, loc timeloc.Localizer, clk clock.Clock, client *http.Client, m *metrics.Metrics, logger *slog.Logger) *NJBusAdapter {
	return &NJBusAdapter{
		session: njtSession{
			upstream:  newUpstream("njt_bus", client, m, logger),
			cfg:       cfg,
			family:    NJBusTokenFamily,
			loginPath: "authenticateUser",
			tokens:    tokens,
		},
		loc:   loc,
		clock: clk,
	}
}

func (a *NJBusAdapter) Name() string { return a.session.name }

type njBusTrip struct {
	PublicRoute   string `json:"public_route"`
	Header        string `json:"header"`
	LaneGate      string `json:"lanegate"`
	DepartureTime string `json:"departuretime"`
	TripNumber    string `json:"internal_trip_number"`
	VehicleID     string `json:"vehicle_id"`
}

func (a *NJBusAdapter) Fetch(ctx context.Context, q models.Query) (updates []RawTripUpdate, err error) {
	start := time.Now()
	defer func() { a.session.observe(start, err) }()

	form := url.Values{"stop": {q.StopID}, "IP": {""}}
	if !q.WantsAnyRoute() {
		form.Set("route", q.RouteID)
	}
	if q.Direction != "" {
		form.Set("direction", q.Direction)
	}
	body, err := a.session.post(ctx, "getBusDV", form)
	if err != nil {
		return nil, err
	}

	trips, err := decodeBusDV(body)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	for _, trip := range trips {
		dep, ok := ParseBusDeparture(trip.DepartureTime)
		if !ok {
			a.session.logger.Debug("skipping unparseable departure",
				slog.String("departure", trip.DepartureTime))
			continue
		}
		tripID := trip.TripNumber
		if tripID == "" {
			tripID = trip.VehicleID
		}
		updates = append(updates, RawTripUpdate{
			TripID:   tripID,
			RouteID:  trip.PublicRoute,
			Headsign: busHeadsign(trip.PublicRoute, trip.Header),
			StopTimeUpdates: []StopTimeUpdate{{
				StopID:        q.StopID,
				DepartureTime: int64Ptr(dep.At(now, a.loc).Unix()),
				Track:         strings.TrimSpace(trip.LaneGate),
			}},
		})
	}
	return updates, nil
}

// decodeBusDV accepts both the wrapped {"DVTrip": [...]} answer and a bare list.
func decodeBusDV(body []byte) ([]njBusTrip, error) {
	body = bytes.TrimSpace(body)
	var trips []njBusTrip
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &trips); err != nil {
			return nil, fmt.Errorf("%w: njt bus departures: %v", ErrDecode, err)
		}
		return trips, nil
	}
	var wrapped struct {
		DVTrip []njBusTrip `json:"DVTrip"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: njt bus departures: %v", ErrDecode, err)
	}
	return wrapped.DVTrip, nil
}

// busHeadsign drops the route number the board prefixes to each header.
func busHeadsign(route, header string) string {
	header = strings.TrimSpace(header)
	if route != "" {
		header = strings.TrimSpace(strings.TrimPrefix(header, route))
	}
	return header
}

// BusDeparture is a departure-board value: either minutes from now or a
// wall-clock time of day.
type BusDeparture struct {
	Minutes int
	// Clock is true when Minutes counts from local midnight.
	Clock bool
}

var relativeMinutes = regexp.MustCompile(`(?i)^(?:in\s+)?(\d+)\s*mins?\b`)

// ParseBusDeparture reads "in 7 mins", "7 MIN", "DUE", "< 1 min" and "10:35 PM".
func ParseBusDeparture(s string) (BusDeparture, bool) {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "":
		return BusDeparture{}, false
	case "DUE", "NOW", "ARRIVING", "APPROACHING":
		return BusDeparture{}, true
	}
	if strings.HasPrefix(s, "<") {
		return BusDeparture{}, true
	}
	if m := relativeMinutes.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return BusDeparture{}, false
		}
		return BusDeparture{Minutes: n}, true
	}
	if minutes, err := timeloc.ParseClock(strings.ToUpper(s)); err == nil {
		return BusDeparture{Minutes: minutes, Clock: true}, true
	}
	return BusDeparture{}, false
}

// At resolves the departure against now. A clock time more than twelve hours
// behind now is read as tomorrow, more than twelve hours ahead as yesterday.
func (d BusDeparture) At(now time.Time, loc timeloc.Localizer) time.Time {
	if !d.Clock {
		return now.Add(time.Duration(d.Minutes) * time.Minute)
	}
	date, current := loc.Civil(now)
	switch {
	case d.Minutes < current-12*60:
		date = timeloc.AddDays(date, 1)
	case d.Minutes > current+12*60:
		date = timeloc.PreviousDate(date)
	}
	return loc.Absolute(date, d.Minutes)
}
