package arrivals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"tripcards.app/internal/feeds"
	"tripcards.app/internal/logging"
	"tripcards.app/internal/matcher"
	"tripcards.app/internal/models"
	"tripcards.app/internal/reconcile"
	"tripcards.app/internal/schedule"
)

// Result is one resolved query.
type Result struct {
	Arrivals []models.Arrival
	Alerts   []models.Alert
	Debug    models.DebugInfo
}

type liveResult struct {
	updates []feeds.RawTripUpdate
	err     error
}

// Resolve answers one query. The live fetch, the schedule read and the alerts
// run concurrently under the query timeout. A live failure falls back to the
// schedule when the mode has one and is returned as an error otherwise.
func (s *Service) Resolve(ctx context.Context, q models.Query) (Result, error) {
	start := s.clock.Now()
	res := Result{Arrivals: []models.Arrival{}, Alerts: []models.Alert{}}
	res.Debug.Mode = q.Mode

	if err := s.validate.Struct(q); err != nil {
		return res, fmt.Errorf("%w: %s", ErrInvalidQuery, models.ValidationMessage(err))
	}

	fam := families[q.Mode]
	adapter, hasLive := s.adapters[q.Mode]
	if !hasLive && fam.fallback == "" {
		s.countResolve(q.Mode, "error")
		return res, fmt.Errorf("%w: %s", ErrModeUnavailable, q.Mode)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	logger := logging.ForRequest(ctx, s.logger)

	var (
		wg     sync.WaitGroup
		sched  schedule.Answer
		alerts []models.Alert
	)
	liveCh := make(chan liveResult, 1)
	if hasLive {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					liveCh <- liveResult{err: fmt.Errorf("%w: %s adapter panic: %v", feeds.ErrUpstreamUnavailable, adapter.Name(), r)}
				}
			}()
			updates, err := adapter.Fetch(ctx, q)
			liveCh <- liveResult{updates: updates, err: err}
		}()
	} else {
		liveCh <- liveResult{err: fmt.Errorf("%w: no live source for %s", ErrModeUnavailable, q.Mode)}
	}
	if fam.fallback != "" && s.schedule != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched = s.schedule.NextTrips(ctx, s.scheduleRequest(q, fam.fallback, start))
		}()
	}
	if s.alerts != nil && !q.WantsAnyRoute() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alerts = s.fetchAlerts(ctx, q, logger)
		}()
	}

	var live liveResult
	select {
	case live = <-liveCh:
	case <-ctx.Done():
		live = liveResult{err: ctx.Err()}
	}
	wg.Wait()

	if live.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		live.err = fmt.Errorf("%w after %s: %v", ErrTimeout, s.cfg.QueryTimeout, live.err)
	}

	res.Debug.LiveUpdates = len(live.updates)
	res.Debug.ScheduledTrips = len(sched.Trips)
	res.Debug.StaticTimetable = sched.Static
	if alerts != nil {
		res.Alerts = alerts
	}

	if live.err != nil {
		res.Debug.LiveError = live.err.Error()
		if fam.fallback == "" {
			s.countResolve(q.Mode, "error")
			res.Debug.ElapsedMs = s.clock.Now().Sub(start).Milliseconds()
			return res, fmt.Errorf("%s live source: %w", q.Mode, live.err)
		}
		logger.Warn("live source failed, using schedule",
			slog.String("mode", string(q.Mode)),
			slog.String("route", q.RouteID),
			slog.String("stop", q.StopID),
			slog.String("error", live.err.Error()))
	}

	var matched matcher.Result
	if live.err == nil {
		matched = s.matcher.Match(q, live.updates)
	}
	res.Debug.LiveMatches = len(matched.Matches)
	if len(matched.Rules) > 0 {
		res.Debug.Rules = matched.Rules
	}
	res.Debug.InferredLine = matched.InferredLine
	res.Debug.AmbiguousLine = matched.AmbiguousLine

	now := s.clock.Now()
	liveArrivals := make([]models.Arrival, 0, len(matched.Matches))
	for _, m := range matched.Matches {
		liveArrivals = append(liveArrivals, s.liveArrival(ctx, q, fam.names, m, now))
	}
	scheduled := make([]models.Arrival, 0, len(sched.Trips))
	for _, trip := range sched.Trips {
		scheduled = append(scheduled, s.scheduledArrival(ctx, q, fam.names, trip, now))
	}

	res.Arrivals = reconcile.Merge(scheduled, liveArrivals, reconcile.Options{
		Now:    now,
		Window: s.cfg.CorrelationWindow,
		Grace:  s.cfg.ScheduledGrace,
		Limit:  s.cfg.ResultLimit,
	})
	res.Debug.UsedFallback = live.err != nil || hasScheduled(res.Arrivals)
	res.Debug.ElapsedMs = s.clock.Now().Sub(start).Milliseconds()

	s.countResolve(q.Mode, outcome(res.Arrivals))
	s.countArrivals(q.Mode, res.Arrivals)
	return res, nil
}

func (s *Service) scheduleRequest(q models.Query, family string, now time.Time) schedule.Request {
	req := schedule.Request{
		Family:      family,
		Origin:      q.StopID,
		Destination: q.DestinationStopID,
		After:       now.Add(-s.cfg.ScheduledGrace),
		Limit:       s.cfg.ResultLimit * 3,
	}
	switch {
	case q.Mode == models.ModeFerry:
		if line, ok := s.ferryLine(q.RouteID); ok {
			req.RouteID = line
		}
	case !q.WantsAnyRoute():
		req.RouteID = q.RouteID
	}
	if !q.HasDestination() {
		if d, err := strconv.Atoi(q.Direction); err == nil {
			req.DirectionID = &d
		}
	}
	return req
}

func (s *Service) ferryLine(routeID string) (string, bool) {
	if routeID == "" || routeID == models.AnyRoute || s.topology == nil {
		return "", false
	}
	line, ok := s.topology.Ferry.Lookup(routeID)
	return line.RouteID, ok
}

func (s *Service) fetchAlerts(ctx context.Context, q models.Query, logger *slog.Logger) []models.Alert {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AlertsTimeout)
	defer cancel()
	alerts, err := s.alerts.AlertsForRoute(ctx, q.Mode, q.RouteID)
	if err != nil {
		logger.Debug("alerts unavailable",
			slog.String("mode", string(q.Mode)),
			slog.String("error", err.Error()))
		return nil
	}
	return alerts
}

func (s *Service) liveArrival(ctx context.Context, q models.Query, names string, m matcher.Match, now time.Time) models.Arrival {
	t := m.BoardingTime()
	a := models.Arrival{
		RouteID:      m.RouteID,
		Time:         t,
		MinutesUntil: models.MinutesUntil(t, now.Unix()),
		Destination:  m.Headsign,
		Track:        m.Origin.Track,
		Status:       models.StatusLive,
		SourceTripID: m.TripID,
	}
	if a.RouteID == "" && !q.WantsAnyRoute() {
		a.RouteID = q.RouteID
	}
	if a.Destination == "" && m.TerminalStopID != "" {
		a.Destination = s.stopName(ctx, names, m.TerminalStopID)
	}
	if m.Destination != nil {
		if at, ok := m.Destination.AlightingTime(); ok {
			a.DestinationArrivalTime = &at
		}
	}
	return a
}

func (s *Service) scheduledArrival(ctx context.Context, q models.Query, names string, trip models.ScheduledTrip, now time.Time) models.Arrival {
	t := s.loc.Absolute(trip.ServiceDate, trip.OriginMinutes).Unix()
	a := models.Arrival{
		RouteID:      trip.RouteID,
		Time:         t,
		MinutesUntil: models.MinutesUntil(t, now.Unix()),
		Destination:  trip.Headsign,
		Status:       models.StatusScheduled,
		SourceTripID: trip.TripID,
	}
	if a.Destination == "" && q.HasDestination() {
		a.Destination = s.stopName(ctx, names, q.DestinationStopID)
	}
	if trip.DestMinutes != nil {
		at := s.loc.Absolute(trip.ServiceDate, *trip.DestMinutes).Unix()
		a.DestinationArrivalTime = &at
	}
	return a
}

func (s *Service) stopName(ctx context.Context, family, stopID string) string {
	if family == "" || s.schedule == nil {
		return stopID
	}
	return s.schedule.StopName(ctx, family, stopID)
}

func hasScheduled(arrivals []models.Arrival) bool {
	for _, a := range arrivals {
		if a.Status == models.StatusScheduled {
			return true
		}
	}
	return false
}

func outcome(arrivals []models.Arrival) string {
	var live, sched bool
	for _, a := range arrivals {
		if a.Status == models.StatusLive {
			live = true
		} else {
			sched = true
		}
	}
	switch {
	case live && sched:
		return "hybrid"
	case live:
		return "live"
	case sched:
		return "schedule_only"
	default:
		return "empty"
	}
}
