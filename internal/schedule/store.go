// Package schedule answers "what is scheduled next" from the per-family
// timetable snapshots, degrading to the embedded static timetable whenever a
// snapshot cannot be read. It never returns an error to its callers.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"tripcards.app/gtfsdb"
	"tripcards.app/internal/appconf"
	"tripcards.app/internal/cache"
	"tripcards.app/internal/clock"
	"tripcards.app/internal/logging"
	"tripcards.app/internal/metrics"
	"tripcards.app/internal/models"
	"tripcards.app/internal/timeloc"
	"tripcards.app/internal/topology"
)

// Schedule families. Only the first three have snapshots; NJ Transit rail is
// served from the static table alone.
const (
	FamilySubway = "subway"
	FamilyRail   = "rail"
	FamilyFerry  = "ferry"
	FamilyNJRail = "njt-rail"
)

const defaultLimit = 3

// Within this many minutes of midnight the next service day is queried too.
const nextDayLookahead = 3 * 60

type Store struct {
	snapshots map[string]*gtfsdb.Client
	// openErrs remembers why a configured snapshot is missing.
	openErrs map[string]error
	static   *topology.Timetable
	loc      timeloc.Localizer
	names    *cache.TTLStore[string]
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Config struct {
	// Snapshots maps family to snapshot path.
	Snapshots  map[string]string
	ScratchDir string
	Env        appconf.Environment
	Verbose    bool
}

// Open opens every configured snapshot. A snapshot that cannot be opened is
// logged and its family served from the static table.
func Open(ctx context.Context, cfg Config, static *topology.Timetable, loc timeloc.Localizer, m *metrics.Metrics, logger *slog.Logger) *Store {
	logger = logging.Component(logger, "schedule_store")
	snapshots := make(map[string]*gtfsdb.Client, len(cfg.Snapshots))
	openErrs := make(map[string]error)

	for family, path := range cfg.Snapshots {
		client, err := gtfsdb.OpenSnapshot(ctx, gtfsdb.Config{
			DBPath:     path,
			ScratchDir: cfg.ScratchDir,
			Env:        cfg.Env,
			Verbose:    cfg.Verbose,
		})
		if err != nil {
			openErrs[family] = err
			logging.LogError(logger, "snapshot unavailable, using static timetable", err,
				slog.String("family", family),
				slog.String("path", path))
			continue
		}
		snapshots[family] = client
	}

	s := NewStore(snapshots, static, loc, m, logger)
	s.openErrs = openErrs
	return s
}

// NewStore wraps already opened snapshots.
func NewStore(snapshots map[string]*gtfsdb.Client, static *topology.Timetable, loc timeloc.Localizer, m *metrics.Metrics, logger *slog.Logger) *Store {
	if snapshots == nil {
		snapshots = map[string]*gtfsdb.Client{}
	}
	for family, client := range snapshots {
		if m != nil {
			m.TrackSnapshot(family, client.DB)
		}
	}
	return &Store{
		snapshots: snapshots,
		openErrs:  map[string]error{},
		static:    static,
		loc:       loc,
		names:     cache.NewTTLStore[string]("stop_names", 4096, time.Hour, clock.RealClock{}, m),
		metrics:   m,
		logger:    logging.Component(logger, "schedule_store"),
	}
}

// Request asks for departures from Origin at or after After.
type Request struct {
	Family string
	Origin string
	// Destination, when set, restricts to trips reaching it after Origin.
	Destination string
	RouteID     string
	// DirectionID filters the origin-only query.
	DirectionID *int
	After       time.Time
	Limit       int
}

// Answer is the departures found, in departure order.
type Answer struct {
	Trips []models.ScheduledTrip
	// Static is set when the embedded timetable answered.
	Static bool
}

// NextTrips returns scheduled departures. Trips of the previous service day
// still running after midnight are included with minutes past 1440; close to
// midnight the first trips of the next service day are included as well.
func (s *Store) NextTrips(ctx context.Context, req Request) Answer {
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	date, minutes := s.loc.Civil(req.After)

	client, ok := s.snapshots[req.Family]
	if !ok {
		return s.fallback(req, date, minutes, s.openErrs[req.Family])
	}

	today, err := s.query(ctx, client, req, date, minutes)
	if err != nil {
		return s.fallback(req, date, minutes, err)
	}
	yesterday, err := s.query(ctx, client, req, timeloc.PreviousDate(date), minutes+24*60)
	if err != nil {
		return s.fallback(req, date, minutes, err)
	}

	trips := append(yesterday, today...)
	if minutes >= 24*60-nextDayLookahead {
		tomorrow, err := s.query(ctx, client, req, timeloc.AddDays(date, 1), 0)
		if err != nil {
			return s.fallback(req, date, minutes, err)
		}
		trips = append(trips, tomorrow...)
	}
	sortByDeparture(trips, date)
	if len(trips) > req.Limit {
		trips = trips[:req.Limit]
	}
	return Answer{Trips: trips}
}

func (s *Store) query(ctx context.Context, client *gtfsdb.Client, req Request, date, after int) ([]models.ScheduledTrip, error) {
	var rows []gtfsdb.NextTripRow
	var err error
	if req.Destination != "" {
		rows, err = client.Queries.NextTripsToDestination(ctx, gtfsdb.NextTripsToDestinationParams{
			ServiceDate:  int64(date),
			OriginStopID: req.Origin,
			DestStopID:   req.Destination,
			AfterMinutes: int64(after),
			RouteID:      req.RouteID,
			Limit:        int64(req.Limit),
		})
	} else {
		direction := int64(-1)
		if req.DirectionID != nil {
			direction = int64(*req.DirectionID)
		}
		rows, err = client.Queries.NextTripsInDirection(ctx, gtfsdb.NextTripsInDirectionParams{
			ServiceDate:  int64(date),
			OriginStopID: req.Origin,
			AfterMinutes: int64(after),
			DirectionID:  direction,
			RouteID:      req.RouteID,
			Limit:        int64(req.Limit),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", gtfsdb.ErrSnapshotUnavailable, req.Family, err)
	}

	trips := make([]models.ScheduledTrip, 0, len(rows))
	for _, row := range rows {
		trip := models.ScheduledTrip{
			TripID:        row.TripID,
			RouteID:       row.RouteID,
			Headsign:      row.Headsign.String,
			DirectionID:   int(row.DirectionID.Int64),
			OriginMinutes: int(row.OriginMinutes),
			ServiceDate:   date,
		}
		if row.DestMinutes.Valid {
			dest := int(row.DestMinutes.Int64)
			trip.DestMinutes = &dest
		}
		trips = append(trips, trip)
	}
	return trips, nil
}

func (s *Store) fallback(req Request, date, minutes int, cause error) Answer {
	if s.metrics != nil {
		s.metrics.ScheduleFallbackTotal.WithLabelValues(req.Family).Inc()
	}
	if cause != nil && !errors.Is(cause, context.Canceled) {
		s.logger.Warn("schedule fallback",
			slog.String("family", req.Family),
			slog.String("origin", req.Origin),
			slog.String("error", cause.Error()))
	}
	if s.static == nil {
		return Answer{Static: true}
	}

	var trips []models.ScheduledTrip
	for _, trip := range s.staticDay(req, date) {
		if trip.OriginMinutes < minutes {
			continue
		}
		trips = append(trips, trip)
	}
	if len(trips) < req.Limit && minutes >= 24*60-nextDayLookahead {
		trips = append(trips, s.staticDay(req, timeloc.AddDays(date, 1))...)
	}
	if len(trips) > req.Limit {
		trips = trips[:req.Limit]
	}
	return Answer{Trips: trips, Static: true}
}

func (s *Store) staticDay(req Request, date int) []models.ScheduledTrip {
	y, m, d := timeloc.SplitDate(date)
	return s.static.Departures(topology.TimetableQuery{
		Family:      req.Family,
		Origin:      req.Origin,
		Destination: req.Destination,
		ServiceDate: date,
		Weekday:     time.Date(y, time.Month(m), d, 12, 0, 0, 0, time.UTC).Weekday(),
		DirectionID: req.DirectionID,
		RouteID:     req.RouteID,
	})
}

// sortByDeparture orders trips from the previous, current and next service
// day on one clock.
func sortByDeparture(trips []models.ScheduledTrip, today int) {
	tomorrow := timeloc.AddDays(today, 1)
	key := func(t models.ScheduledTrip) int {
		switch t.ServiceDate {
		case today:
			return t.OriginMinutes
		case tomorrow:
			return t.OriginMinutes + 24*60
		default:
			return t.OriginMinutes - 24*60
		}
	}
	sort.SliceStable(trips, func(i, j int) bool {
		if ki, kj := key(trips[i]), key(trips[j]); ki != kj {
			return ki < kj
		}
		return trips[i].TripID < trips[j].TripID
	})
}

// StopName looks a stop's display name up in the family snapshot, falling
// back to the id.
func (s *Store) StopName(ctx context.Context, family, stopID string) string {
	if stopID == "" {
		return ""
	}
	key := family + "/" + stopID
	if name, ok := s.names.Get(key); ok {
		return name
	}
	client, ok := s.snapshots[family]
	if !ok {
		return stopID
	}
	name, err := client.Queries.GetStopName(ctx, stopID)
	if err != nil || !name.Valid || name.String == "" {
		return stopID
	}
	s.names.Set(key, name.String)
	return name.String
}

// HasSnapshot reports whether family is served from a snapshot.
func (s *Store) HasSnapshot(family string) bool {
	_, ok := s.snapshots[family]
	return ok
}

// Ping checks every open snapshot and reports configured ones that failed to open.
func (s *Store) Ping(ctx context.Context) map[string]error {
	out := make(map[string]error, len(s.snapshots)+len(s.openErrs))
	for family, client := range s.snapshots {
		out[family] = client.Ping(ctx)
	}
	for family, err := range s.openErrs {
		out[family] = err
	}
	return out
}

// Snapshots describes each configured snapshot for the config endpoint.
func (s *Store) Snapshots(ctx context.Context) []models.SnapshotInfo {
	var out []models.SnapshotInfo
	for family, client := range s.snapshots {
		info := models.SnapshotInfo{Family: family, Available: true}
		if from, to, err := client.Queries.GetServiceDateRange(ctx); err == nil && from > 0 {
			info.ServiceDateFrom = strconv.FormatInt(from, 10)
			info.ServiceDateTo = strconv.FormatInt(to, 10)
		}
		out = append(out, info)
	}
	for family := range s.openErrs {
		out = append(out, models.SnapshotInfo{Family: family})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Family < out[j].Family })
	return out
}

func (s *Store) Close() error {
	var errs []error
	for _, client := range s.snapshots {
		if err := client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
