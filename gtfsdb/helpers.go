package gtfsdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/OneBusAway/go-gtfs"

	"tripcards.app/internal/appconf"
	"tripcards.app/internal/logging"
)

//go:embed schema.sql
var ddl string

func createDB(config Config) (*sql.DB, error) {
	if config.Env == appconf.Test && config.DBPath != ":memory:" && !strings.HasPrefix(config.DBPath, "file:") && !isTempPath(config.DBPath) {
		return nil, fmt.Errorf("test database must use in-memory or temporary storage, got path: %s", config.DBPath)
	}

	db, err := sql.Open("sqlite3", config.DBPath)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := configureSQLitePerformance(ctx, db); err != nil {
		return nil, fmt.Errorf("error configuring SQLite performance: %w", err)
	}
	if err := performDatabaseMigration(ctx, db); err != nil {
		return nil, fmt.Errorf("error performing database migration: %w", err)
	}

	// Each :memory: connection is its own database.
	if config.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

func configureSQLitePerformance(ctx context.Context, db *sql.DB) error {
	// Snapshots must stay single-file for read-only opens, so no WAL.
	for _, pragma := range []string{
		"PRAGMA journal_mode=DELETE",
		"PRAGMA synchronous=OFF",
		"PRAGMA temp_store=MEMORY",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

func performDatabaseMigration(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(ddl, "-- migrate") {
		trimmed := strings.TrimSpace(stmt)
		if trimmed == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, trimmed); err != nil {
			return fmt.Errorf("error executing DDL statement [%s]: %w", trimmed, err)
		}
	}
	return nil
}

// ImportOptions bounds the snapshot to a rolling window of service dates.
type ImportOptions struct {
	// WindowStart is the first service date kept, as a local calendar day.
	WindowStart time.Time
	// Days is the window length; zero means 30.
	Days int
}

func (o ImportOptions) dates() []time.Time {
	days := o.Days
	if days <= 0 {
		days = 30
	}
	start := o.WindowStart
	if start.IsZero() {
		start = time.Now()
	}
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, days)
	for i := range out {
		out[i] = start.AddDate(0, 0, i)
	}
	return out
}

func dateInt(t time.Time) int64 {
	return int64(t.Year()*10000 + int(t.Month())*100 + t.Day())
}

func (c *Client) importBytes(ctx context.Context, b []byte, source string, opts ImportOptions) error {
	logger := logging.Component(c.logger, "gtfs_importer")

	start := time.Now()
	defer func() {
		c.importRuntime = time.Since(start)
		logging.LogOperation(logger, "gtfs_data_import_completed",
			slog.Duration("duration", c.importRuntime),
			slog.String("source", source))
	}()

	hash := sha256.Sum256(b)
	hashStr := hex.EncodeToString(hash[:])
	window := opts.dates()
	windowStart, windowEnd := dateInt(window[0]), dateInt(window[len(window)-1])

	existing, err := c.Queries.GetImportMetadata(ctx)
	switch {
	case err == nil:
		if existing.FileHash == hashStr && existing.WindowStart == windowStart && existing.WindowEnd == windowEnd {
			logging.LogOperation(logger, "gtfs_data_unchanged_skipping_import",
				slog.String("hash", hashStr[:8]))
			return nil
		}
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("error checking import metadata: %w", err)
	}

	static, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return fmt.Errorf("parsing static feed: %w", err)
	}
	logging.LogOperation(logger, "static_feed_parsed",
		slog.Int("warnings", len(static.Warnings)),
		slog.Int("routes", len(static.Routes)),
		slog.Int("stops", len(static.Stops)),
		slog.Int("trips", len(static.Trips)))

	activeDates := make(map[string][]int64)
	for i := range static.Services {
		svc := &static.Services[i]
		if dates := serviceDates(svc, window); len(dates) > 0 {
			activeDates[svc.Id] = dates
		}
	}

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer logging.SafeRollbackWithLogging(tx, logger, "snapshot_import")
	qtx := c.Queries.WithTx(tx)

	if err := qtx.ClearAll(ctx); err != nil {
		return fmt.Errorf("error clearing existing data: %w", err)
	}

	for _, s := range static.Stops {
		row := Stop{StopID: s.Id, Name: toNullString(s.Name)}
		if s.Latitude != nil && s.Longitude != nil {
			row.Lat = sql.NullFloat64{Float64: *s.Latitude, Valid: true}
			row.Lon = sql.NullFloat64{Float64: *s.Longitude, Valid: true}
		}
		if err := qtx.CreateStop(ctx, row); err != nil {
			return fmt.Errorf("unable to create stop %s: %w", s.Id, err)
		}
	}

	for _, r := range static.Routes {
		if err := qtx.CreateRoute(ctx, Route{
			RouteID:   r.Id,
			ShortName: toNullString(r.ShortName),
			LongName:  toNullString(r.LongName),
		}); err != nil {
			return fmt.Errorf("unable to create route %s: %w", r.Id, err)
		}
	}

	for serviceID, dates := range activeDates {
		for _, d := range dates {
			if err := qtx.CreateServiceDate(ctx, ServiceDate{ServiceID: serviceID, Date: d}); err != nil {
				return fmt.Errorf("unable to create service date: %w", err)
			}
		}
	}

	var stopTimes []StopTime
	kept := 0
	for _, t := range static.Trips {
		if t.Service == nil || t.Route == nil {
			continue
		}
		if _, ok := activeDates[t.Service.Id]; !ok {
			continue
		}
		kept++
		if err := qtx.CreateTrip(ctx, Trip{
			TripID:      t.ID,
			RouteID:     t.Route.Id,
			ServiceID:   t.Service.Id,
			Headsign:    toNullString(t.Headsign),
			DirectionID: sql.NullInt64{Int64: directionID(t.DirectionId), Valid: true},
		}); err != nil {
			return fmt.Errorf("unable to create trip %s: %w", t.ID, err)
		}
		for _, st := range t.StopTimes {
			if st.Stop == nil {
				continue
			}
			stopTimes = append(stopTimes, StopTime{
				TripID:           t.ID,
				StopID:           st.Stop.Id,
				ArrivalMinutes:   int64(st.ArrivalTime / time.Minute),
				DepartureMinutes: int64(st.DepartureTime / time.Minute),
				Sequence:         int64(st.StopSequence),
			})
		}
	}

	if err := c.bulkInsertStopTimes(ctx, tx, stopTimes); err != nil {
		return fmt.Errorf("unable to create stop times: %w", err)
	}

	if err := qtx.UpsertImportMetadata(ctx, ImportMetadata{
		FileHash:    hashStr,
		FileSource:  source,
		ImportTime:  time.Now().Unix(),
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}); err != nil {
		return fmt.Errorf("error updating import metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logging.LogOperation(logger, "snapshot_pruned",
		slog.Int("trips_kept", kept),
		slog.Int("trips_dropped", len(static.Trips)-kept),
		slog.Int64("window_start", windowStart),
		slog.Int64("window_end", windowEnd))
	return nil
}

// serviceDates lists the window days on which svc runs, applying its
// calendar and its added and removed exceptions.
func serviceDates(svc *gtfs.Service, window []time.Time) []int64 {
	added := make(map[int64]bool, len(svc.AddedDates))
	for _, d := range svc.AddedDates {
		added[dateInt(d)] = true
	}
	removed := make(map[int64]bool, len(svc.RemovedDates))
	for _, d := range svc.RemovedDates {
		removed[dateInt(d)] = true
	}
	start, end := dateInt(svc.StartDate), dateInt(svc.EndDate)

	var out []int64
	for _, day := range window {
		d := dateInt(day)
		runs := added[d]
		if !runs && !removed[d] && d >= start && d <= end {
			runs = runsOnWeekday(svc, day.Weekday())
		}
		if runs {
			out = append(out, d)
		}
	}
	return out
}

func runsOnWeekday(svc *gtfs.Service, w time.Weekday) bool {
	switch w {
	case time.Monday:
		return svc.Monday
	case time.Tuesday:
		return svc.Tuesday
	case time.Wednesday:
		return svc.Wednesday
	case time.Thursday:
		return svc.Thursday
	case time.Friday:
		return svc.Friday
	case time.Saturday:
		return svc.Saturday
	default:
		return svc.Sunday
	}
}

// directionID maps go-gtfs's encoding (unspecified=0, true=1, false=2) onto
// the GTFS direction_id column value.
func directionID(d gtfs.DirectionID) int64 {
	if d == 1 {
		return 1
	}
	return 0
}

func (c *Client) bulkInsertStopTimes(ctx context.Context, tx *sql.Tx, stopTimes []StopTime) error {
	logger := logging.Component(c.logger, "bulk_insert")
	logging.LogOperation(logger, "inserting_stop_times", slog.Int("count", len(stopTimes)))

	const baseQuery = `INSERT INTO stop_times (trip_id, stop_id, arrival_minutes, departure_minutes, sequence) VALUES `
	batchSize := c.config.batchSize()

	for start := 0; start < len(stopTimes); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize, len(stopTimes))
		batch := stopTimes[start:end]

		// Values are always bound through placeholders.
		var query strings.Builder
		query.WriteString(baseQuery)
		args := make([]interface{}, 0, len(batch)*5)
		for j, st := range batch {
			if j > 0 {
				query.WriteString(", ")
			}
			query.WriteString("(?, ?, ?, ?, ?)")
			args = append(args, st.TripID, st.StopID, st.ArrivalMinutes, st.DepartureMinutes, st.Sequence)
		}
		if _, err := tx.ExecContext(ctx, query.String(), args...); err != nil {
			return err
		}
	}

	logging.LogOperation(logger, "stop_times_inserted", slog.Int("count", len(stopTimes)))
	return nil
}

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isTempPath(path string) bool {
	return strings.HasPrefix(path, os.TempDir())
}
