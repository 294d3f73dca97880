package gtfsdb

import (
	"context"
	"database/sql"
)

const nextTripsToDestination = `
SELECT
    t.trip_id,
    t.route_id,
    t.headsign,
    t.direction_id,
    o.departure_minutes,
    d.arrival_minutes
FROM
    trips t
    JOIN services s ON s.service_id = t.service_id AND s.date = ?1
    JOIN stop_times o ON o.trip_id = t.trip_id AND o.stop_id = ?2
    JOIN stop_times d ON d.trip_id = t.trip_id AND d.stop_id = ?3 AND d.sequence > o.sequence
WHERE
    o.departure_minutes >= ?4
    AND (?5 = '' OR t.route_id = ?5)
ORDER BY
    o.departure_minutes,
    t.trip_id
LIMIT
    ?6
`

type NextTripsToDestinationParams struct {
	ServiceDate  int64
	OriginStopID string
	DestStopID   string
	AfterMinutes int64
	RouteID      string
	Limit        int64
}

func (q *Queries) NextTripsToDestination(ctx context.Context, arg NextTripsToDestinationParams) ([]NextTripRow, error) {
	rows, err := q.db.QueryContext(ctx, nextTripsToDestination,
		arg.ServiceDate,
		arg.OriginStopID,
		arg.DestStopID,
		arg.AfterMinutes,
		arg.RouteID,
		arg.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []NextTripRow
	for rows.Next() {
		var i NextTripRow
		if err := rows.Scan(
			&i.TripID,
			&i.RouteID,
			&i.Headsign,
			&i.DirectionID,
			&i.OriginMinutes,
			&i.DestMinutes,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// A trip whose last stop is the origin cannot be boarded there, hence the EXISTS.
const nextTripsInDirection = `
SELECT
    t.trip_id,
    t.route_id,
    t.headsign,
    t.direction_id,
    o.departure_minutes
FROM
    trips t
    JOIN services s ON s.service_id = t.service_id AND s.date = ?1
    JOIN stop_times o ON o.trip_id = t.trip_id AND o.stop_id = ?2
WHERE
    o.departure_minutes >= ?3
    AND (?4 < 0 OR t.direction_id = ?4)
    AND (?5 = '' OR t.route_id = ?5)
    AND EXISTS (
        SELECT 1 FROM stop_times n
        WHERE n.trip_id = t.trip_id AND n.sequence > o.sequence
    )
ORDER BY
    o.departure_minutes,
    t.trip_id
LIMIT
    ?6
`

type NextTripsInDirectionParams struct {
	ServiceDate  int64
	OriginStopID string
	AfterMinutes int64
	// DirectionID < 0 matches both directions.
	DirectionID int64
	RouteID     string
	Limit       int64
}

func (q *Queries) NextTripsInDirection(ctx context.Context, arg NextTripsInDirectionParams) ([]NextTripRow, error) {
	rows, err := q.db.QueryContext(ctx, nextTripsInDirection,
		arg.ServiceDate,
		arg.OriginStopID,
		arg.AfterMinutes,
		arg.DirectionID,
		arg.RouteID,
		arg.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []NextTripRow
	for rows.Next() {
		var i NextTripRow
		if err := rows.Scan(
			&i.TripID,
			&i.RouteID,
			&i.Headsign,
			&i.DirectionID,
			&i.OriginMinutes,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getStopName = `SELECT name FROM stops WHERE stop_id = ? LIMIT 1`

func (q *Queries) GetStopName(ctx context.Context, stopID string) (sql.NullString, error) {
	var name sql.NullString
	err := q.db.QueryRowContext(ctx, getStopName, stopID).Scan(&name)
	return name, err
}

const getServiceDateRange = `SELECT COALESCE(MIN(date), 0), COALESCE(MAX(date), 0) FROM services`

func (q *Queries) GetServiceDateRange(ctx context.Context) (int64, int64, error) {
	var from, to int64
	err := q.db.QueryRowContext(ctx, getServiceDateRange).Scan(&from, &to)
	return from, to, err
}

const getImportMetadata = `
SELECT file_hash, file_source, import_time, window_start, window_end
FROM import_metadata WHERE id = 1
`

func (q *Queries) GetImportMetadata(ctx context.Context) (ImportMetadata, error) {
	var i ImportMetadata
	err := q.db.QueryRowContext(ctx, getImportMetadata).Scan(
		&i.FileHash,
		&i.FileSource,
		&i.ImportTime,
		&i.WindowStart,
		&i.WindowEnd,
	)
	return i, err
}

const upsertImportMetadata = `
INSERT INTO import_metadata (id, file_hash, file_source, import_time, window_start, window_end)
VALUES (1, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    file_hash = excluded.file_hash,
    file_source = excluded.file_source,
    import_time = excluded.import_time,
    window_start = excluded.window_start,
    window_end = excluded.window_end
`

func (q *Queries) UpsertImportMetadata(ctx context.Context, arg ImportMetadata) error {
	_, err := q.db.ExecContext(ctx, upsertImportMetadata,
		arg.FileHash,
		arg.FileSource,
		arg.ImportTime,
		arg.WindowStart,
		arg.WindowEnd,
	)
	return err
}

const createStop = `INSERT INTO stops (stop_id, name, lat, lon) VALUES (?, ?, ?, ?)`

func (q *Queries) CreateStop(ctx context.Context, arg Stop) error {
	_, err := q.db.ExecContext(ctx, createStop, arg.StopID, arg.Name, arg.Lat, arg.Lon)
	return err
}

const createRoute = `INSERT INTO routes (route_id, short_name, long_name) VALUES (?, ?, ?)`

func (q *Queries) CreateRoute(ctx context.Context, arg Route) error {
	_, err := q.db.ExecContext(ctx, createRoute, arg.RouteID, arg.ShortName, arg.LongName)
	return err
}

const createTrip = `
INSERT INTO trips (trip_id, route_id, service_id, headsign, direction_id)
VALUES (?, ?, ?, ?, ?)
`

func (q *Queries) CreateTrip(ctx context.Context, arg Trip) error {
	_, err := q.db.ExecContext(ctx, createTrip, arg.TripID, arg.RouteID, arg.ServiceID, arg.Headsign, arg.DirectionID)
	return err
}

const createServiceDate = `INSERT OR IGNORE INTO services (service_id, date) VALUES (?, ?)`

func (q *Queries) CreateServiceDate(ctx context.Context, arg ServiceDate) error {
	_, err := q.db.ExecContext(ctx, createServiceDate, arg.ServiceID, arg.Date)
	return err
}

const createStopTime = `
INSERT INTO stop_times (trip_id, stop_id, arrival_minutes, departure_minutes, sequence)
VALUES (?, ?, ?, ?, ?)
`

func (q *Queries) CreateStopTime(ctx context.Context, arg StopTime) error {
	_, err := q.db.ExecContext(ctx, createStopTime, arg.TripID, arg.StopID, arg.ArrivalMinutes, arg.DepartureMinutes, arg.Sequence)
	return err
}

// ClearAll empties every data table, children first.
func (q *Queries) ClearAll(ctx context.Context) error {
	for _, table := range []string{"stop_times", "trips", "services", "routes", "stops"} {
		if _, err := q.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}
