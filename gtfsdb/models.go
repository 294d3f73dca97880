package gtfsdb

import "database/sql"

type Stop struct {
	StopID string
	Name   sql.NullString
	Lat    sql.NullFloat64
	Lon    sql.NullFloat64
}

type Route struct {
	RouteID   string
	ShortName sql.NullString
	LongName  sql.NullString
}

type Trip struct {
	TripID      string
	RouteID     string
	ServiceID   string
	Headsign    sql.NullString
	DirectionID sql.NullInt64
}

type StopTime struct {
	TripID           string
	StopID           string
	ArrivalMinutes   int64
	DepartureMinutes int64
	Sequence         int64
}

type ServiceDate struct {
	ServiceID string
	Date      int64
}

type ImportMetadata struct {
	FileHash    string
	FileSource  string
	ImportTime  int64
	WindowStart int64
	WindowEnd   int64
}

// NextTripRow is one scheduled departure from an origin stop. DestMinutes is
// only valid for the two-stop query.
type NextTripRow struct {
	TripID        string
	RouteID       string
	Headsign      sql.NullString
	DirectionID   sql.NullInt64
	OriginMinutes int64
	DestMinutes   sql.NullInt64
}
