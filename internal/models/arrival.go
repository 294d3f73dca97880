package models

import (
	"fmt"
	"math"
)

type Status string

const (
	StatusLive      Status = "live"
	StatusScheduled Status = "scheduled"
)

// Arrival is one row of output. Merge steps replace values, they never patch them.
type Arrival struct {
	RouteID                string `json:"routeId"`
	Time                   int64  `json:"time"`
	DestinationArrivalTime *int64 `json:"destinationArrivalTime,omitempty"`
	MinutesUntil           int    `json:"minutesUntil"`
	Destination            string `json:"destination"`
	Track                  string `json:"track,omitempty"`
	Status                 Status `json:"status"`
	SourceTripID           string `json:"sourceTripId,omitempty"`
}

// MinutesUntil rounds down and never goes negative.
func MinutesUntil(t, now int64) int {
	if t <= now {
		return 0
	}
	return int(math.Floor(float64(t-now) / 60))
}

// ETALabel renders an arrival for the compact batch response.
func (a Arrival) ETALabel() string {
	if a.MinutesUntil <= 0 {
		return "Now"
	}
	return fmt.Sprintf("%d min", a.MinutesUntil)
}

// ScheduledTrip is one timetable row read from a snapshot. Minutes count from
// midnight of ServiceDate and may exceed 1440 for after-midnight trips.
type ScheduledTrip struct {
	TripID        string
	RouteID       string
	Headsign      string
	DirectionID   int
	OriginMinutes int
	DestMinutes   *int
	ServiceDate   int
}

type Alert struct {
	Header string `json:"header"`
}
